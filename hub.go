package signalr

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

//HubConnection a Connection multiplexing named hubs.  Proxies must be created before Start.
type HubConnection struct {
	Connection

	conn *client

	hubsMutex sync.RWMutex
	//keyed by lower cased hub name
	hubs map[string]*HubProxy
}

//NewHubConnection a hub connection to the signalr endpoint under c.ConnectionURL.
func NewHubConnection(c Config) *HubConnection {
	c.ConnectionURL.Path = strings.TrimSuffix(c.ConnectionURL.Path, "/") + "/" + signalRPath

	hc := &HubConnection{
		hubs: map[string]*HubProxy{},
	}
	hc.conn = newClient(c, hc)
	hc.Connection = hc.conn

	return hc
}

//CreateProxy returns the proxy for hubName, creating it on first use.  Only legal while Disconnected.
func (hc *HubConnection) CreateProxy(hubName string) (*HubProxy, error) {
	if hc.State() != Disconnected {
		return nil, InvalidOperationError("A HubProxy cannot be added after the connection has been started.")
	}
	if hubName == "" {
		return nil, InvalidOperationError("Hub name is empty.")
	}

	hc.hubsMutex.Lock()
	defer hc.hubsMutex.Unlock()

	key := strings.ToLower(hubName)
	if proxy, ok := hc.hubs[key]; ok {
		return proxy, nil
	}

	proxy := newHubProxy(hc.conn, hubName)
	hc.hubs[key] = proxy

	glog.V(2).Infof("[hub]%s proxy %s\n", hc.conn.id, hubName)

	return proxy, nil
}

//Proxy the proxy registered for hubName, if any.
func (hc *HubConnection) Proxy(hubName string) (*HubProxy, bool) {
	hc.hubsMutex.RLock()
	defer hc.hubsMutex.RUnlock()

	proxy, ok := hc.hubs[strings.ToLower(hubName)]
	return proxy, ok
}

func (hc *HubConnection) proxies() []*HubProxy {
	hc.hubsMutex.RLock()
	defer hc.hubsMutex.RUnlock()

	return maps.Values(hc.hubs)
}

//onSending connection data: [{"Name":"<hub>"}, ...] ordered by name.
func (hc *HubConnection) onSending() string {
	proxies := hc.proxies()

	names := make([]string, len(proxies))
	for i, proxy := range proxies {
		names[i] = proxy.name
	}
	slices.Sort(names)

	return castHubNamesToString(names)
}

//onReceived dispatches a push frame to its hub.  Runs on the driver.
func (hc *HubConnection) onReceived(message []byte) {
	var payload MessageDataPayload
	if err := json.Unmarshal(message, &payload); err != nil {
		hc.conn.onError(HubMessageError(fmt.Sprintf("Unable to unmarshal message data: %s", err.Error())))
		return
	}
	if payload.HubName == "" {
		return
	}

	proxy, ok := hc.Proxy(payload.HubName)
	if !ok {
		glog.V(2).Infof("[hub]%s push for unknown hub %s\n", hc.conn.id, payload.HubName)
		return
	}

	proxy.mergeState(payload.State)
	proxy.invokeEvent(payload.Method, payload.Arguments)
}

//onClosed resolves every pending invocation of every hub.
func (hc *HubConnection) onClosed() {
	for _, proxy := range hc.proxies() {
		proxy.clearPending(errDisconnected)
	}
}
