package signalr

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"gitlab.com/techviking/signalr/v3/future"
)

//default values for configuartion
const (
	defaultScheme  string = "https"
	signalRPath    string = "signalr"
	clientProtocol string = "1.2"
	clientName     string = "SignalR.Client"
	clientVersion  string = "3.0.0"
)

//extension bag keys
const (
	httpRequestKey string = "http.Request"
	sseReaderKey   string = "sse.reader"
	webSocketKey   string = "ws.conn"
)

//Config define options required for connecting to a signalr endpoint.
type Config struct {
	//Client allows the consumer to override the default http client as needed. (Cloudflare issues anyone?)
	//Set Client.Jar to carry cookies.
	Client *http.Client

	//URL for the signalr endpoint.  uses url.URL package to ensure valid url is used.  Must not carry a query string.
	ConnectionURL url.URL `json:"url"`

	//QueryString custom parameters appended to every request.
	QueryString map[string]string `json:"query_string,omitempty"`

	// RequestHeaders additional header parameters to add to every HTTP request.
	RequestHeaders http.Header `json:"request_headers,omitempty"`

	//BearerToken JWT sent in the Authorization header.
	BearerToken string `json:"-"`

	//UserAgent defaults to "SignalR.Client/<version> (<os>)"
	UserAgent string `json:"user_agent,omitempty"`

	//TryWebSockets lets the default transport try websockets first when the server allows it.
	TryWebSockets bool `json:"try_websockets,omitempty"`

	//Transport defaults to an AutoTransport.
	Transport Transport `json:"-"`

	//HTTPClient overrides the HTTP capability built from Client.
	HTTPClient HTTPClient `json:"-"`

	//Scheduler runs every continuation and callback of the connection.  Defaults to a
	//future.Queue drained by a dedicated goroutine that Close ends.
	Scheduler future.Scheduler `json:"-"`
}

//extension hooks a layer above the bare connection supplies.
type extension interface {
	onReceived(message []byte)
	onSending() string
	onClosed()
}

//client implemntation of Connection interface.
type client struct {
	//persist sanitized config
	config Config
	//instance id, used to tag log lines
	id          ulid.ULID
	url         string
	queryString string
	configErr   error
	token       *bearerToken

	sched     future.Scheduler
	http      HTTPClient
	ext       extension
	transport Transport

	//mutex to make start and stop mutually exclusive
	startMutex  sync.Mutex
	connectTask *future.Future[struct{}]

	//store current state of connection
	state ConnectionState
	//mutex to make changes to state threadsafe
	stateMutex sync.RWMutex

	identityMutex   sync.RWMutex
	connectionID    string
	connectionToken string
	groupsToken     string
	messageID       string
	groups          []string
	negotiation     *NegotiationResponse

	//canceled on disconnect. transports loop only while it is live.
	runMutex  sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	itemsMutex sync.Mutex
	items      map[string]interface{}

	//set only when the client drives its own default queue
	stopDriver context.CancelFunc
	driverDone chan struct{}
	closeOnce  sync.Once

	active        atomic.Bool
	lastHeartbeat atomic.Int64

	receivedCallbacks     callbackList[func(string)]
	errorCallbacks        callbackList[func(error)]
	closedCallbacks       callbackList[func()]
	reconnectedCallbacks  callbackList[func()]
	stateChangedCallbacks callbackList[func(StateChange)]
	heartbeatCallbacks    callbackList[func(Heartbeat)]
}

//New generates a new client based on user data.  Specifying an invalid url will not fail until the connection steps.
func New(c Config) Connection {
	return newClient(c, nil)
}

func newClient(c Config, ext extension) *client {
	if c.Client == nil {
		c.Client = defaultClient()
	}

	if c.UserAgent == "" {
		c.UserAgent = fmt.Sprintf("%s/%s (%s)", clientName, clientVersion, runtime.GOOS)
	}

	var stopDriver context.CancelFunc
	var driverDone chan struct{}
	if c.Scheduler == nil {
		q := future.NewQueue()
		var ctx context.Context
		ctx, stopDriver = context.WithCancel(context.Background())
		driverDone = make(chan struct{})
		go func() {
			defer close(driverDone)
			q.Run(ctx)
		}()
		c.Scheduler = q
	}

	if c.HTTPClient == nil {
		c.HTTPClient = NewHTTPClient(c.Scheduler, c.Client)
	}

	if c.Transport == nil {
		if c.TryWebSockets {
			c.Transport = NewAutoTransport(NewWebSocketsTransport(), NewServerSentEventsTransport(), NewLongPollingTransport())
		} else {
			c.Transport = NewAutoTransport()
		}
	}

	new := &client{
		config:      c,
		id:          ulid.Make(),
		queryString: encodeQueryString(c.QueryString),
		sched:       c.Scheduler,
		http:        c.HTTPClient,
		ext:         ext,
		transport:   c.Transport,
		state:       Disconnected,
		items:       map[string]interface{}{},
		stopDriver:  stopDriver,
		driverDone:  driverDone,
	}

	new.url, new.configErr = baseURL(c.ConnectionURL)

	if c.BearerToken != "" && new.configErr == nil {
		new.token, new.configErr = parseBearerToken(c.BearerToken)
	}

	glog.V(2).Infof("[c]%s new connection to %s\n", new.id, new.url)

	return new
}

func baseURL(u url.URL) (string, error) {
	if u.Scheme == "" {
		u.Scheme = defaultScheme
	}
	if u.Host == "" {
		return "", ConnectError("connection url has no host")
	}
	if u.RawQuery != "" || u.ForceQuery {
		return "", ConnectError("Url cannot contain QueryString directly. Pass QueryString values in using Config.QueryString.")
	}
	u.Fragment = ""
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String(), nil
}

func encodeQueryString(query map[string]string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = url.QueryEscape(k) + "=" + url.QueryEscape(query[k])
	}
	return strings.Join(parts, "&")
}

func (c *client) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()

	return c.state
}

func (c *client) ChangeState(oldState ConnectionState, newState ConnectionState) bool {
	c.stateMutex.Lock()
	if c.state != oldState {
		c.stateMutex.Unlock()
		return false
	}
	c.state = newState
	c.stateMutex.Unlock()

	glog.V(1).Infof("[c]%s ChangeState(%s, %s)\n", c.id, oldState, newState)
	c.notifyStateChanged(StateChange{OldState: oldState, NewState: newState})
	return true
}

func (c *client) notifyStateChanged(change StateChange) {
	c.sched.Post(func() {
		for _, callback := range c.stateChangedCallbacks.get() {
			callback(change)
		}
	})
}

func (c *client) URL() string {
	return c.url
}

func (c *client) QueryString() string {
	return c.queryString
}

func (c *client) Transport() Transport {
	return c.transport
}

func (c *client) Scheduler() future.Scheduler {
	return c.sched
}

func (c *client) IsActive() bool {
	return c.active.Load()
}

//whenStarted runs fn on the driver once the pending Start has settled.  ok reports whether it succeeded.
//Transports hold back their receive loops with it so nothing is dispatched before Connected.
func (c *client) whenStarted(fn func(ok bool)) {
	c.startMutex.Lock()
	task := c.connectTask
	c.startMutex.Unlock()

	if task == nil {
		c.sched.Post(func() { fn(false) })
		return
	}
	task.OnComplete(func(started *future.Future[struct{}]) {
		fn(started.Err() == nil)
	})
}

//runContext the context of the current run, done once the connection disconnects.
func (c *client) runContext() context.Context {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.runCtx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.runCtx
}

func (c *client) beginRun() context.Context {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	return c.runCtx
}

func (c *client) endRun() {
	c.runMutex.Lock()
	defer c.runMutex.Unlock()
	if c.runCancel != nil {
		c.runCancel()
	}
}

func (c *client) ConnectionID() string {
	c.identityMutex.RLock()
	defer c.identityMutex.RUnlock()
	return c.connectionID
}

func (c *client) ConnectionToken() string {
	c.identityMutex.RLock()
	defer c.identityMutex.RUnlock()
	return c.connectionToken
}

func (c *client) GroupsToken() string {
	c.identityMutex.RLock()
	defer c.identityMutex.RUnlock()
	return c.groupsToken
}

func (c *client) MessageID() string {
	c.identityMutex.RLock()
	defer c.identityMutex.RUnlock()
	return c.messageID
}

func (c *client) Groups() []string {
	c.identityMutex.RLock()
	defer c.identityMutex.RUnlock()
	return append([]string(nil), c.groups...)
}

//SetGroups replaces the group list sent with the next receive request.
func (c *client) SetGroups(groups []string) {
	c.identityMutex.Lock()
	defer c.identityMutex.Unlock()
	c.groups = append([]string(nil), groups...)
}

func (c *client) negotiationResponse() *NegotiationResponse {
	c.identityMutex.RLock()
	defer c.identityMutex.RUnlock()
	return c.negotiation
}

func (c *client) setIdentity(resp *NegotiationResponse) {
	c.identityMutex.Lock()
	defer c.identityMutex.Unlock()
	c.connectionID = resp.ConnectionID
	c.connectionToken = resp.ConnectionToken
	c.negotiation = resp
}

func (c *client) clearIdentity() {
	c.identityMutex.Lock()
	defer c.identityMutex.Unlock()
	c.connectionID = ""
	c.connectionToken = ""
	c.groupsToken = ""
	c.messageID = ""
	c.negotiation = nil
}

func (c *client) setGroupsToken(token string) {
	c.identityMutex.Lock()
	defer c.identityMutex.Unlock()
	c.groupsToken = token
}

//setMessageID moves the cursor. Numeric cursors never move backwards.
func (c *client) setMessageID(messageID string) {
	c.identityMutex.Lock()
	defer c.identityMutex.Unlock()

	if cursorBefore(messageID, c.messageID) {
		glog.Infof("[c]%s cursor regression %s -> %s ignored\n", c.id, c.messageID, messageID)
		return
	}
	c.messageID = messageID
}

func (c *client) item(key string) (interface{}, bool) {
	c.itemsMutex.Lock()
	defer c.itemsMutex.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *client) setItem(key string, value interface{}) {
	c.itemsMutex.Lock()
	defer c.itemsMutex.Unlock()
	c.items[key] = value
}

func (c *client) removeItem(key string) {
	c.itemsMutex.Lock()
	defer c.itemsMutex.Unlock()
	delete(c.items, key)
}

//itemValue typed read from the extension bag.
func itemValue[T any](c *client, key string) (T, bool) {
	var zero T
	v, ok := c.item(key)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

//prepareRequest decorates every outgoing HTTP request.
func (c *client) prepareRequest(r Request) {
	header := r.Header()
	header.Set("User-Agent", c.config.UserAgent)
	for k, values := range c.config.RequestHeaders {
		for _, val := range values {
			header.Add(k, val)
		}
	}
	if c.token != nil {
		c.token.decorate(c, header)
	}
}

func (c *client) OnReceived(callback func(message string)) func() {
	return c.receivedCallbacks.add(callback)
}

func (c *client) OnError(callback func(err error)) func() {
	return c.errorCallbacks.add(callback)
}

func (c *client) OnClosed(callback func()) func() {
	return c.closedCallbacks.add(callback)
}

func (c *client) OnReconnected(callback func()) func() {
	return c.reconnectedCallbacks.add(callback)
}

func (c *client) OnStateChanged(callback func(change StateChange)) func() {
	return c.stateChangedCallbacks.add(callback)
}

func (c *client) OnHeartbeat(callback func(hb Heartbeat)) func() {
	return c.heartbeatCallbacks.add(callback)
}

//ListenToErrors channel fed by the error notifications. Errors are dropped when nobody drains it.
func (c *client) ListenToErrors() <-chan error {
	errChan := make(chan error, 16)
	c.OnError(func(err error) {
		select {
		case errChan <- err:
		default:
			glog.Infof("[c]%s error dropped = %s\n", c.id, err)
		}
	})
	return errChan
}

//onError runs on the driver.
func (c *client) onError(err error) {
	glog.V(2).Infof("[c]%s error = %s\n", c.id, err)
	for _, callback := range c.errorCallbacks.get() {
		callback(err)
	}
}

//onReconnected runs on the driver.
//Nothing fires unless the connection was Reconnecting.
func (c *client) onReconnected() {
	if !c.ChangeState(Reconnecting, Connected) {
		glog.V(2).Infof("[c]%s reconnect ignored in state %s\n", c.id, c.State())
		return
	}
	glog.V(2).Infof("[c]%s reconnected\n", c.id)
	for _, callback := range c.reconnectedCallbacks.get() {
		callback()
	}
}

func (c *client) onHeartbeat() {
	hb := Heartbeat{Received: time.Now()}
	c.lastHeartbeat.Store(hb.Received.UnixNano())
	glog.V(3).Infof("[c]%s %s\n", c.id, hb)
	for _, callback := range c.heartbeatCallbacks.get() {
		callback(hb)
	}
}

//LastHeartbeat time of the last keep-alive, zero if none arrived yet.
func (c *client) LastHeartbeat() time.Time {
	nanos := c.lastHeartbeat.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
