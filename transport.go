package signalr

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
)

//Transport carries the server to client stream and the client to server sends of a connection.
//The set of transports is closed: LongPollingTransport, ServerSentEventsTransport,
//WebSocketsTransport and AutoTransport over any of them.
type Transport interface {
	Name() string

	negotiate(c *client) *future.Future[*NegotiationResponse]
	//start resolves once the stream is open, or fails if it could not be opened.
	start(c *client, connectionData string) *future.Future[struct{}]
	send(c *client, data string) *future.Future[*HubResult]
	//stop aborts whatever is in flight.  Must not raise the connection's closed notifications.
	stop(c *client)
}

//availability lets a transport sit out the fallback for a given negotiation.
type availability interface {
	available(c *client) bool
}

//httpBasedTransport the parts every HTTP transport shares: negotiate, send and aborting the tracked request.
type httpBasedTransport struct {
	name string
}

func (t *httpBasedTransport) Name() string {
	return t.name
}

func (t *httpBasedTransport) negotiate(c *client) *future.Future[*NegotiationResponse] {
	return negotiate(c)
}

//send POST <base>send?transport=&connectionToken=&<custom> with form data=<payload>.
func (t *httpBasedTransport) send(c *client, data string) *future.Future[*HubResult] {
	sendURL := c.url + "send?transport=" + t.name +
		"&connectionToken=" + url.QueryEscape(c.ConnectionToken()) +
		customQueryString(c)

	response := c.http.Post(sendURL, c.prepareRequest, map[string]string{"data": data}, false)

	body := future.ThenFuture(response, func(r Response) *future.Future[string] {
		if err := r.Err(); err != nil {
			return future.FromError[string](c.sched, err)
		}
		return r.ReadAsString()
	})

	return future.Then(body, decodeSendResponse)
}

func (t *httpBasedTransport) stop(c *client) {
	t.abortRequest(c)
}

func (t *httpBasedTransport) abortRequest(c *client) {
	request, ok := itemValue[Request](c, httpRequestKey)
	if !ok {
		return
	}
	c.removeItem(httpRequestKey)

	glog.V(2).Infof("[%s]%s aborting request\n", t.name, c.id)
	request.Abort()
}

//trackRequest decorates the request and keeps it so stop can abort it.
func (t *httpBasedTransport) trackRequest(c *client, decorate func(Request)) func(Request) {
	return func(r Request) {
		c.prepareRequest(r)
		if decorate != nil {
			decorate(r)
		}
		c.setItem(httpRequestKey, r)
	}
}

//receiveQueryString ?transport=&connectionId=&messageId=&groups=&connectionData=&<custom>&connectionToken=&groupsToken=
func receiveQueryString(c *client, transportName string, connectionData string) string {
	var b strings.Builder
	b.WriteString("?transport=")
	b.WriteString(transportName)
	b.WriteString("&connectionId=")
	b.WriteString(url.QueryEscape(c.ConnectionID()))
	b.WriteString("&messageId=")
	b.WriteString(url.QueryEscape(c.MessageID()))
	b.WriteString("&groups=")
	b.WriteString(url.QueryEscape(serializedGroups(c)))
	b.WriteString("&connectionData=")
	b.WriteString(url.QueryEscape(connectionData))
	b.WriteString(customQueryString(c))
	b.WriteString("&connectionToken=")
	b.WriteString(url.QueryEscape(c.ConnectionToken()))
	b.WriteString("&groupsToken=")
	b.WriteString(url.QueryEscape(c.GroupsToken()))
	return b.String()
}

func customQueryString(c *client) string {
	if c.queryString == "" {
		return ""
	}
	return "&" + c.queryString
}

func serializedGroups(c *client) string {
	groups := c.Groups()
	if groups == nil {
		groups = []string{}
	}
	data, _ := json.Marshal(groups)
	return string(data)
}

//after posts fn to the driver once d has elapsed, unless ctx is done by then.
func after(c *client, ctx context.Context, d time.Duration, fn func()) {
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			c.sched.Post(func() {
				if ctx.Err() == nil {
					fn()
				}
			})
		}
	}()
}
