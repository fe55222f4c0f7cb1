package signalr

import (
	"context"
	"time"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
	"gitlab.com/techviking/signalr/v3/internal/eventstream"
	"gitlab.com/techviking/signalr/v3/internal/netutil"
)

const serverSentEventsName = "serverSentEvents"

//ServerSentEventsTransport receives over one long running text/event-stream GET.
type ServerSentEventsTransport struct {
	httpBasedTransport

	//ReconnectDelay pause before the stream is reopened after it ended or failed.
	ReconnectDelay time.Duration
}

//NewServerSentEventsTransport transport with the default delay.
func NewServerSentEventsTransport() *ServerSentEventsTransport {
	return &ServerSentEventsTransport{
		httpBasedTransport: httpBasedTransport{name: serverSentEventsName},
		ReconnectDelay:     2 * time.Second,
	}
}

//start resolves once the stream is open.  A failed first open fails the future so a fallback can be tried.
func (sse *ServerSentEventsTransport) start(c *client, connectionData string) *future.Future[struct{}] {
	source := future.NewCompletionSource[struct{}](c.sched)
	sse.open(c, c.runContext(), connectionData, false, source)
	return source.Future()
}

func (sse *ServerSentEventsTransport) open(c *client, ctx context.Context, connectionData string, reconnecting bool, source *future.CompletionSource[struct{}]) {
	if ctx.Err() != nil {
		if source != nil {
			source.TrySetException(ConnectError("Connection was stopped before the stream opened."))
		}
		return
	}

	openURL := c.url
	if reconnecting {
		openURL += "reconnect"
	} else {
		openURL += "connect"
	}
	openURL += receiveQueryString(c, sse.name, connectionData)

	glog.V(2).Infof("[sse]%s open %s\n", c.id, openURL)

	accept := func(r Request) {
		r.Header().Set("Accept", "text/event-stream")
	}

	c.http.Get(openURL, sse.trackRequest(c, accept), true).OnComplete(func(f *future.Future[Response]) {
		response, err := f.Result()
		if err == nil {
			err = response.Err()
		}

		if err != nil {
			c.removeItem(httpRequestKey)

			if !reconnecting {
				glog.V(2).Infof("[sse]%s open failed = %s\n", c.id, err)
				source.TrySetException(err)
				return
			}
			if ctx.Err() != nil {
				return
			}
			if !netutil.IsAborted(err) {
				glog.Infof("[sse]%s reopen failed = %s\n", c.id, err)
				c.onError(err)
			}
			sse.reconnect(c, ctx, connectionData)
			return
		}

		if ctx.Err() != nil {
			response.Close()
			if source != nil {
				source.TrySetException(ConnectError("Connection was stopped before the stream opened."))
			}
			return
		}

		sink := &sseSink{c: c, transport: sse, response: response}
		reader := eventstream.NewReader(response.Body(), c.sched, sink, func() {
			glog.V(2).Infof("[sse]%s stream closed\n", c.id)
			response.Close()
			c.removeItem(sseReaderKey)
			sse.reconnect(c, ctx, connectionData)
		})
		c.setItem(sseReaderKey, reader)

		if reconnecting {
			reader.Start()
			c.onReconnected()
			return
		}

		c.whenStarted(func(ok bool) {
			if ok {
				reader.Start()
			} else {
				response.Close()
			}
		})
		source.TrySetResult(struct{}{})
	})
}

func (sse *ServerSentEventsTransport) reconnect(c *client, ctx context.Context, connectionData string) {
	if ctx.Err() != nil || !c.IsActive() {
		return
	}

	c.ChangeState(Connected, Reconnecting)

	after(c, ctx, sse.ReconnectDelay, func() {
		sse.open(c, ctx, connectionData, true, nil)
	})
}

//stop halts the reader without its close callback, so stopping never reconnects, then aborts the request.
func (sse *ServerSentEventsTransport) stop(c *client) {
	sse.stopReader(c)
	sse.abortRequest(c)
}

func (sse *ServerSentEventsTransport) stopReader(c *client) {
	if reader, ok := itemValue[*eventstream.Reader](c, sseReaderKey); ok {
		reader.Stop(false)
		c.removeItem(sseReaderKey)
	}
}

//sseSink feeds parsed events into the connection.
type sseSink struct {
	c         *client
	transport *ServerSentEventsTransport
	response  Response
}

func (s *sseSink) OnID(id string) {
	s.c.setMessageID(id)
}

func (s *sseSink) OnData(data string) bool {
	_, disconnected := s.c.processResponse(data)
	if !disconnected {
		return false
	}

	glog.V(2).Infof("[sse]%s server requested disconnect\n", s.c.id)
	s.transport.stopReader(s.c)
	s.c.removeItem(httpRequestKey)
	s.response.Close()
	s.c.disconnect()
	return true
}

func (s *sseSink) OnError(err error) {
	s.c.onError(err)
}
