package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"golang.org/x/exp/slices"

	"gitlab.com/techviking/signalr/v3/future"
	"gitlab.com/techviking/signalr/v3/internal/netutil"
)

const (
	webSocketsName string = "webSockets"
	socketScheme   string = "wss"
)

//WebSocketsTransport receives and sends over one websocket.  Only tried when the server's negotiate
//response allows it.
type WebSocketsTransport struct {
	httpBasedTransport

	//HandshakeTimeout bound on the websocket upgrade.
	HandshakeTimeout time.Duration
	//MaxRetries reconnect attempts before the connection is given up.
	MaxRetries int
	//RetryBase attempt i waits 2^i times this long.
	RetryBase time.Duration
}

//NewWebSocketsTransport transport with the default retry policy.
func NewWebSocketsTransport() *WebSocketsTransport {
	return &WebSocketsTransport{
		httpBasedTransport: httpBasedTransport{name: webSocketsName},
		HandshakeTimeout:   45 * time.Second,
		MaxRetries:         5,
		RetryBase:          time.Second,
	}
}

func (ws *WebSocketsTransport) available(c *client) bool {
	negotiation := c.negotiationResponse()
	return negotiation != nil && negotiation.TryWebSockets
}

//socketSession one open websocket and the sends waiting on its answers.
type socketSession struct {
	socket     *websocket.Conn
	writeMutex sync.Mutex

	pendingMutex sync.Mutex
	//results are matched by "I"; equal ids resolve oldest first
	pending map[string][]*future.CompletionSource[*HubResult]
	closed  atomic.Bool
}

func newSocketSession(socket *websocket.Conn) *socketSession {
	return &socketSession{
		socket:  socket,
		pending: map[string][]*future.CompletionSource[*HubResult]{},
	}
}

func (s *socketSession) write(data []byte) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.socket.WriteMessage(websocket.TextMessage, data)
}

func (s *socketSession) await(id string, source *future.CompletionSource[*HubResult]) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	s.pending[id] = append(s.pending[id], source)
}

//forget drops source from the sends waiting on id, leaving the others in order.
func (s *socketSession) forget(id string, source *future.CompletionSource[*HubResult]) {
	s.pendingMutex.Lock()
	defer s.pendingMutex.Unlock()
	waiting := slices.DeleteFunc(s.pending[id], func(pending *future.CompletionSource[*HubResult]) bool {
		return pending == source
	})
	if len(waiting) == 0 {
		delete(s.pending, id)
	} else {
		s.pending[id] = waiting
	}
}

func (s *socketSession) resolve(result *HubResult) bool {
	s.pendingMutex.Lock()
	waiting := s.pending[result.ID]
	if len(waiting) == 0 {
		s.pendingMutex.Unlock()
		return false
	}
	source := waiting[0]
	if len(waiting) == 1 {
		delete(s.pending, result.ID)
	} else {
		s.pending[result.ID] = waiting[1:]
	}
	s.pendingMutex.Unlock()

	return source.TrySetResult(result)
}

func (s *socketSession) close(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.socket.Close()

	s.pendingMutex.Lock()
	pending := s.pending
	s.pending = map[string][]*future.CompletionSource[*HubResult]{}
	s.pendingMutex.Unlock()

	for _, waiting := range pending {
		for _, source := range waiting {
			source.TrySetException(err)
		}
	}
}

//socketRequest the Request handed to decorators for the upgrade.  Abort cancels the dial.
type socketRequest struct {
	header  http.Header
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (sr *socketRequest) Header() http.Header {
	return sr.header
}

func (sr *socketRequest) Abort() {
	sr.aborted.Store(true)
	sr.cancel()
}

func (sr *socketRequest) Aborted() bool {
	return sr.aborted.Load()
}

func (ws *WebSocketsTransport) socketURL(c *client, segment string, connectionData string) string {
	base := c.url
	switch {
	case strings.HasPrefix(base, "https://"):
		base = socketScheme + "://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + segment + receiveQueryString(c, ws.name, connectionData)
}

//dial opens the socket on a background goroutine.
func (ws *WebSocketsTransport) dial(c *client, ctx context.Context, segment string, connectionData string) *future.Future[*socketSession] {
	dialCtx, cancel := context.WithCancel(ctx)
	request := &socketRequest{header: http.Header{}, cancel: cancel}
	ws.trackRequest(c, nil)(request)

	socketDialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: ws.HandshakeTimeout,
		Jar:              c.config.Client.Jar,
	}
	connectionURL := ws.socketURL(c, segment, connectionData)

	return future.Run(c.sched, func() (*socketSession, error) {
		defer cancel()

		glog.V(2).Infof("[ws]%s dial %s\n", c.id, connectionURL)

		socket, _, err := socketDialer.DialContext(dialCtx, connectionURL, request.header)
		if err != nil {
			if request.Aborted() {
				return nil, fmt.Errorf("%w: %s", netutil.ErrRequestAborted, err)
			}
			return nil, SocketConnectionError(err.Error())
		}
		return newSocketSession(socket), nil
	})
}

func (ws *WebSocketsTransport) start(c *client, connectionData string) *future.Future[struct{}] {
	ctx := c.runContext()
	return future.Then(ws.dial(c, ctx, "connect", connectionData), func(session *socketSession) (struct{}, error) {
		c.removeItem(httpRequestKey)
		if ctx.Err() != nil {
			session.close(ConnectError("Connection was stopped before the socket opened."))
			return struct{}{}, ConnectError("Connection was stopped before the socket opened.")
		}
		c.setItem(webSocketKey, session)
		c.whenStarted(func(ok bool) {
			if ok {
				ws.listen(c, ctx, session, connectionData)
			} else {
				c.removeItem(webSocketKey)
				session.close(ConnectError("Connection was stopped before it started."))
			}
		})
		return struct{}{}, nil
	})
}

//listen installs session and reads it on a background goroutine until it fails.
func (ws *WebSocketsTransport) listen(c *client, ctx context.Context, session *socketSession, connectionData string) {
	c.setItem(webSocketKey, session)

	go func() {
		for {
			_, data, err := session.socket.ReadMessage()
			if err != nil {
				c.sched.Post(func() {
					ws.readFailed(c, ctx, session, connectionData, err)
				})
				return
			}
			c.sched.Post(func() {
				ws.handleSocketData(c, session, data)
			})
		}
	}()
}

func (ws *WebSocketsTransport) handleSocketData(c *client, session *socketSession, data []byte) {
	var envelope struct {
		ID *string `json:"I"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.ID != nil {
		var result HubResult
		if err := json.Unmarshal(data, &result); err != nil {
			c.onError(HubMessageError(fmt.Sprintf("Unable to unmarshal hub result: %s", err.Error())))
			return
		}
		if !session.resolve(&result) {
			glog.V(2).Infof("[ws]%s unmatched result %s\n", c.id, result.ID)
		}
		return
	}

	if _, disconnected := c.processResponse(string(data)); disconnected {
		glog.V(2).Infof("[ws]%s server requested disconnect\n", c.id)
		c.removeItem(webSocketKey)
		session.close(errDisconnected)
		c.disconnect()
	}
}

func (ws *WebSocketsTransport) readFailed(c *client, ctx context.Context, session *socketSession, connectionData string, err error) {
	//closed on this side: stop, server disconnect or a canceled start
	if session.closed.Load() {
		return
	}
	session.close(SocketError(err.Error()))
	if ctx.Err() != nil || !c.IsActive() {
		return
	}
	c.removeItem(webSocketKey)

	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		glog.Infof("[ws]%s read error = %s\n", c.id, err)
		c.onError(SocketError(err.Error()))
	}
	c.ChangeState(Connected, Reconnecting)
	ws.reconnect(c, ctx, connectionData, 0)
}

//reconnect backs off 2^attempt * RetryBase between attempts and gives up after MaxRetries.
func (ws *WebSocketsTransport) reconnect(c *client, ctx context.Context, connectionData string, attempt int) {
	if attempt >= ws.MaxRetries {
		glog.Infof("[ws]%s giving up after %d attempts\n", c.id, attempt)
		c.onError(SocketConnectionError("MAX RETRIES REACHED.  ABORTING CONNECTION."))
		c.disconnect()
		return
	}

	backoff := time.Duration(math.Pow(2.0, float64(attempt))) * ws.RetryBase
	after(c, ctx, backoff, func() {
		ws.dial(c, ctx, "reconnect", connectionData).OnComplete(func(f *future.Future[*socketSession]) {
			c.removeItem(httpRequestKey)
			session, err := f.Result()
			if ctx.Err() != nil {
				if session != nil {
					session.close(ConnectError("Connection was stopped before the socket reopened."))
				}
				return
			}
			if err != nil {
				c.onError(err)
				ws.reconnect(c, ctx, connectionData, attempt+1)
				return
			}
			ws.listen(c, ctx, session, connectionData)
			c.onReconnected()
		})
	})
}

//send writes data as one text frame.  Payloads carrying "I" resolve when the matching result frame arrives;
//anything else resolves once written.
func (ws *WebSocketsTransport) send(c *client, data string) *future.Future[*HubResult] {
	session, ok := itemValue[*socketSession](c, webSocketKey)
	if !ok {
		return future.FromError[*HubResult](c.sched, InvalidOperationError("The socket is not open."))
	}

	var envelope struct {
		ID *string `json:"I"`
	}
	source := future.NewCompletionSource[*HubResult](c.sched)
	correlated := json.Unmarshal([]byte(data), &envelope) == nil && envelope.ID != nil
	if correlated {
		session.await(*envelope.ID, source)
	}

	go func() {
		if err := session.write([]byte(data)); err != nil {
			if correlated {
				session.forget(*envelope.ID, source)
			}
			source.TrySetException(SocketError(err.Error()))
			return
		}
		if !correlated {
			source.TrySetResult(&HubResult{})
		}
	}()

	return source.Future()
}

func (ws *WebSocketsTransport) stop(c *client) {
	ws.abortRequest(c)
	if session, ok := itemValue[*socketSession](c, webSocketKey); ok {
		c.removeItem(webSocketKey)
		session.close(errDisconnected)
	}
}
