package signalr

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/techviking/signalr/v3/future"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

const negotiateOK = `{"ConnectionId":"c-1","ConnectionToken":"t/1","ProtocolVersion":"1.2","TryWebSockets":false,"KeepAliveTimeout":20.0}`

func driven(t *testing.T) *future.Queue {
	q := future.NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Run(ctx)
	return q
}

func await[T any](t *testing.T, f *future.Future[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("future never completed, status %s", f.Status())
	}
	return v, err
}

func eventually(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type fakeRequest struct {
	header    http.Header
	aborted   atomic.Bool
	abortOnce sync.Once
	abortChan chan struct{}
}

func newFakeRequest() *fakeRequest {
	return &fakeRequest{
		header:    http.Header{},
		abortChan: make(chan struct{}),
	}
}

func (fr *fakeRequest) Header() http.Header {
	return fr.header
}

func (fr *fakeRequest) Abort() {
	fr.aborted.Store(true)
	fr.abortOnce.Do(func() {
		close(fr.abortChan)
	})
}

func (fr *fakeRequest) Aborted() bool {
	return fr.aborted.Load()
}

type fakeResponse struct {
	sched future.Scheduler
	body  string
	err   error
}

func (fr *fakeResponse) Err() error {
	return fr.err
}

func (fr *fakeResponse) StatusCode() int {
	if fr.err != nil {
		return 0
	}
	return http.StatusOK
}

func (fr *fakeResponse) ReadAsString() *future.Future[string] {
	if fr.err != nil {
		return future.FromError[string](fr.sched, fr.err)
	}
	return future.FromResult(fr.sched, fr.body)
}

func (fr *fakeResponse) Body() io.ReadCloser {
	return io.NopCloser(strings.NewReader(fr.body))
}

func (fr *fakeResponse) Close() error {
	return nil
}

type fakeCall struct {
	method  string
	url     string
	form    map[string]string
	request *fakeRequest
}

//segment the path segment after the base url, "" for none.
func (fc fakeCall) segment() string {
	u, err := url.Parse(fc.url)
	if err != nil {
		return ""
	}
	path := strings.TrimPrefix(u.Path, "/signalr")
	return strings.Trim(path, "/")
}

func (fc fakeCall) query(key string) string {
	u, err := url.Parse(fc.url)
	if err != nil {
		return ""
	}
	return u.Query().Get(key)
}

//hang blocks until the request is aborted.
func (fc fakeCall) hang() (string, error) {
	<-fc.request.abortChan
	return "", fmt.Errorf("%w: test", ErrRequestAborted)
}

type fakeHTTPClient struct {
	sched   future.Scheduler
	handler func(call fakeCall) (string, error)

	mutex sync.Mutex
	calls []fakeCall
}

func (fh *fakeHTTPClient) Get(url string, prepare func(Request), longRunning bool) *future.Future[Response] {
	return fh.do(http.MethodGet, url, prepare, nil)
}

func (fh *fakeHTTPClient) Post(url string, prepare func(Request), form map[string]string, longRunning bool) *future.Future[Response] {
	return fh.do(http.MethodPost, url, prepare, form)
}

func (fh *fakeHTTPClient) do(method string, url string, prepare func(Request), form map[string]string) *future.Future[Response] {
	request := newFakeRequest()
	if prepare != nil {
		prepare(request)
	}
	call := fakeCall{method: method, url: url, form: form, request: request}

	fh.mutex.Lock()
	fh.calls = append(fh.calls, call)
	fh.mutex.Unlock()

	return future.Run(fh.sched, func() (Response, error) {
		body, err := fh.handler(call)
		return &fakeResponse{sched: fh.sched, body: body, err: err}, nil
	})
}

func (fh *fakeHTTPClient) callsTo(segment string) []fakeCall {
	fh.mutex.Lock()
	defer fh.mutex.Unlock()

	var out []fakeCall
	for _, call := range fh.calls {
		if call.segment() == segment {
			out = append(out, call)
		}
	}
	return out
}

func (fh *fakeHTTPClient) all() []fakeCall {
	fh.mutex.Lock()
	defer fh.mutex.Unlock()
	return append([]fakeCall(nil), fh.calls...)
}

//fakeTransport negotiates over HTTP like the real ones but fakes start and send.
type fakeTransport struct {
	name     string
	startErr error
	sendFunc func(c *client, data string) *future.Future[*HubResult]

	starts atomic.Int32
	stops  atomic.Int32

	mutex sync.Mutex
	sent  []string
}

func (ft *fakeTransport) Name() string {
	return ft.name
}

func (ft *fakeTransport) negotiate(c *client) *future.Future[*NegotiationResponse] {
	return negotiate(c)
}

func (ft *fakeTransport) start(c *client, connectionData string) *future.Future[struct{}] {
	return future.Run(c.sched, func() (struct{}, error) {
		ft.starts.Add(1)
		return struct{}{}, ft.startErr
	})
}

func (ft *fakeTransport) send(c *client, data string) *future.Future[*HubResult] {
	ft.mutex.Lock()
	ft.sent = append(ft.sent, data)
	ft.mutex.Unlock()

	if ft.sendFunc != nil {
		return ft.sendFunc(c, data)
	}
	return future.FromResult(c.sched, &HubResult{})
}

func (ft *fakeTransport) stop(c *client) {
	ft.stops.Add(1)
}

func (ft *fakeTransport) sentData() []string {
	ft.mutex.Lock()
	defer ft.mutex.Unlock()
	return append([]string(nil), ft.sent...)
}

func testConfig(t *testing.T, transport Transport, handler func(call fakeCall) (string, error)) (Config, *fakeHTTPClient) {
	q := driven(t)
	fake := &fakeHTTPClient{sched: q, handler: handler}

	u, err := url.Parse("http://example.test/signalr")
	if err != nil {
		t.Fatalf("unable to parse test url: %s", err.Error())
	}

	return Config{
		ConnectionURL: *u,
		Scheduler:     q,
		HTTPClient:    fake,
		Transport:     transport,
	}, fake
}

func newTestClient(t *testing.T, transport Transport, handler func(call fakeCall) (string, error)) (*client, *fakeHTTPClient) {
	cfg, fake := testConfig(t, transport, handler)
	return newClient(cfg, nil), fake
}

//negotiateThen answers negotiate and hands every other call to next.
func negotiateThen(next func(call fakeCall) (string, error)) func(call fakeCall) (string, error) {
	return func(call fakeCall) (string, error) {
		if call.segment() == "negotiate" {
			return negotiateOK, nil
		}
		if next == nil {
			return "", nil
		}
		return next(call)
	}
}
