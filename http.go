package signalr

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
	"gitlab.com/techviking/signalr/v3/internal/netutil"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

//Request handle passed to request decorators. Transports keep it to abort long running requests.
type Request interface {
	Header() http.Header
	Abort()
	Aborted() bool
}

//Response result of an HTTP call. Failures are carried in Err instead of faulting the future.
type Response interface {
	Err() error
	StatusCode() int
	//ReadAsString reads the whole body and closes the response.
	ReadAsString() *future.Future[string]
	//Body the raw stream, for responses that never end on their own.
	Body() io.ReadCloser
	Close() error
}

//HTTPClient the HTTP capability transports are built on.
type HTTPClient interface {
	Get(url string, prepare func(Request), longRunning bool) *future.Future[Response]
	Post(url string, prepare func(Request), form map[string]string, longRunning bool) *future.Future[Response]
}

func defaultClient() *http.Client {
	// see https://medium.com/@nate510/don-t-use-go-s-default-http-client-4804cb19f779
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

//NewHTTPClient wraps client. Long running requests use a copy without the overall timeout.
func NewHTTPClient(sched future.Scheduler, client *http.Client) HTTPClient {
	if client == nil {
		client = defaultClient()
	}
	longRunning := *client
	longRunning.Timeout = 0

	return &httpClient{
		sched:       sched,
		shortClient: client,
		longClient:  &longRunning,
	}
}

type httpClient struct {
	sched       future.Scheduler
	shortClient *http.Client
	longClient  *http.Client
}

func (hc *httpClient) Get(url string, prepare func(Request), longRunning bool) *future.Future[Response] {
	return hc.do(http.MethodGet, url, prepare, nil, longRunning)
}

func (hc *httpClient) Post(url string, prepare func(Request), form map[string]string, longRunning bool) *future.Future[Response] {
	return hc.do(http.MethodPost, url, prepare, form, longRunning)
}

func (hc *httpClient) do(method string, rawURL string, prepare func(Request), form map[string]string, longRunning bool) *future.Future[Response] {
	ctx, cancel := context.WithCancel(context.Background())

	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader(encodeForm(form))
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		cancel()
		return future.FromResult[Response](hc.sched, &httpResponse{sched: hc.sched, err: err})
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	request := &httpRequest{req: req, cancel: cancel}
	if prepare != nil {
		prepare(request)
	}

	client := hc.shortClient
	if longRunning {
		client = hc.longClient
	}

	return future.Run(hc.sched, func() (Response, error) {
		glog.V(3).Infof("[http]%s %s\n", method, rawURL)

		resp, err := client.Do(req)
		if err != nil {
			cancel()
			if request.Aborted() {
				err = fmt.Errorf("%w: %s", netutil.ErrRequestAborted, err)
			}
			return &httpResponse{sched: hc.sched, err: err}, nil
		}

		if resp.StatusCode < 200 || 299 < resp.StatusCode {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			cancel()
			return &httpResponse{
				sched: hc.sched,
				resp:  resp,
				err: &HTTPStatusError{
					StatusCode: resp.StatusCode,
					Status:     resp.Status,
					URL:        req.URL.Redacted(),
				},
			}, nil
		}

		return &httpResponse{sched: hc.sched, resp: resp, cancel: cancel}, nil
	})
}

func encodeForm(form map[string]string) string {
	values := url.Values{}
	for k, v := range form {
		if v == "" {
			continue
		}
		values.Set(k, v)
	}
	return values.Encode()
}

type httpRequest struct {
	req     *http.Request
	cancel  context.CancelFunc
	aborted atomic.Bool
}

func (hr *httpRequest) Header() http.Header {
	return hr.req.Header
}

func (hr *httpRequest) Abort() {
	hr.aborted.Store(true)
	hr.cancel()
}

func (hr *httpRequest) Aborted() bool {
	return hr.aborted.Load()
}

type httpResponse struct {
	sched  future.Scheduler
	resp   *http.Response
	cancel context.CancelFunc
	err    error
}

func (hr *httpResponse) Err() error {
	return hr.err
}

func (hr *httpResponse) StatusCode() int {
	if hr.resp == nil {
		return 0
	}
	return hr.resp.StatusCode
}

func (hr *httpResponse) ReadAsString() *future.Future[string] {
	if hr.err != nil {
		return future.FromError[string](hr.sched, hr.err)
	}
	return future.Run(hr.sched, func() (string, error) {
		defer hr.Close()
		body, err := io.ReadAll(hr.resp.Body)
		if err != nil {
			return "", err
		}
		return string(body), nil
	})
}

func (hr *httpResponse) Body() io.ReadCloser {
	if hr.resp == nil {
		return http.NoBody
	}
	return hr.resp.Body
}

func (hr *httpResponse) Close() error {
	if hr.resp == nil {
		return nil
	}
	err := hr.resp.Body.Close()
	if hr.cancel != nil {
		hr.cancel()
	}
	return err
}
