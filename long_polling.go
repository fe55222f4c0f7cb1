package signalr

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
	"gitlab.com/techviking/signalr/v3/internal/netutil"
)

const longPollingName = "longPolling"

//LongPollingTransport receives with one long running POST per batch of messages.
type LongPollingTransport struct {
	httpBasedTransport

	//ReconnectDelay how long a resumed poll waits before announcing the reconnect on its own.
	ReconnectDelay time.Duration
	//ErrorDelay pause before polling again after a failed poll.
	ErrorDelay time.Duration
}

//NewLongPollingTransport transport with the default delays.
func NewLongPollingTransport() *LongPollingTransport {
	return &LongPollingTransport{
		httpBasedTransport: httpBasedTransport{name: longPollingName},
		ReconnectDelay:     5 * time.Second,
		ErrorDelay:         2 * time.Second,
	}
}

//start succeeds right away.  The first poll goes out once the connection is Connected.
func (lp *LongPollingTransport) start(c *client, connectionData string) *future.Future[struct{}] {
	ctx := c.runContext()
	c.whenStarted(func(ok bool) {
		if ok {
			lp.poll(c, ctx, connectionData, false)
		}
	})
	return future.FromResult(c.sched, struct{}{})
}

//reconnectSignal the one Reconnected notification of a resumed poll.
type reconnectSignal struct {
	fired    atomic.Bool
	canceled atomic.Bool
}

func (rs *reconnectSignal) fire(ctx context.Context, c *client) {
	if rs.canceled.Load() || ctx.Err() != nil {
		return
	}
	if rs.fired.CompareAndSwap(false, true) {
		c.onReconnected()
	}
}

func (rs *reconnectSignal) cancel() {
	rs.canceled.Store(true)
}

func (lp *LongPollingTransport) poll(c *client, ctx context.Context, connectionData string, raiseReconnect bool) {
	if ctx.Err() != nil {
		return
	}

	pollURL := c.url
	if c.MessageID() == "" {
		pollURL += "connect"
	} else if raiseReconnect {
		pollURL += "reconnect"
	}
	pollURL += receiveQueryString(c, lp.name, connectionData)

	glog.V(2).Infof("[lp]%s poll %s\n", c.id, pollURL)

	signal := &reconnectSignal{}
	form := map[string]string{"groups": serializedGroups(c)}

	c.http.Post(pollURL, lp.trackRequest(c, nil), form, true).OnComplete(func(f *future.Future[Response]) {
		c.removeItem(httpRequestKey)

		response, err := f.Result()
		if err == nil {
			err = response.Err()
		}
		if err != nil {
			lp.failed(c, ctx, connectionData, signal, err)
			return
		}

		if raiseReconnect {
			signal.fire(ctx, c)
		}

		response.ReadAsString().OnComplete(func(body *future.Future[string]) {
			raw, err := body.Result()
			if err != nil {
				lp.failed(c, ctx, connectionData, signal, err)
				return
			}
			if ctx.Err() != nil {
				return
			}

			timedOut, disconnected := c.processResponse(raw)
			if disconnected {
				glog.V(2).Infof("[lp]%s server requested disconnect\n", c.id)
				c.disconnect()
				return
			}

			if ctx.Err() == nil {
				lp.poll(c, ctx, connectionData, timedOut)
			}
		})
	})

	if raiseReconnect {
		after(c, ctx, lp.ReconnectDelay, func() {
			signal.fire(ctx, c)
		})
	}
}

func (lp *LongPollingTransport) failed(c *client, ctx context.Context, connectionData string, signal *reconnectSignal, err error) {
	signal.cancel()

	if ctx.Err() != nil {
		glog.V(2).Infof("[lp]%s poll ended after stop = %s\n", c.id, err)
		return
	}

	if netutil.IsAborted(err) || netutil.IsTransient(err) {
		glog.V(2).Infof("[lp]%s poll interrupted = %s\n", c.id, err)
	} else {
		glog.Infof("[lp]%s poll error = %s\n", c.id, err)
		c.onError(err)
		c.ChangeState(Connected, Reconnecting)
	}

	//a silent retry never left Connected, so there is nothing to announce
	raiseReconnect := c.State() == Reconnecting

	after(c, ctx, lp.ErrorDelay, func() {
		if c.IsActive() {
			lp.poll(c, ctx, connectionData, raiseReconnect)
		}
	})
}
