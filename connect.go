package signalr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
)

//Start negotiates with the server and starts the bound transport.  The returned future resolves once the
//connection is Connected, or fails and leaves the connection Disconnected.
func (c *client) Start() *future.Future[struct{}] {
	c.startMutex.Lock()
	defer c.startMutex.Unlock()

	if c.configErr != nil {
		return future.FromError[struct{}](c.sched, c.configErr)
	}

	if !c.ChangeState(Disconnected, Connecting) {
		if c.connectTask != nil {
			return c.connectTask
		}
		return future.FromResult(c.sched, struct{}{})
	}

	c.active.Store(true)
	ctx := c.beginRun()
	c.connectTask = c.connect(ctx)

	return c.connectTask
}

func (c *client) connect(ctx context.Context) *future.Future[struct{}] {
	source := future.NewCompletionSource[struct{}](c.sched)

	glog.V(1).Infof("[c]%s negotiating with %s\n", c.id, c.url)

	c.transport.negotiate(c).OnComplete(func(negotiation *future.Future[*NegotiationResponse]) {
		response, err := negotiation.Result()
		if err == nil {
			err = verifyProtocolVersion(response)
		}
		if err != nil {
			c.failStart(ctx, source, err)
			return
		}
		if ctx.Err() != nil {
			source.TrySetException(ConnectError("Connection was stopped before it started."))
			return
		}

		c.setIdentity(response)

		var data string
		if c.ext != nil {
			data = c.ext.onSending()
		}

		c.transport.start(c, data).OnComplete(func(started *future.Future[struct{}]) {
			if err := started.Err(); err != nil {
				c.failStart(ctx, source, err)
				return
			}
			if ctx.Err() != nil || !c.ChangeState(Connecting, Connected) {
				source.TrySetException(ConnectError("Connection was stopped before it started."))
				return
			}

			glog.V(1).Infof("[c]%s connected over %s as %s\n", c.id, c.transport.Name(), c.ConnectionID())
			source.TrySetResult(struct{}{})
		})
	})

	return source.Future()
}

func (c *client) failStart(ctx context.Context, source *future.CompletionSource[struct{}], err error) {
	glog.Infof("[c]%s start failed = %s\n", c.id, err)

	if ctx.Err() == nil {
		c.transport.stop(c)
		c.disconnect()
	}
	source.TrySetException(err)
}

//Stop aborts the transport and disconnects.  No-op when the connection is already Disconnected.
func (c *client) Stop() {
	c.startMutex.Lock()
	defer c.startMutex.Unlock()

	if c.State() == Disconnected {
		return
	}

	glog.V(1).Infof("[c]%s stopping\n", c.id)

	c.transport.stop(c)
	c.disconnect()
}

//Close stops the connection, then ends the goroutine driving the default scheduler once everything
//already posted to it has run.  A Scheduler supplied through Config is left alone.
func (c *client) Close() {
	c.Stop()
	c.releaseDriver()
}

func (c *client) releaseDriver() {
	c.closeOnce.Do(func() {
		if c.stopDriver != nil {
			c.sched.Post(c.stopDriver)
		}
	})
}

//disconnect moves to Disconnected without asking the transport to abort.  Safe to call more than once.
func (c *client) disconnect() {
	c.stateMutex.Lock()
	oldState := c.state
	if oldState == Disconnected {
		c.stateMutex.Unlock()
		return
	}
	c.state = Disconnected
	c.stateMutex.Unlock()

	glog.V(1).Infof("[c]%s ChangeState(%s, %s)\n", c.id, oldState, Disconnected)
	c.notifyStateChanged(StateChange{OldState: oldState, NewState: Disconnected})

	c.active.Store(false)
	c.endRun()
	c.clearIdentity()

	c.sched.Post(func() {
		if c.ext != nil {
			c.ext.onClosed()
		}
		for _, callback := range c.closedCallbacks.get() {
			callback()
		}
	})
}

//negotiate issues GET <base>negotiate and decodes the answer.
func negotiate(c *client) *future.Future[*NegotiationResponse] {
	query := url.Values{
		"clientProtocol": []string{clientProtocol},
		"_":              []string{fmt.Sprintf("%d", time.Now().UnixMilli())},
	}.Encode()
	if c.queryString != "" {
		query += "&" + c.queryString
	}
	negotiationURL := c.url + "negotiate?" + query

	response := c.http.Get(negotiationURL, c.prepareRequest, false)

	body := future.ThenFuture(response, func(r Response) *future.Future[string] {
		if err := r.Err(); err != nil {
			return future.FromError[string](c.sched, NegotiationError(err.Error()))
		}
		return r.ReadAsString()
	})

	return future.Then(body, func(raw string) (*NegotiationResponse, error) {
		glog.V(3).Infof("[c]%s negotiate = %s\n", c.id, raw)

		if strings.TrimSpace(raw) == "" {
			return nil, NegotiationError("Server negotiation failed.")
		}

		var result NegotiationResponse
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, NegotiationError(fmt.Sprintf("Failed to parse response '%s': %s", raw, err.Error()))
		}
		return &result, nil
	})
}

//verifyProtocolVersion the server must speak exactly major.minor 1.2.
func verifyProtocolVersion(response *NegotiationResponse) error {
	if response == nil {
		return NegotiationError("Server negotiation failed.")
	}

	parts := strings.Split(response.ProtocolVersion, ".")
	if len(parts) < 2 || len(parts) > 4 {
		return NegotiationError("Incompatible protocol version.")
	}

	numbers := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return NegotiationError("Incompatible protocol version.")
		}
		numbers[i] = n
	}

	if numbers[0] != 1 || numbers[1] != 2 {
		return NegotiationError("Incompatible protocol version.")
	}
	return nil
}

//Negotiate runs only the handshake against the endpoint described by c, without starting a transport.
func Negotiate(ctx context.Context, c Config) (*NegotiationResponse, error) {
	return newClient(c, nil).negotiateOnly(ctx)
}

//negotiateOnly the handshake for a client that is never started.  The default driver ends when it returns.
func (c *client) negotiateOnly(ctx context.Context) (*NegotiationResponse, error) {
	defer c.releaseDriver()
	if c.configErr != nil {
		return nil, c.configErr
	}
	response, err := negotiate(c).Await(ctx)
	if err != nil {
		return nil, err
	}
	return response, verifyProtocolVersion(response)
}

func castHubNamesToString(hubs []string) string {
	var connectionData = make([]hubRegistration, len(hubs))
	for i, h := range hubs {
		connectionData[i].Name = h
	}
	connectionDataBytes, _ := json.Marshal(connectionData)

	return string(connectionDataBytes)
}
