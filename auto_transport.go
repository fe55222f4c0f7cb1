package signalr

import (
	"sync"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
)

//AutoTransport tries its candidates in order and binds the first one that starts.  The binding is permanent:
//once a candidate has started, later restarts and reconnects only ever use that candidate.
type AutoTransport struct {
	transports []Transport

	mutex sync.Mutex
	//candidate being started
	trying Transport
	bound  Transport
}

//NewAutoTransport falls back through transports in the given order.  With none given the order is
//server sent events, then long polling.
func NewAutoTransport(transports ...Transport) *AutoTransport {
	if len(transports) == 0 {
		transports = []Transport{NewServerSentEventsTransport(), NewLongPollingTransport()}
	}
	return &AutoTransport{transports: transports}
}

//Name the bound transport's name, empty until one has started.
func (at *AutoTransport) Name() string {
	if bound := at.Bound(); bound != nil {
		return bound.Name()
	}
	return ""
}

//Bound the selected transport, nil until one has started.
func (at *AutoTransport) Bound() Transport {
	at.mutex.Lock()
	defer at.mutex.Unlock()
	return at.bound
}

func (at *AutoTransport) negotiate(c *client) *future.Future[*NegotiationResponse] {
	return negotiate(c)
}

func (at *AutoTransport) start(c *client, connectionData string) *future.Future[struct{}] {
	if bound := at.Bound(); bound != nil {
		return bound.start(c, connectionData)
	}

	source := future.NewCompletionSource[struct{}](c.sched)
	at.resolveTransport(c, connectionData, 0, source)
	return source.Future()
}

func (at *AutoTransport) resolveTransport(c *client, connectionData string, index int, source *future.CompletionSource[struct{}]) {
	for index < len(at.transports) && !isAvailable(at.transports[index], c) {
		glog.V(2).Infof("[c]%s transport %s not available\n", c.id, at.transports[index].Name())
		index++
	}

	if index >= len(at.transports) {
		source.TrySetException(TransportStartError("The transports available were not supported on this client."))
		return
	}

	candidate := at.transports[index]
	at.mutex.Lock()
	at.trying = candidate
	at.mutex.Unlock()

	glog.V(2).Infof("[c]%s trying transport %s\n", c.id, candidate.Name())

	ctx := c.runContext()
	candidate.start(c, connectionData).OnComplete(func(started *future.Future[struct{}]) {
		if err := started.Err(); err != nil {
			glog.Infof("[c]%s transport %s failed to start = %s\n", c.id, candidate.Name(), err)
			if ctx.Err() != nil {
				source.TrySetException(err)
				return
			}
			at.resolveTransport(c, connectionData, index+1, source)
			return
		}

		at.mutex.Lock()
		at.trying = nil
		at.bound = candidate
		at.mutex.Unlock()

		glog.V(2).Infof("[c]%s bound transport %s\n", c.id, candidate.Name())
		source.TrySetResult(struct{}{})
	})
}

func isAvailable(t Transport, c *client) bool {
	if a, ok := t.(availability); ok {
		return a.available(c)
	}
	return true
}

func (at *AutoTransport) send(c *client, data string) *future.Future[*HubResult] {
	bound := at.Bound()
	if bound == nil {
		return future.FromError[*HubResult](c.sched, InvalidOperationError("No transport has been started."))
	}
	return bound.send(c, data)
}

func (at *AutoTransport) stop(c *client) {
	at.mutex.Lock()
	target := at.bound
	if target == nil {
		target = at.trying
	}
	at.mutex.Unlock()

	if target != nil {
		target.stop(c)
	}
}
