package signalr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	"golang.org/x/exp/slices"

	"gitlab.com/techviking/signalr/v3/future"
)

//hubCallbackID every invocation of a proxy goes out with the same callback id.
const hubCallbackID = "1"

//HubProxy client side of one hub: its state bag, event subscriptions and outstanding invocations.
type HubProxy struct {
	conn *client
	name string

	stateMutex sync.RWMutex
	//keyed by lower cased name
	state map[string]stateEntry

	subscriptionsMutex sync.Mutex
	subscriptions      map[string]*Subscription

	pendingMutex sync.Mutex
	pending      map[ulid.ULID]*future.CompletionSource[json.RawMessage]
}

type stateEntry struct {
	name  string
	value json.RawMessage
}

func newHubProxy(conn *client, name string) *HubProxy {
	return &HubProxy{
		conn:          conn,
		name:          name,
		state:         map[string]stateEntry{},
		subscriptions: map[string]*Subscription{},
		pending:       map[ulid.ULID]*future.CompletionSource[json.RawMessage]{},
	}
}

//Name the hub's name.
func (p *HubProxy) Name() string {
	return p.name
}

//Get raw state value, nil if unset.  Names are case insensitive.
func (p *HubProxy) Get(name string) json.RawMessage {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()

	return p.state[strings.ToLower(name)].value
}

//Set marshals value into the state bag.  The bag travels with every invocation.
func (p *HubProxy) Set(name string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	p.setRaw(name, data)
	return nil
}

func (p *HubProxy) setRaw(name string, value json.RawMessage) {
	p.stateMutex.Lock()
	defer p.stateMutex.Unlock()

	p.state[strings.ToLower(name)] = stateEntry{name: name, value: value}
}

//GetValue decodes a state value into T.  Unset values yield T's zero value.
func GetValue[T any](p *HubProxy, name string) (T, error) {
	var v T
	raw := p.Get(name)
	if isNullPayload(raw) {
		return v, nil
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (p *HubProxy) mergeState(state map[string]json.RawMessage) {
	for name, value := range state {
		p.setRaw(name, value)
	}
}

func (p *HubProxy) stateSnapshot() map[string]json.RawMessage {
	p.stateMutex.RLock()
	defer p.stateMutex.RUnlock()

	if len(p.state) == 0 {
		return nil
	}
	snapshot := make(map[string]json.RawMessage, len(p.state))
	for _, entry := range p.state {
		snapshot[entry.name] = entry.value
	}
	return snapshot
}

//Subscription the subscribers of one server to client event.
type Subscription struct {
	name      string
	callbacks callbackList[func(args []json.RawMessage)]
}

//Name the event's name.
func (s *Subscription) Name() string {
	return s.name
}

//Received adds fn to the subscribers and returns a function that removes it.
func (s *Subscription) Received(fn func(args []json.RawMessage)) func() {
	return s.callbacks.add(fn)
}

func (s *Subscription) onData(args []json.RawMessage) {
	for _, callback := range s.callbacks.get() {
		callback(args)
	}
}

//Subscribe returns the subscription for eventName, creating it on first use.  Event names are case insensitive.
func (p *HubProxy) Subscribe(eventName string) (*Subscription, error) {
	if eventName == "" {
		return nil, InvalidOperationError("Event name is empty.")
	}

	p.subscriptionsMutex.Lock()
	defer p.subscriptionsMutex.Unlock()

	key := strings.ToLower(eventName)
	if subscription, ok := p.subscriptions[key]; ok {
		return subscription, nil
	}
	subscription := &Subscription{name: eventName}
	p.subscriptions[key] = subscription
	return subscription, nil
}

//On subscribes fn to eventName.  Returns a function that removes it.
func (p *HubProxy) On(eventName string, fn func(args []json.RawMessage)) (func(), error) {
	subscription, err := p.Subscribe(eventName)
	if err != nil {
		return nil, err
	}
	return subscription.Received(fn), nil
}

//Subscriptions names of the subscribed events, sorted.
func (p *HubProxy) Subscriptions() []string {
	p.subscriptionsMutex.Lock()
	defer p.subscriptionsMutex.Unlock()

	names := make([]string, 0, len(p.subscriptions))
	for _, subscription := range p.subscriptions {
		names = append(names, subscription.name)
	}
	slices.Sort(names)
	return names
}

//invokeEvent an event without subscribers is ignored.
func (p *HubProxy) invokeEvent(eventName string, args []json.RawMessage) {
	p.subscriptionsMutex.Lock()
	subscription, ok := p.subscriptions[strings.ToLower(eventName)]
	p.subscriptionsMutex.Unlock()

	if !ok {
		glog.V(3).Infof("[hub]%s %s.%s has no subscribers\n", p.conn.id, p.name, eventName)
		return
	}
	subscription.onData(args)
}

//Invoke calls method on the hub.  The future carries the raw result, nil when the hub returned nothing.
//A server reported error fails it with a *HubError.
func (p *HubProxy) Invoke(method string, args ...interface{}) *future.Future[json.RawMessage] {
	sched := p.conn.sched
	if method == "" {
		return future.FromError[json.RawMessage](sched, InvalidOperationError("Method is null or empty."))
	}
	if args == nil {
		args = []interface{}{}
	}

	invocation := hubInvocation{
		Hub:        p.name,
		Method:     method,
		Arguments:  args,
		State:      p.stateSnapshot(),
		Identifier: hubCallbackID,
	}

	data, err := json.Marshal(invocation)
	if err != nil {
		return future.FromError[json.RawMessage](sched, CallHubError(err.Error()))
	}

	glog.V(2).Infof("[hub]%s invoke %s.%s\n", p.conn.id, p.name, method)

	source := future.NewCompletionSource[json.RawMessage](sched)
	key := p.track(source)

	p.conn.Send(string(data)).OnComplete(func(sent *future.Future[*HubResult]) {
		p.untrack(key)

		result, err := sent.Result()
		if err != nil {
			source.TrySetException(err)
			return
		}
		if result == nil {
			source.TrySetException(CallHubError(fmt.Sprintf("Call to method %s returned no result.", method)))
			return
		}
		if result.Error != "" {
			source.TrySetException(&HubError{Message: result.Error, Data: result.ErrorData})
			return
		}

		p.mergeState(result.State)

		if isNullPayload(result.Result) {
			source.TrySetResult(nil)
			return
		}
		source.TrySetResult(result.Result)
	})

	return source.Future()
}

//InvokeAs calls method and decodes the result into T.  An absent result yields T's zero value.
func InvokeAs[T any](p *HubProxy, method string, args ...interface{}) *future.Future[T] {
	return future.Then(p.Invoke(method, args...), func(raw json.RawMessage) (T, error) {
		var v T
		if isNullPayload(raw) {
			return v, nil
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return v, CallHubError(fmt.Sprintf("Unable to parse response into type provided for call to %s: %s", method, string(raw)))
		}
		return v, nil
	})
}

func (p *HubProxy) track(source *future.CompletionSource[json.RawMessage]) ulid.ULID {
	key := ulid.Make()

	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()
	p.pending[key] = source
	return key
}

func (p *HubProxy) untrack(key ulid.ULID) {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()
	delete(p.pending, key)
}

//Pending number of invocations still waiting on a result.
func (p *HubProxy) Pending() int {
	p.pendingMutex.Lock()
	defer p.pendingMutex.Unlock()
	return len(p.pending)
}

func (p *HubProxy) clearPending(err error) {
	p.pendingMutex.Lock()
	pending := p.pending
	p.pending = map[ulid.ULID]*future.CompletionSource[json.RawMessage]{}
	p.pendingMutex.Unlock()

	if len(pending) > 0 {
		glog.V(2).Infof("[hub]%s %s dropping %d pending invocations\n", p.conn.id, p.name, len(pending))
	}
	for _, source := range pending {
		source.TrySetException(err)
	}
}

func isNullPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
