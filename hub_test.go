package signalr

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/go-playground/assert/v2"

	"gitlab.com/techviking/signalr/v3/future"
)

func newTestHub(t *testing.T, transport Transport, handler func(call fakeCall) (string, error)) (*HubConnection, *fakeHTTPClient) {
	cfg, fake := testConfig(t, transport, handler)
	cfg.ConnectionURL.Path = ""
	return NewHubConnection(cfg), fake
}

func respondWith(result *HubResult) func(c *client, data string) *future.Future[*HubResult] {
	return func(c *client, data string) *future.Future[*HubResult] {
		return future.FromResult(c.sched, result)
	}
}

func TestHubConnectionURL(t *testing.T) {
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, nil)
	assert.Equal(t, hub.URL(), "http://example.test/signalr/")
}

func TestCreateProxy(t *testing.T) {
	//Assemble
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, negotiateThen(nil))

	//Act
	first, err := hub.CreateProxy("Chat")
	again, againErr := hub.CreateProxy("chat")
	_, emptyErr := hub.CreateProxy("")

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, againErr, nil)
	assert.Equal(t, first == again, true)
	assert.Equal(t, first.Name(), "Chat")
	assert.NotEqual(t, emptyErr, nil)

	found, ok := hub.Proxy("CHAT")
	assert.Equal(t, ok, true)
	assert.Equal(t, found == first, true)
}

func TestCreateProxyAfterStart(t *testing.T) {
	//Assemble
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, negotiateThen(nil))
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	proxy, err := hub.CreateProxy("late")

	//Assert
	var invalid InvalidOperationError
	assert.Equal(t, errors.As(err, &invalid), true)
	assert.Equal(t, proxy, nil)
}

func TestHubConnectionDataIsSorted(t *testing.T) {
	//Assemble
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, nil)
	hub.CreateProxy("zeta")
	hub.CreateProxy("Alpha")

	//Act
	data := hub.onSending()

	//Assert
	assert.Equal(t, data, `[{"Name":"Alpha"},{"Name":"zeta"}]`)
}

func TestHubConnectionDataOnConnect(t *testing.T) {
	//Assemble
	lp := fastLongPolling()
	hub, fake := newTestHub(t, lp, negotiateThen(func(call fakeCall) (string, error) {
		return call.hang()
	}))
	hub.CreateProxy("chat")

	//Act
	_, err := await(t, hub.Start())

	//Assert
	assert.Equal(t, err, nil)
	eventually(t, "connect poll", func() bool {
		return len(fake.callsTo("connect")) == 1
	})
	assert.Equal(t, fake.callsTo("connect")[0].query("connectionData"), `[{"Name":"chat"}]`)

	hub.Stop()
}

func TestInvokeWireFormat(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake", sendFunc: respondWith(&HubResult{ID: "1", Result: json.RawMessage(`"ok"`)})}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	proxy.Set("Mood", "calm")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	result, err := await(t, InvokeAs[string](proxy, "Send", "hi", 2))

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, result, "ok")
	assert.Equal(t, transport.sentData(), []string{`{"H":"Chat","M":"Send","A":["hi",2],"S":{"Mood":"calm"},"I":"1"}`})
	assert.Equal(t, proxy.Pending(), 0)
}

func TestInvokeWithoutArguments(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake"}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	raw, err := await(t, proxy.Invoke("Ping"))

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, raw == nil, true)
	assert.Equal(t, transport.sentData(), []string{`{"H":"Chat","M":"Ping","A":[],"I":"1"}`})
}

func TestInvokeEmptyMethod(t *testing.T) {
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")

	_, err := await(t, proxy.Invoke(""))

	var invalid InvalidOperationError
	assert.Equal(t, errors.As(err, &invalid), true)
}

func TestInvokeBeforeStart(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake"}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")

	//Act
	_, err := await(t, proxy.Invoke("Send"))

	//Assert
	var invalid InvalidOperationError
	assert.Equal(t, errors.As(err, &invalid), true)
	assert.Equal(t, len(transport.sentData()), 0)
	assert.Equal(t, proxy.Pending(), 0)
}

func TestInvokeServerError(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake", sendFunc: respondWith(&HubResult{
		ID:        "1",
		Error:     "boom",
		ErrorData: json.RawMessage(`{"code":7}`),
	})}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	result, err := await(t, InvokeAs[int](proxy, "Add", 1, 2))

	//Assert
	var hubErr *HubError
	assert.Equal(t, errors.As(err, &hubErr), true)
	assert.Equal(t, hubErr.Error(), "boom")
	assert.Equal(t, string(hubErr.Data), `{"code":7}`)
	assert.Equal(t, result, 0)
}

func TestInvokeMergesReturnedState(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake", sendFunc: respondWith(&HubResult{
		ID:    "1",
		State: map[string]json.RawMessage{"Counter": json.RawMessage(`3`)},
	})}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	raw, err := await(t, proxy.Invoke("Count"))

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, raw == nil, true)
	counter, err := GetValue[int](proxy, "counter")
	assert.Equal(t, err, nil)
	assert.Equal(t, counter, 3)
}

func TestInvokeNilResult(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake", sendFunc: respondWith(nil)}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	_, err = await(t, proxy.Invoke("Send"))

	//Assert
	var callErr CallHubError
	assert.Equal(t, errors.As(err, &callErr), true)
}

func TestInvokeAsUndecodableResult(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake", sendFunc: respondWith(&HubResult{ID: "1", Result: json.RawMessage(`"seven"`)})}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	//Act
	_, err = await(t, InvokeAs[int](proxy, "Count"))

	//Assert
	var callErr CallHubError
	assert.Equal(t, errors.As(err, &callErr), true)
}

func TestStopResolvesPendingInvocations(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake", sendFunc: func(c *client, data string) *future.Future[*HubResult] {
		return future.NewCompletionSource[*HubResult](c.sched).Future()
	}}
	hub, _ := newTestHub(t, transport, negotiateThen(nil))
	proxy, _ := hub.CreateProxy("Chat")
	_, err := await(t, hub.Start())
	assert.Equal(t, err, nil)

	first := proxy.Invoke("Slow")
	second := proxy.Invoke("Slower")
	assert.Equal(t, proxy.Pending(), 2)

	//Act
	hub.Stop()

	//Assert
	_, err = await(t, first)
	assert.Equal(t, err, error(errDisconnected))
	_, err = await(t, second)
	assert.Equal(t, err, error(errDisconnected))
	assert.Equal(t, proxy.Pending(), 0)
}

func TestHubPushDispatch(t *testing.T) {
	//Assemble
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, negotiateThen(nil))
	chat, _ := hub.CreateProxy("Chat")
	other, _ := hub.CreateProxy("Other")

	var got []string
	var mutex sync.Mutex
	remove, err := chat.On("said", func(args []json.RawMessage) {
		mutex.Lock()
		defer mutex.Unlock()
		var text string
		json.Unmarshal(args[0], &text)
		got = append(got, text)
	})
	assert.Equal(t, err, nil)
	otherCalls := 0
	other.On("said", func(args []json.RawMessage) {
		otherCalls++
	})

	//Act
	hub.conn.processResponse(`{"C":"1","M":[{"H":"chat","M":"Said","A":["hi"],"S":{"mood":"happy"}}]}`)
	hub.conn.processResponse(`{"C":"2","M":[{"H":"nobody","M":"said","A":["lost"]}]}`)
	remove()
	hub.conn.processResponse(`{"C":"3","M":[{"H":"chat","M":"said","A":["unheard"]}]}`)

	//Assert
	mutex.Lock()
	assert.Equal(t, got, []string{"hi"})
	mutex.Unlock()
	assert.Equal(t, otherCalls, 0)
	mood, err := GetValue[string](chat, "Mood")
	assert.Equal(t, err, nil)
	assert.Equal(t, mood, "happy")
}

func TestHubPushMalformed(t *testing.T) {
	//Assemble
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, negotiateThen(nil))
	hub.CreateProxy("Chat")
	errs := make(chan error, 1)
	hub.OnError(func(err error) {
		errs <- err
	})

	//Act
	hub.conn.processResponse(`{"M":[[1,2,3]]}`)

	//Assert
	var messageErr HubMessageError
	assert.Equal(t, errors.As(<-errs, &messageErr), true)
}

func TestProxyStateIsCaseInsensitive(t *testing.T) {
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, nil)
	proxy, _ := hub.CreateProxy("Chat")

	assert.Equal(t, proxy.Set("UserName", "ada"), nil)
	assert.Equal(t, proxy.Set("username", "grace"), nil)

	name, err := GetValue[string](proxy, "USERNAME")
	assert.Equal(t, err, nil)
	assert.Equal(t, name, "grace")
	assert.Equal(t, len(proxy.stateSnapshot()), 1)

	missing, err := GetValue[int](proxy, "missing")
	assert.Equal(t, err, nil)
	assert.Equal(t, missing, 0)
}

func TestProxySubscriptions(t *testing.T) {
	hub, _ := newTestHub(t, &fakeTransport{name: "fake"}, nil)
	proxy, _ := hub.CreateProxy("Chat")

	first, err := proxy.Subscribe("Said")
	assert.Equal(t, err, nil)
	again, _ := proxy.Subscribe("said")
	proxy.Subscribe("Joined")
	_, emptyErr := proxy.Subscribe("")

	assert.Equal(t, first == again, true)
	assert.Equal(t, first.Name(), "Said")
	assert.Equal(t, proxy.Subscriptions(), []string{"Joined", "Said"})
	assert.NotEqual(t, emptyErr, nil)
}
