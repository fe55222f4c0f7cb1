package signalr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSendBeforeStart(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake"}
	c, _ := newTestClient(t, transport, negotiateThen(nil))

	//Act
	_, err := await(t, c.Send("hello"))

	//Assert
	var invalid InvalidOperationError
	assert.Equal(t, errors.As(err, &invalid), true)
	assert.Equal(t, len(transport.sentData()), 0)
}

func TestSendWhileReconnectingIsRejected(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake"}
	c, _ := newTestClient(t, transport, negotiateThen(nil))
	_, err := await(t, c.Start())
	assert.Equal(t, err, nil)
	c.ChangeState(Connected, Reconnecting)

	//Act
	_, err = await(t, c.Send("hello"))

	//Assert
	var invalid InvalidOperationError
	assert.Equal(t, errors.As(err, &invalid), true)
}

func TestSendJSON(t *testing.T) {
	//Assemble
	transport := &fakeTransport{name: "fake"}
	c, _ := newTestClient(t, transport, negotiateThen(nil))
	_, err := await(t, c.Start())
	assert.Equal(t, err, nil)

	//Act
	_, err = await(t, c.SendJSON(map[string]int{"n": 1}))

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, transport.sentData(), []string{`{"n":1}`})

	_, err = await(t, c.SendJSON(func() {}))
	var callErr CallHubError
	assert.Equal(t, errors.As(err, &callErr), true)
}

func TestHTTPSendRequest(t *testing.T) {
	//Assemble
	cfg, fake := testConfig(t, &fakeTransport{name: "fake"}, func(call fakeCall) (string, error) {
		return `{"I":"1","R":3}`, nil
	})
	cfg.QueryString = map[string]string{"tenant": "acme"}
	c := newClient(cfg, nil)
	c.setIdentity(&NegotiationResponse{ConnectionID: "c-1", ConnectionToken: "t/1"})
	transport := &httpBasedTransport{name: longPollingName}

	//Act
	result, err := await(t, transport.send(c, `{"H":"chat"}`))

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, result.ID, "1")
	assert.Equal(t, string(result.Result), "3")

	calls := fake.all()
	assert.Equal(t, len(calls), 1)
	assert.Equal(t, calls[0].method, http.MethodPost)
	assert.Equal(t, calls[0].url, "http://example.test/signalr/send?transport=longPolling&connectionToken=t%2F1&tenant=acme")
	assert.Equal(t, calls[0].form, map[string]string{"data": `{"H":"chat"}`})
}

func TestHTTPSendEmptyResponseIsNull(t *testing.T) {
	//Assemble
	c, _ := newTestClient(t, &fakeTransport{name: "fake"}, func(call fakeCall) (string, error) {
		return "", nil
	})
	transport := &httpBasedTransport{name: serverSentEventsName}

	//Act
	result, err := await(t, transport.send(c, "x"))

	//Assert
	assert.Equal(t, err, nil)
	assert.Equal(t, result.Error, "Response is null")
}

func TestHTTPSendFailure(t *testing.T) {
	//Assemble
	c, _ := newTestClient(t, &fakeTransport{name: "fake"}, func(call fakeCall) (string, error) {
		return "", &HTTPStatusError{StatusCode: 500, Status: "500 Internal Server Error"}
	})
	transport := &httpBasedTransport{name: serverSentEventsName}

	//Act
	_, err := await(t, transport.send(c, "x"))

	//Assert
	var statusErr *HTTPStatusError
	assert.Equal(t, errors.As(err, &statusErr), true)
	assert.Equal(t, statusErr.StatusCode, 500)
}
