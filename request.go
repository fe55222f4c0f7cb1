package signalr

import (
	"encoding/json"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
)

// Send posts data to the server over the bound transport.  Only legal while Connected; otherwise the returned
// future has already failed with an InvalidOperationError.
func (c *client) Send(data string) *future.Future[*HubResult] {
	switch c.State() {
	case Disconnected:
		return future.FromError[*HubResult](c.sched, InvalidOperationError("Start must be called before data can be sent."))
	case Connecting, Reconnecting:
		return future.FromError[*HubResult](c.sched, InvalidOperationError("The connection has not been established."))
	}

	glog.V(3).Infof("[c]%s send = %s\n", c.id, data)

	return c.transport.send(c, data)
}

// SendJSON marshals v and sends it.
func (c *client) SendJSON(v interface{}) *future.Future[*HubResult] {
	data, err := json.Marshal(v)
	if err != nil {
		return future.FromError[*HubResult](c.sched, CallHubError(err.Error()))
	}
	return c.Send(string(data))
}

//decodeSendResponse an empty body is a failed result, never an implicit success.
func decodeSendResponse(raw string) (*HubResult, error) {
	if raw == "" {
		return &HubResult{Error: errResponseIsNull}, nil
	}

	var result HubResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, CallHubError("Unable to parse send response: " + err.Error())
	}
	return &result, nil
}
