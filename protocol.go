package signalr

import (
	"bytes"
	"encoding/json"
	"strconv"
)

//NegotiationResponse answer of the negotiate endpoint.
type NegotiationResponse struct {
	ConnectionToken         string  `json:"ConnectionToken"`
	URL                     string  `json:"Url"`
	ConnectionID            string  `json:"ConnectionId"`
	KeepAliveTimeout        float64 `json:"KeepAliveTimeout"`
	DisconnectTimeout       float64 `json:"DisconnectTimeout"`
	ConnectionTimeout       float64 `json:"ConnectionTimeout"`
	TryWebSockets           bool    `json:"TryWebSockets"`
	ProtocolVersion         string  `json:"ProtocolVersion"`
	TransportConnectTimeout float64 `json:"TransportConnectTimeout"`
	LongPollDelay           float64 `json:"LongPollDelay"`
}

//jsonFlag decodes true/false as well as the 1/0 some servers send.
type jsonFlag bool

func (f *jsonFlag) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*f = true
		return nil
	case "false", "0", "null":
		*f = false
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	b, err := strconv.ParseBool(s)
	*f = jsonFlag(b)
	return err
}

//transportData groups the server wants the client to carry.
type transportData struct {
	Groups []string `json:"G"`
}

//ReceiveEnvelope one batch of server to client messages.
type ReceiveEnvelope struct {
	TimedOut      jsonFlag          `json:"TimedOut"`
	Disconnect    jsonFlag          `json:"Disconnect"`
	Messages      []json.RawMessage `json:"M"`
	MessageID     *string           `json:"C"`
	GroupsToken   *string           `json:"G"`
	TransportData *transportData    `json:"T"`
}

//keepAlive true for an envelope with no fields at all.
func (re *ReceiveEnvelope) keepAlive() bool {
	return !bool(re.TimedOut) && !bool(re.Disconnect) && re.Messages == nil &&
		re.MessageID == nil && re.GroupsToken == nil && re.TransportData == nil
}

//HubResult outcome of a hub invocation.
type HubResult struct {
	ID        string                     `json:"I"`
	Result    json.RawMessage            `json:"R,omitempty"`
	Error     string                     `json:"E,omitempty"`
	ErrorData json.RawMessage            `json:"D,omitempty"`
	State     map[string]json.RawMessage `json:"S,omitempty"`
}

//hubInvocation client to server call.
type hubInvocation struct {
	Hub        string                     `json:"H"`
	Method     string                     `json:"M"`
	Arguments  []interface{}              `json:"A"`
	State      map[string]json.RawMessage `json:"S,omitempty"`
	Identifier string                     `json:"I"`
}

//MessageDataPayload server to client hub push.
type MessageDataPayload struct {
	HubName   string                     `json:"H"`
	Method    string                     `json:"M"`
	Arguments []json.RawMessage          `json:"A"`
	State     map[string]json.RawMessage `json:"S,omitempty"`
}

//hubRegistration one entry of the connectionData query parameter.
type hubRegistration struct {
	Name string `json:"Name"`
}
