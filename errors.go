package signalr

import (
	"encoding/json"
	"fmt"

	"gitlab.com/techviking/signalr/v3/internal/netutil"
)

// ConnectError used when the connection cannot be started with the given configuration, or was stopped while starting.
type ConnectError string

func (ce ConnectError) Error() string {
	return fmt.Sprintf("ConnectError: %s", string(ce))
}

//NegotiationError error created when negotiation step of connection fails.
type NegotiationError string

// Error implement Error interface
func (ne NegotiationError) Error() string {
	return fmt.Sprintf("NegotiationError: %s", string(ne))
}

//TransportStartError every transport candidate refused to start.
type TransportStartError string

// Error implement Error interface
func (tse TransportStartError) Error() string {
	return fmt.Sprintf("TransportStartError: %s", string(tse))
}

//InvalidOperationError the call is not legal in the connection's current state.
type InvalidOperationError string

// Error implement Error interface
func (ioe InvalidOperationError) Error() string {
	return fmt.Sprintf("InvalidOperationError: %s", string(ioe))
}

//SocketConnectionError error created when connectWebSocket step of connection fails.
type SocketConnectionError string

// Error implement Error interface
func (sce SocketConnectionError) Error() string {
	return fmt.Sprintf("SocketConnectionError: %s", string(sce))
}

//SocketError error created when websocket.ReadMessage or websocket.WriteMessage returns an error..
type SocketError string

// Error implement Error interface
func (se SocketError) Error() string {
	return fmt.Sprintf("SocketError: %s", string(se))
}

//HubMessageError error created when unable to parse the messagedata from the serverMessage
type HubMessageError string

//Error implement the error interface
func (hme HubMessageError) Error() string {
	return fmt.Sprintf("HubMessageError: %s", string(hme))
}

// CallHubError error generated when a hub invocation result cannot be used locally
type CallHubError string

func (che CallHubError) Error() string {
	return fmt.Sprintf("CallHubError: %s", string(che))
}

//HubError failure reported by the server for a hub invocation. Error returns the server's message verbatim.
type HubError struct {
	Message string
	Data    json.RawMessage
}

func (he *HubError) Error() string {
	return he.Message
}

//HTTPStatusError non-2xx response.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	URL        string
}

func (hse *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTPStatusError: %s returned %s", hse.URL, hse.Status)
}

//errDisconnected resolves invocations still pending when the connection closes.
const errDisconnected = CallHubError("Connection was disconnected before invocation result was received.")

//errResponseIsNull the error string of a send whose response had no body.
const errResponseIsNull = "Response is null"

//ErrRequestAborted carried by requests aborted through Request.Abort.
var ErrRequestAborted = netutil.ErrRequestAborted

//IsRequestAborted true when err comes from a request this client aborted itself.
func IsRequestAborted(err error) bool {
	return netutil.IsAborted(err)
}
