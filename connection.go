package signalr

import (
	"fmt"

	"gitlab.com/techviking/signalr/v3/future"
)

//ConnectionState int representing current state of the SignalR Client
type ConnectionState int

//SignalR Client State Values
const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(cs))
	}
}

//StateChange old and new state of a transition.
type StateChange struct {
	OldState ConnectionState
	NewState ConnectionState
}

//Connection specify interface methods that allow consumer to interact with a connection type.
type Connection interface {
	State() ConnectionState
	//ChangeState moves oldState to newState. Rejected, returning false, if the current state is not oldState.
	ChangeState(oldState ConnectionState, newState ConnectionState) bool

	//Start negotiates and starts the transport. Concurrent calls while connecting share one future.
	Start() *future.Future[struct{}]
	//Stop aborts the transport and disconnects. No-op when already disconnected.
	Stop()
	//Close stops the connection and releases the goroutine behind the default scheduler.  The
	//connection cannot be started again afterwards.
	Close()

	Send(data string) *future.Future[*HubResult]
	SendJSON(v interface{}) *future.Future[*HubResult]

	URL() string
	QueryString() string
	ConnectionID() string
	ConnectionToken() string
	GroupsToken() string
	MessageID() string
	Groups() []string
	SetGroups(groups []string)
	IsActive() bool
	Transport() Transport
	Scheduler() future.Scheduler

	//each On* registers a callback and returns a function that removes it.
	//callbacks run on the connection's scheduler.
	OnReceived(func(message string)) func()
	OnError(func(err error)) func()
	OnClosed(func()) func()
	OnReconnected(func()) func()
	OnStateChanged(func(change StateChange)) func()
	OnHeartbeat(func(hb Heartbeat)) func()

	ListenToErrors() <-chan error
}
