package signalr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

//processResponse decodes one receive envelope and dispatches its messages in order.  Runs on the driver.
func (c *client) processResponse(raw string) (timedOut bool, disconnected bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}

	glog.V(3).Infof("[c]%s receive = %s\n", c.id, raw)

	var envelope ReceiveEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		c.onError(HubMessageError(fmt.Sprintf("Unable to unmarshal receive envelope: %s", err.Error())))
		return false, false
	}

	if envelope.keepAlive() {
		c.onHeartbeat()
		return false, false
	}

	timedOut = bool(envelope.TimedOut)
	if envelope.Disconnect {
		return timedOut, true
	}

	if envelope.GroupsToken != nil {
		c.setGroupsToken(*envelope.GroupsToken)
	}

	if envelope.Messages == nil {
		return timedOut, false
	}

	for _, message := range envelope.Messages {
		c.onReceived(message)
	}

	if envelope.MessageID != nil {
		c.setMessageID(*envelope.MessageID)
	}
	if envelope.TransportData != nil && envelope.TransportData.Groups != nil {
		c.SetGroups(envelope.TransportData.Groups)
	}

	return timedOut, false
}

//onReceived hands one message to the subscribers and the extension.  A panicking handler is reported, not fatal.
func (c *client) onReceived(message json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			glog.Infof("[c]%s receive handler panic = %v\n", c.id, r)
			c.onError(HubMessageError(fmt.Sprintf("receive handler failed: %v", r)))
		}
	}()

	for _, callback := range c.receivedCallbacks.get() {
		callback(string(message))
	}

	if c.ext != nil {
		c.ext.onReceived(message)
	}
}

//cursorBefore true when both cursors are numeric and next would move the cursor backwards.
func cursorBefore(next string, current string) bool {
	if next == "" || current == "" {
		return false
	}
	n, err := strconv.ParseUint(next, 10, 64)
	if err != nil {
		return false
	}
	cur, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return false
	}
	return n < cur
}
