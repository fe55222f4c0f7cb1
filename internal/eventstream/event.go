package eventstream

import (
	"fmt"
	"strings"
)

//EventType kind of line on a text/event-stream.
type EventType int

//Event types understood by the reader
const (
	EventID EventType = iota
	EventData
)

func (et EventType) String() string {
	switch et {
	case EventID:
		return "id"
	case EventData:
		return "data"
	default:
		return fmt.Sprintf("EventType(%d)", int(et))
	}
}

//Event one parsed line.
type Event struct {
	Type EventType
	Data string
}

func (e Event) String() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Data)
}

//ParseEvent parses an "id:" or "data:" line. Any other line, including blank event
//separators and comments, yields ok == false.
func ParseEvent(line string) (event Event, ok bool) {
	switch {
	case strings.HasPrefix(line, "data:"):
		return Event{Type: EventData, Data: strings.TrimSpace(line[len("data:"):])}, true
	case strings.HasPrefix(line, "id:"):
		return Event{Type: EventID, Data: strings.TrimSpace(line[len("id:"):])}, true
	default:
		return Event{}, false
	}
}
