//Package eventstream incrementally parses a text/event-stream response body.
package eventstream

import (
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"gitlab.com/techviking/signalr/v3/future"
	"gitlab.com/techviking/signalr/v3/internal/netutil"
)

//ChunkSize bytes requested per read.
const ChunkSize = 1024

//initializedMarker data sent by the server once the stream is set up. Carries no payload.
const initializedMarker = "initialized"

//Handler receives parsed events on the scheduler's driver.
type Handler interface {
	//OnID the stream's cursor moved.
	OnID(id string)
	//OnData a payload line. Returning true halts the current processing pass.
	OnData(data string) (halt bool)
	//OnError a read failure worth surfacing.
	OnError(err error)
}

//Reader pumps a stream into a ChunkBuffer on a background goroutine and processes
//complete lines on the scheduler, while the next read is already in flight.
type Reader struct {
	stream  io.Reader
	sched   future.Scheduler
	handler Handler
	onClose func()

	buffer  *ChunkBuffer
	reading atomic.Bool

	processMutex sync.Mutex
	processing   bool
	//passes requested while another pass was draining
	deferred int
}

//NewReader creates a reader. onClose runs when the stream ends or fails, unless the
//reader was stopped without asking for it.
func NewReader(stream io.Reader, sched future.Scheduler, handler Handler, onClose func()) *Reader {
	return &Reader{
		stream:  stream,
		sched:   sched,
		handler: handler,
		onClose: onClose,
		buffer:  NewChunkBuffer(),
	}
}

//Reading true between Start and Stop.
func (r *Reader) Reading() bool {
	return r.reading.Load()
}

//Start begin reading. Calling it twice has no effect.
func (r *Reader) Start() {
	if r.reading.CompareAndSwap(false, true) {
		go r.readLoop()
	}
}

//Stop halt reading and processing. raiseClose runs the close callback.
func (r *Reader) Stop(raiseClose bool) {
	if r.reading.CompareAndSwap(true, false) && raiseClose && r.onClose != nil {
		r.onClose()
	}
}

func (r *Reader) readLoop() {
	chunk := make([]byte, ChunkSize)
	for r.Reading() {
		n, err := r.stream.Read(chunk)
		if n > 0 {
			r.buffer.Add(chunk[:n])
			r.sched.Post(r.processBuffer)
		}
		if err != nil {
			r.sched.Post(func() { r.readFailed(err) })
			return
		}
	}
}

func (r *Reader) readFailed(err error) {
	if !r.Reading() {
		return
	}

	switch {
	case errors.Is(err, io.EOF):
		glog.V(2).Infof("[sse]end of stream\n")
		r.Stop(true)
	case netutil.IsAborted(err):
		r.Stop(false)
	case netutil.IsTransient(err):
		glog.V(2).Infof("[sse]read error = %s\n", err)
		r.Stop(true)
	default:
		glog.Infof("[sse]read error = %s\n", err)
		r.handler.OnError(err)
		r.Stop(true)
	}
}

func (r *Reader) processBuffer() {
	if !r.Reading() {
		return
	}

	r.processMutex.Lock()
	if r.processing {
		r.deferred++
		r.processMutex.Unlock()
		return
	}
	r.processing = true
	r.processMutex.Unlock()

	defer func() {
		r.processMutex.Lock()
		r.processing = false
		r.deferred = 0
		r.processMutex.Unlock()
	}()

	passes := 1
	for passes > 0 {
		for n := passes; n > 0; n-- {
			if !r.Reading() {
				return
			}
			r.processChunks()
		}

		r.processMutex.Lock()
		passes = r.deferred
		r.deferred = 0
		r.processMutex.Unlock()
	}
}

func (r *Reader) processChunks() {
	for r.Reading() && r.buffer.HasChunks() {
		line, ok := r.buffer.ReadLine()
		if !ok {
			return
		}
		if !r.Reading() {
			return
		}

		event, ok := ParseEvent(line)
		if !ok {
			continue
		}
		if !r.Reading() {
			return
		}

		glog.V(3).Infof("[sse]read %s\n", event)

		switch event.Type {
		case EventID:
			r.handler.OnID(event.Data)
		case EventData:
			if strings.EqualFold(event.Data, initializedMarker) {
				continue
			}
			if r.handler.OnData(event.Data) {
				return
			}
		}
	}
}
