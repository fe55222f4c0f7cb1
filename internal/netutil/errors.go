//Package netutil classifies transport I/O failures.
package netutil

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

//ErrRequestAborted carried by a request that was aborted by its owner.
var ErrRequestAborted = errors.New("request aborted")

//IsAborted true when err comes from a request we canceled ourselves.
func IsAborted(err error) bool {
	return errors.Is(err, ErrRequestAborted) || errors.Is(err, context.Canceled)
}

//IsTransient true for bare stream I/O failures: the peer went away mid-exchange and a
//plain retry is expected to work.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return true
	default:
		return false
	}
}
