package eventstream

import (
	"bytes"
	"sync"
)

//ChunkBuffer accumulates raw stream chunks and hands back complete lines.
//Add is called by the reading goroutine while ReadLine is called by the driver.
type ChunkBuffer struct {
	mutex sync.Mutex
	buf   []byte
	//bytes before offset are already known not to contain a newline
	offset int
}

//NewChunkBuffer creates an empty buffer.
func NewChunkBuffer() *ChunkBuffer {
	return &ChunkBuffer{}
}

//Add append a chunk.
func (b *ChunkBuffer) Add(chunk []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.buf = append(b.buf, chunk...)
}

//HasChunks true while there are bytes that have not been scanned yet.
func (b *ChunkBuffer) HasChunks() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.offset < len(b.buf)
}

//ReadLine returns the next newline-terminated line without its terminator.
//The consumed line is compacted out of the buffer. ok is false when no complete line is buffered.
func (b *ChunkBuffer) ReadLine() (line string, ok bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	i := bytes.IndexByte(b.buf[b.offset:], '\n')
	if i < 0 {
		b.offset = len(b.buf)
		return "", false
	}
	end := b.offset + i
	line = string(b.buf[:end])

	n := copy(b.buf, b.buf[end+1:])
	b.buf = b.buf[:n]
	b.offset = 0
	return line, true
}

//Len buffered bytes, consumed lines excluded.
func (b *ChunkBuffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.buf)
}
