package sandbox

import (
	"sync"

	"github.com/buremba/capsulegate/internal/gwerr"
)

// boundedBuffer accumulates stream output up to a fixed capacity. Writes
// past the limit return an OutputLimitExceeded error instead of silently
// truncating (spec §4.5: exceeding a buffer aborts the run).
type boundedBuffer struct {
	mu       sync.Mutex
	data     []byte
	limit    int64
	onChunk  func([]byte)
}

func newBoundedBuffer(limit int64, onChunk func([]byte)) *boundedBuffer {
	return &boundedBuffer{limit: limit, onChunk: onChunk}
}

func (b *boundedBuffer) Write(chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if int64(len(b.data)+len(chunk)) > b.limit {
		return gwerr.New(gwerr.OutputLimitExceeded, "output exceeded %d bytes", b.limit)
	}
	b.data = append(b.data, chunk...)
	if b.onChunk != nil {
		b.onChunk(chunk)
	}
	return nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
