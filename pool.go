package mqtt

import (
	"bytes"
	"sync"
)

// maxPooledBuffer keeps large one-off packets out of the pool.
const maxPooledBuffer = 64 * 1024

// bufferPool holds encode buffers for control packets. Publish headers are
// not pooled: a partial write keeps them until the drain finishes.
var bufferPool = sync.Pool{
	New: func() any {
		return new(bytes.Buffer)
	},
}

func getBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(b)
}
