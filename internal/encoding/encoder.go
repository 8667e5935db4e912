package encoding

import (
	"bytes"
	"encoding/json"
	"sync"
)

// BufferPool recycles the scratch buffers used for JSON encoding so the
// hot path (one record per page view) does not allocate per push.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a buffer pool
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// Get retrieves a reset buffer from the pool
func (bp *BufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool. Oversized buffers are dropped so a
// single large payload does not pin memory.
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > 64*1024 {
		return
	}
	bp.pool.Put(buf)
}

// Marshal encodes v into a pooled buffer and returns a copy of the
// encoded bytes without the trailing newline json.Encoder appends
func (bp *BufferPool) Marshal(v interface{}) ([]byte, error) {
	buf := bp.Get()
	defer bp.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}

	data := buf.Bytes()
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}

	// The buffer goes back to the pool, so hand out a copy
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

var defaultPool = NewBufferPool()

// MarshalJSON encodes v using the shared buffer pool
func MarshalJSON(v interface{}) ([]byte, error) {
	return defaultPool.Marshal(v)
}

// UnmarshalJSON decodes data into v
func UnmarshalJSON(data []byte, v interface{}) error {
	return json.NewDecoder(bytes.NewReader(data)).Decode(v)
}
