package pool

import (
	"errors"

	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/failure"
	"github.com/pithecene-io/sluice/msg"
)

// DefaultBufferSize is the initial size of pooled encode buffers.
const DefaultBufferSize = 6 * 1024

// maxBufferSize bounds buffer growth on ErrBufferTooSmall.
const maxBufferSize = 16 << 20

// Buffer is a pooled encode buffer.
type Buffer struct {
	B []byte
}

// Set groups the pools one session uses, keyed by object kind.
type Set struct {
	Buffers  *Pool[Buffer]
	Encoders *Pool[codec.EncodeIterator]
	Decoders *Pool[codec.DecodeIterator]
	Msgs     *Pool[msg.Msg]
}

// NewSet returns pools holding at most maxIdle idle objects of each kind.
func NewSet(bufferSize, maxIdle int) *Set {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Set{
		Buffers: New(maxIdle,
			func() *Buffer { return &Buffer{B: make([]byte, bufferSize)} },
			nil),
		Encoders: New(maxIdle,
			func() *codec.EncodeIterator { return codec.NewEncodeIterator(nil) },
			func(it *codec.EncodeIterator) { it.Reset(nil) }),
		Decoders: New(maxIdle,
			func() *codec.DecodeIterator { return codec.NewDecodeIterator(nil) },
			func(it *codec.DecodeIterator) { it.Reset(nil) }),
		Msgs: New(maxIdle,
			func() *msg.Msg { return &msg.Msg{} },
			func(m *msg.Msg) { *m = msg.Msg{} }),
	}
}

// Encode encodes m with wire version v into a pooled buffer and passes the
// bytes to fn. The buffer grows and the whole message is encoded again
// while it is too small. The bytes are only valid during fn.
func (s *Set) Encode(m *msg.Msg, v codec.Version, fn func([]byte) error) error {
	buf := s.Buffers.Acquire()
	defer s.Buffers.Release(buf)
	it := s.Encoders.Acquire()
	defer s.Encoders.Release(it)

	for {
		it.Reset(buf.B)
		it.SetVersion(v)
		err := m.Encode(it)
		if err == nil {
			return fn(it.Bytes())
		}
		if !errors.Is(err, failure.ErrBufferTooSmall) || len(buf.B) >= maxBufferSize {
			return err
		}
		buf.B = make([]byte, 2*len(buf.B))
	}
}
