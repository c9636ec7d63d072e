// Package channel implements the framed connection a session runs over:
// length-prefixed frames, the version/ping handshake, ping monitoring, and
// TCP, WebSocket and in-memory pipe transports.
package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum frame body: kind byte plus payload.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Kind discriminates frames.
type Kind uint8

const (
	KindHandshake    Kind = 1
	KindHandshakeAck Kind = 2
	KindData         Kind = 3
	KindPing         Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindHandshakeAck:
		return "handshake_ack"
	case KindData:
		return "data"
	case KindPing:
		return "ping"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Frame is one unit read from a transport. Payload is only valid until the
// next read.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates an unreadable frame body.
	FrameErrorDecode
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if this error is fatal for the channel.
// Partial and oversized frames leave the stream unsynchronized.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder decodes length-prefixed frames from a stream. It reuses one
// buffer across reads.
type FrameDecoder struct {
	reader io.Reader
	buf    []byte
}

// NewFrameDecoder creates a new frame decoder.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r}
}

// ReadFrame reads a single frame from the stream.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
//   - *FrameError with Kind=FrameErrorDecode: empty frame body
func (d *FrameDecoder) ReadFrame() (Frame, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		return Frame{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > MaxPayloadSize {
		return Frame{}, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}
	if size == 0 {
		return Frame{}, &FrameError{Kind: FrameErrorDecode, Msg: "empty frame"}
	}

	if cap(d.buf) < int(size) {
		d.buf = make([]byte, size)
	}
	body := d.buf[:size]
	if _, err := io.ReadFull(d.reader, body); err != nil {
		return Frame{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}
	return Frame{Kind: Kind(body[0]), Payload: body[1:]}, nil
}

// AppendFrame appends the wire form of a frame to dst.
func AppendFrame(dst []byte, kind Kind, payload []byte) ([]byte, error) {
	if len(payload)+1 > MaxPayloadSize {
		return dst, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload)+1, MaxPayloadSize),
		}
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)+1))
	dst = append(dst, byte(kind))
	return append(dst, payload...), nil
}

// WriteFrame writes one frame with a single Write call.
func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	b, err := AppendFrame(make([]byte, 0, LengthPrefixSize+1+len(payload)), kind, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
