package codec

import "github.com/pithecene-io/sluice/failure"

const (
	rmtesESC          = 0x1B
	rmtesCSI          = '['
	rmtesCursorMove   = 0x60
	rmtesRepeatChar   = 0x62
	maxRmtesCacheSize = 0xFFFF
)

// RmtesCache is the materialized value of one RMTES field on one stream.
// Partial updates rewrite it in place, so the caller keeps one cache per
// (stream, field id) for as long as the subscription lives.
type RmtesCache struct {
	Data []byte
}

// String returns the cached bytes as text.
func (c *RmtesCache) String() string {
	return string(c.Data)
}

// Reset clears the cache.
func (c *RmtesCache) Reset() {
	c.Data = c.Data[:0]
}

// HasPartialUpdate reports whether b carries cursor or repeat commands.
func HasPartialUpdate(b []byte) bool {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == rmtesESC && b[i+1] == rmtesCSI {
			return true
		}
	}
	return false
}

// Apply applies an RMTES value to the cache. A value without partial
// update commands replaces the cache; otherwise bytes are written at the
// cursor over the existing content and the cache grows as needed.
// Other escape sequences are kept as text. On error the cache is unchanged.
func (c *RmtesCache) Apply(b []byte) error {
	const op = "apply rmtes"
	if !HasPartialUpdate(b) {
		c.Data = append(c.Data[:0], b...)
		return nil
	}
	data := append(make([]byte, 0, len(c.Data)+len(b)), c.Data...)
	cursor := 0
	write := func(v byte) error {
		if cursor >= maxRmtesCacheSize {
			return failure.Decode(op, "cursor %d exceeds %d", cursor, maxRmtesCacheSize)
		}
		for len(data) <= cursor {
			data = append(data, ' ')
		}
		data[cursor] = v
		cursor++
		return nil
	}
	for i := 0; i < len(b); {
		if b[i] != rmtesESC || i+1 >= len(b) || b[i+1] != rmtesCSI {
			if err := write(b[i]); err != nil {
				return err
			}
			i++
			continue
		}
		n, j := 0, i+2
		for ; j < len(b) && b[j] >= '0' && b[j] <= '9'; j++ {
			n = n*10 + int(b[j]-'0')
			if n > maxRmtesCacheSize {
				return failure.Decode(op, "argument exceeds %d", maxRmtesCacheSize)
			}
		}
		if j >= len(b) {
			return failure.Decode(op, "unterminated command at offset %d", i)
		}
		switch b[j] {
		case rmtesCursorMove:
			cursor = n
		case rmtesRepeatChar:
			if cursor == 0 || cursor > len(data) {
				return failure.Decode(op, "repeat with no previous character at offset %d", i)
			}
			prev := data[cursor-1]
			for range n {
				if err := write(prev); err != nil {
					return err
				}
			}
		default:
			return failure.Decode(op, "unknown command 0x%02x at offset %d", b[j], j)
		}
		i = j + 1
	}
	c.Data = data
	return nil
}
