package codec

import (
	"encoding/binary"
	"errors"

	"github.com/pithecene-io/sluice/failure"
)

// MaxLevels bounds container nesting for both encode and decode.
const MaxLevels = 16

// Length prefix limits.
const (
	maxU15   = 0x7FFF
	maxU16   = 0xFFFF
	maxU30   = 0x3FFFFFFF
	u16obExt = 0xFE
)

// ErrEndOfContainer is returned by DecodeEntry once every entry has been read.
var ErrEndOfContainer = errors.New("end of container")

// levelKind tags what an encode level is waiting for.
type levelKind uint8

const (
	levelContainer levelKind = iota
	levelEntry
)

// encodeLevel is one open Init/Complete frame on the encode stack.
type encodeLevel struct {
	kind      levelKind
	container DataType
	// start is the rollback position recorded at Init.
	start int
	// countPos is where the entry count placeholder lives, -1 if none.
	countPos  int
	countSize int
	count     int
	// lenPos is the reserved u16ob length of a nested entry payload.
	lenPos int
	// entry encoding context
	flags         uint8
	containerType DataType
	keyType       DataType
	fixedWidth    int
	itemType      DataType
}

// EncodeIterator writes into a caller supplied, bounded buffer.
// Writes that do not fit fail with failure.ErrBufferTooSmall; the caller
// grows the buffer and encodes the whole message again.
type EncodeIterator struct {
	buf     []byte
	pos     int
	levels  []encodeLevel
	version Version
	scratch []byte
}

// NewEncodeIterator returns an iterator writing into buf[0:len(buf)].
func NewEncodeIterator(buf []byte) *EncodeIterator {
	it := &EncodeIterator{}
	it.Reset(buf)
	return it
}

// Reset rebinds the iterator to buf and clears all open levels.
func (it *EncodeIterator) Reset(buf []byte) {
	it.buf = buf
	it.pos = 0
	it.levels = it.levels[:0]
	it.version = CurrentVersion
}

// SetVersion sets the wire version used for version dependent encodings.
func (it *EncodeIterator) SetVersion(v Version) {
	it.version = v
}

// Version returns the wire version in use.
func (it *EncodeIterator) Version() Version {
	return it.version
}

// Bytes returns the encoded bytes written so far.
func (it *EncodeIterator) Bytes() []byte {
	return it.buf[:it.pos]
}

// Pos returns the current write position.
func (it *EncodeIterator) Pos() int {
	return it.pos
}

// Depth returns the number of open levels.
func (it *EncodeIterator) Depth() int {
	return len(it.levels)
}

// Remaining returns the free space left in the buffer.
func (it *EncodeIterator) Remaining() int {
	return len(it.buf) - it.pos
}

// Rollback rewinds the write position. Used by layers that encode
// fixed headers around codec containers.
func (it *EncodeIterator) Rollback(pos int) {
	if pos >= 0 && pos <= it.pos {
		it.pos = pos
	}
}

func (it *EncodeIterator) ensure(op string, n int) error {
	if len(it.buf)-it.pos < n {
		return failure.TooSmall(op, n, len(it.buf)-it.pos)
	}
	return nil
}

func (it *EncodeIterator) push(op string, l encodeLevel) error {
	if len(it.levels) >= MaxLevels {
		return failure.Usage(op, "nesting exceeds %d levels", MaxLevels)
	}
	it.levels = append(it.levels, l)
	return nil
}

// top returns the innermost open level, or nil.
func (it *EncodeIterator) top() *encodeLevel {
	if len(it.levels) == 0 {
		return nil
	}
	return &it.levels[len(it.levels)-1]
}

func (it *EncodeIterator) pop() {
	it.levels = it.levels[:len(it.levels)-1]
}

// expectContainer checks that the innermost level is an open container of type t.
func (it *EncodeIterator) expectContainer(op string, t DataType) (*encodeLevel, error) {
	l := it.top()
	if l == nil || l.kind != levelContainer || l.container != t {
		return nil, failure.Usage(op, "no open %s on the iterator", t)
	}
	return l, nil
}

// WriteU8 appends one byte.
func (it *EncodeIterator) WriteU8(v uint8) error {
	if err := it.ensure("write u8", 1); err != nil {
		return err
	}
	it.putU8(v)
	return nil
}

// WriteU16 appends a big-endian uint16.
func (it *EncodeIterator) WriteU16(v uint16) error {
	if err := it.ensure("write u16", 2); err != nil {
		return err
	}
	it.putU16(v)
	return nil
}

// WriteU32 appends a big-endian uint32.
func (it *EncodeIterator) WriteU32(v uint32) error {
	if err := it.ensure("write u32", 4); err != nil {
		return err
	}
	it.putU32(v)
	return nil
}

// WriteU15rb appends a 1 or 2 byte length-specified value (max 0x7FFF).
func (it *EncodeIterator) WriteU15rb(v uint16) error {
	if v > maxU15 {
		return failure.Usage("write u15rb", "value %d exceeds %d", v, maxU15)
	}
	if err := it.ensure("write u15rb", u15rbLen(v)); err != nil {
		return err
	}
	it.putU15rb(v)
	return nil
}

// WriteU30rb appends a 1 to 4 byte length-specified value (max 0x3FFFFFFF).
func (it *EncodeIterator) WriteU30rb(v uint32) error {
	if v > maxU30 {
		return failure.Usage("write u30rb", "value %d exceeds %d", v, maxU30)
	}
	if err := it.ensure("write u30rb", u30rbLen(v)); err != nil {
		return err
	}
	it.putU30rb(v)
	return nil
}

// WriteBuffer8 appends b with a one byte length prefix.
func (it *EncodeIterator) WriteBuffer8(b []byte) error {
	if len(b) > 0xFF {
		return failure.Usage("write buffer8", "length %d exceeds 255", len(b))
	}
	if err := it.ensure("write buffer8", 1+len(b)); err != nil {
		return err
	}
	it.putU8(uint8(len(b)))
	it.putBytes(b)
	return nil
}

// WriteBuffer15 appends b with a u15rb length prefix.
func (it *EncodeIterator) WriteBuffer15(b []byte) error {
	if len(b) > maxU15 {
		return failure.Usage("write buffer15", "length %d exceeds %d", len(b), maxU15)
	}
	if err := it.ensure("write buffer15", u15rbLen(uint16(len(b)))+len(b)); err != nil {
		return err
	}
	it.putU15rb(uint16(len(b)))
	it.putBytes(b)
	return nil
}

// WriteBuffer16 appends b with a u16ob length prefix.
func (it *EncodeIterator) WriteBuffer16(b []byte) error {
	if len(b) > maxU16 {
		return failure.Usage("write buffer16", "length %d exceeds %d", len(b), maxU16)
	}
	if err := it.ensure("write buffer16", u16obLen(len(b))+len(b)); err != nil {
		return err
	}
	it.putU16ob(len(b))
	it.putBytes(b)
	return nil
}

// WriteBytes appends b without a prefix.
func (it *EncodeIterator) WriteBytes(b []byte) error {
	if err := it.ensure("write bytes", len(b)); err != nil {
		return err
	}
	it.putBytes(b)
	return nil
}

// ReserveU16 reserves a two byte placeholder and returns its position.
func (it *EncodeIterator) ReserveU16() (int, error) {
	if err := it.ensure("reserve u16", 2); err != nil {
		return 0, err
	}
	p := it.pos
	it.putU16(0)
	return p, nil
}

// PatchU16 overwrites a placeholder reserved with ReserveU16.
func (it *EncodeIterator) PatchU16(pos int, v uint16) {
	binary.BigEndian.PutUint16(it.buf[pos:], v)
}

// reserveLength reserves the 3 byte u16ob form so any payload up to 0xFFFF
// can be patched in place.
func (it *EncodeIterator) reserveLength(op string) (int, error) {
	if err := it.ensure(op, 3); err != nil {
		return 0, err
	}
	p := it.pos
	it.putU8(u16obExt)
	it.putU16(0)
	return p, nil
}

func (it *EncodeIterator) patchLength(op string, lenPos int) error {
	n := it.pos - (lenPos + 3)
	if n > maxU16 {
		return failure.Usage(op, "entry payload %d exceeds %d bytes", n, maxU16)
	}
	binary.BigEndian.PutUint16(it.buf[lenPos+1:], uint16(n))
	return nil
}

func (it *EncodeIterator) putU8(v uint8) {
	it.buf[it.pos] = v
	it.pos++
}

func (it *EncodeIterator) putU16(v uint16) {
	binary.BigEndian.PutUint16(it.buf[it.pos:], v)
	it.pos += 2
}

func (it *EncodeIterator) putU32(v uint32) {
	binary.BigEndian.PutUint32(it.buf[it.pos:], v)
	it.pos += 4
}

func (it *EncodeIterator) putBytes(b []byte) {
	it.pos += copy(it.buf[it.pos:], b)
}

func (it *EncodeIterator) putU15rb(v uint16) {
	if v < 0x80 {
		it.putU8(uint8(v))
		return
	}
	it.putU16(v | 0x8000)
}

func (it *EncodeIterator) putU16ob(n int) {
	if n < u16obExt {
		it.putU8(uint8(n))
		return
	}
	it.putU8(u16obExt)
	it.putU16(uint16(n))
}

func (it *EncodeIterator) putU30rb(v uint32) {
	switch {
	case v < 0x40:
		it.putU8(uint8(v))
	case v < 0x4000:
		it.putU16(uint16(v) | 0x4000)
	case v < 0x400000:
		it.putU8(uint8(v>>16) | 0x80)
		it.putU16(uint16(v))
	default:
		it.putU32(v | 0xC0000000)
	}
}

func u15rbLen(v uint16) int {
	if v < 0x80 {
		return 1
	}
	return 2
}

func u16obLen(n int) int {
	if n < u16obExt {
		return 1
	}
	return 3
}

func u30rbLen(v uint32) int {
	switch {
	case v < 0x40:
		return 1
	case v < 0x4000:
		return 2
	case v < 0x400000:
		return 3
	default:
		return 4
	}
}

// encodeValue writes a length-prefixed primitive value (u16ob prefix).
func (it *EncodeIterator) encodeValue(op string, p Primitive) error {
	it.scratch = it.scratch[:0]
	if !p.IsBlank() {
		var err error
		it.scratch, err = p.appendValue(it.scratch, it.version)
		if err != nil {
			return err
		}
	}
	if len(it.scratch) > maxU16 {
		return failure.Usage(op, "value length %d exceeds %d", len(it.scratch), maxU16)
	}
	if err := it.ensure(op, u16obLen(len(it.scratch))+len(it.scratch)); err != nil {
		return err
	}
	it.putU16ob(len(it.scratch))
	it.putBytes(it.scratch)
	return nil
}

// encodeKey writes a primitive as a u15rb-prefixed key.
func (it *EncodeIterator) encodeKey(op string, p Primitive) error {
	it.scratch = it.scratch[:0]
	if !p.IsBlank() {
		var err error
		it.scratch, err = p.appendValue(it.scratch, it.version)
		if err != nil {
			return err
		}
	}
	return it.WriteBuffer15(it.scratch)
}

// decodeLevel is one container being iterated.
type decodeLevel struct {
	container     DataType
	end           int
	next          int
	count         int
	index         int
	flags         uint8
	containerType DataType
	keyType       DataType
	itemType      DataType
	itemWidth     int
}

// DecodeIterator walks a borrowed buffer. Container Decode calls read the
// current payload range and push a level; DecodeEntry advances that level
// and narrows the payload range to the entry's data.
type DecodeIterator struct {
	buf     []byte
	levels  []decodeLevel
	start   int
	end     int
	version Version
}

// NewDecodeIterator returns an iterator whose payload is all of buf.
func NewDecodeIterator(buf []byte) *DecodeIterator {
	it := &DecodeIterator{}
	it.Reset(buf)
	return it
}

// Reset rebinds the iterator to buf.
func (it *DecodeIterator) Reset(buf []byte) {
	it.buf = buf
	it.levels = it.levels[:0]
	it.start = 0
	it.end = len(buf)
	it.version = CurrentVersion
}

// SetVersion sets the negotiated wire version. Decoding of version
// dependent encodings branches on it.
func (it *DecodeIterator) SetVersion(v Version) {
	it.version = v
}

// Version returns the wire version in use.
func (it *DecodeIterator) Version() Version {
	return it.version
}

// Payload returns the current payload range as a borrowed view.
func (it *DecodeIterator) Payload() []byte {
	return it.buf[it.start:it.end:it.end]
}

// Depth returns the number of containers currently being iterated.
func (it *DecodeIterator) Depth() int {
	return len(it.levels)
}

func (it *DecodeIterator) push(op string, l decodeLevel) (int, error) {
	if len(it.levels) >= MaxLevels {
		return 0, failure.Decode(op, "nesting exceeds %d levels", MaxLevels)
	}
	it.levels = append(it.levels, l)
	return len(it.levels) - 1, nil
}

// enter returns the level at idx after discarding deeper levels left
// behind by partially decoded nested payloads.
func (it *DecodeIterator) enter(idx int, t DataType) (*decodeLevel, error) {
	if idx < 0 || idx >= len(it.levels) || it.levels[idx].container != t {
		return nil, ErrEndOfContainer
	}
	it.levels = it.levels[:idx+1]
	return &it.levels[idx], nil
}

// finish pops the level at idx and reports the end of the container.
func (it *DecodeIterator) finish(idx int) error {
	it.levels = it.levels[:idx]
	return ErrEndOfContainer
}

func (it *DecodeIterator) setPayload(start, end int) {
	it.start = start
	it.end = end
}

func (it *DecodeIterator) reader(op string) *Reader {
	return &Reader{b: it.buf[:it.end:it.end], pos: it.start, op: op}
}

func (it *DecodeIterator) levelReader(op string, l *decodeLevel) *Reader {
	return &Reader{b: it.buf[:l.end:l.end], pos: l.next, op: op}
}

// Reader reads big-endian fields from a bounded buffer. The first
// out-of-bounds read records a decode failure and every later read
// returns zero values, so callers check Err once.
type Reader struct {
	b   []byte
	pos int
	op  string
	err error
}

// NewReader returns a Reader over b. op names the operation in errors.
func NewReader(b []byte, op string) *Reader {
	return &Reader{b: b, op: op}
}

// Err returns the first failure, if any.
func (r *Reader) Err() error {
	return r.err
}

// Pos returns the read position.
func (r *Reader) Pos() int {
	return r.pos
}

// Remaining returns the unread byte count.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.b) - r.pos
}

// Fail records a decode failure if none is recorded yet.
func (r *Reader) Fail(format string, args ...any) {
	if r.err == nil {
		r.err = failure.Decode(r.op, format, args...)
	}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.b)-r.pos < n {
		r.Fail("need %d bytes at offset %d, %d remaining", n, r.pos, len(r.b)-r.pos)
		return false
	}
	return true
}

// U8 reads one byte.
func (r *Reader) U8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

// U16 reads a big-endian uint16.
func (r *Reader) U16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v
}

// U32 reads a big-endian uint32.
func (r *Reader) U32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

// U15rb reads a 1 or 2 byte length-specified value.
func (r *Reader) U15rb() uint16 {
	first := r.U8()
	if first&0x80 == 0 {
		return uint16(first)
	}
	second := r.U8()
	return uint16(first&0x7F)<<8 | uint16(second)
}

// U16ob reads a 1 or 3 byte length-specified value.
func (r *Reader) U16ob() int {
	first := r.U8()
	if first < u16obExt {
		return int(first)
	}
	if first != u16obExt {
		r.Fail("invalid u16ob marker 0x%02x", first)
		return 0
	}
	return int(r.U16())
}

// U30rb reads a 1 to 4 byte length-specified value.
func (r *Reader) U30rb() uint32 {
	first := r.U8()
	v := uint32(first & 0x3F)
	extra := int(first >> 6)
	for range extra {
		v = v<<8 | uint32(r.U8())
	}
	return v
}

// Bytes returns a borrowed view of the next n bytes.
func (r *Reader) Bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.b[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b
}

// Buffer8 reads a one byte length-prefixed buffer.
func (r *Reader) Buffer8() []byte {
	return r.Bytes(int(r.U8()))
}

// Buffer15 reads a u15rb length-prefixed buffer.
func (r *Reader) Buffer15() []byte {
	return r.Bytes(int(r.U15rb()))
}

// Buffer16 reads a u16ob length-prefixed buffer.
func (r *Reader) Buffer16() []byte {
	return r.Bytes(r.U16ob())
}

// Rest returns a borrowed view of everything left.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	return r.Bytes(len(r.b) - r.pos)
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}
