package codec

import "github.com/pithecene-io/sluice/failure"

// beginContainer pushes a container level once its header is written.
// countSize is 0 when the container carries no entries, 1 or 2 otherwise.
func (it *EncodeIterator) beginContainer(op string, t DataType, start, countSize int, l encodeLevel) error {
	l.kind = levelContainer
	l.container = t
	l.start = start
	l.countPos = -1
	l.countSize = countSize
	switch countSize {
	case 1:
		if err := it.ensure(op, 1); err != nil {
			it.pos = start
			return err
		}
		l.countPos = it.pos
		it.putU8(0)
	case 2:
		if err := it.ensure(op, 2); err != nil {
			it.pos = start
			return err
		}
		l.countPos = it.pos
		it.putU16(0)
	}
	if err := it.push(op, l); err != nil {
		it.pos = start
		return err
	}
	return nil
}

// completeContainer patches the entry count, or rewinds to the container
// start when success is false.
func (it *EncodeIterator) completeContainer(op string, t DataType, success bool) error {
	l, err := it.expectContainer(op, t)
	if err != nil {
		return err
	}
	if !success {
		it.pos = l.start
		it.pop()
		return nil
	}
	switch l.countSize {
	case 1:
		if l.count > 0xFF {
			return failure.Usage(op, "%d entries exceed 255", l.count)
		}
		it.buf[l.countPos] = uint8(l.count)
	case 2:
		if l.count > maxU16 {
			return failure.Usage(op, "%d entries exceed %d", l.count, maxU16)
		}
		it.PatchU16(l.countPos, uint16(l.count))
	}
	it.pop()
	return nil
}

// entryParent returns the open container an entry is being added to.
func (it *EncodeIterator) entryParent(op string, t DataType) (*encodeLevel, error) {
	l, err := it.expectContainer(op, t)
	if err != nil {
		return nil, err
	}
	if l.countSize == 0 {
		return nil, failure.Usage(op, "%s was initialized without entries", t)
	}
	return l, nil
}

// finishEntry counts a fully written entry, or rewinds a failed one.
func (it *EncodeIterator) finishEntry(parent *encodeLevel, start int, err error) error {
	if err != nil {
		it.pos = start
		return err
	}
	parent.count++
	return nil
}

// beginNested reserves the entry payload length and opens an entry level
// for a container encoded in place.
func (it *EncodeIterator) beginNested(op string, start int) error {
	lenPos, err := it.reserveLength(op)
	if err != nil {
		it.pos = start
		return err
	}
	if err := it.push(op, encodeLevel{kind: levelEntry, start: start, lenPos: lenPos, countPos: -1}); err != nil {
		it.pos = start
		return err
	}
	return nil
}

// completeNested patches the entry payload length and counts the entry in
// its parent container, or discards the entry when success is false.
func (it *EncodeIterator) completeNested(op string, success bool) error {
	l := it.top()
	if l == nil || l.kind != levelEntry {
		return failure.Usage(op, "no open entry on the iterator")
	}
	if !success {
		it.pos = l.start
		it.pop()
		return nil
	}
	if err := it.patchLength(op, l.lenPos); err != nil {
		return err
	}
	it.pop()
	if parent := it.top(); parent != nil && parent.kind == levelContainer {
		parent.count++
	}
	return nil
}

// writeData writes an entry payload: a primitive value when p is set,
// otherwise the pre-encoded bytes.
func (it *EncodeIterator) writeData(op string, p Primitive, encoded []byte) error {
	if p != nil {
		return it.encodeValue(op, p)
	}
	return it.WriteBuffer16(encoded)
}

// decodeHeaderStart reads the common prologue of a container decode.
// Returns nil reader when the payload is empty.
func (it *DecodeIterator) decodeHeaderStart(op string) *Reader {
	r := it.reader(op)
	if r.Remaining() == 0 {
		return nil
	}
	return r
}

// pushEntries pushes the entry level of a decoded container.
func (it *DecodeIterator) pushEntries(op string, l decodeLevel) (int, error) {
	l.end = it.end
	return it.push(op, l)
}

// entryDone records the consumed entry and narrows the payload to data.
func (it *DecodeIterator) entryDone(l *decodeLevel, r *Reader, data []byte) {
	l.next = r.pos
	l.index++
	it.setPayload(r.pos-len(data), r.pos)
}

// skipInfo positions r after an info block of infoLen bytes that began at start.
func skipInfo(r *Reader, start, infoLen int) {
	skip := start + infoLen - r.Pos()
	if skip < 0 {
		r.Fail("info length %d shorter than its fields", infoLen)
		return
	}
	r.Skip(skip)
}

// checkCount rejects entry counts that cannot fit in the remaining bytes.
func checkCount(r *Reader, count, minEntry int) {
	if count*minEntry > r.Remaining() {
		r.Fail("%d entries cannot fit in %d bytes", count, r.Remaining())
	}
}
