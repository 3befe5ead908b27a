// Package wire implements the binary serialization exchanged between host
// and guest. It is a small, self-describing subset of MessagePack: nil,
// booleans, unsigned integers, UTF-8 strings, arrays, and string-keyed maps.
// Nothing else is part of the protocol.
//
// Decoders never trust a declared length: every read is bounds-checked
// against the remaining buffer, and any violation is reported as a
// ProtocolError rather than a panic or out-of-bounds read. Unknown map keys
// are skippable so the schema can grow without breaking old hosts.
package wire

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/wasmcmd-dev/wasmcmd/domain/errors"
)

// Byte tags. Multi-byte lengths and values are big-endian.
const (
	tagNil   = 0xc0
	tagFalse = 0xc2
	tagTrue  = 0xc3

	tagUint8  = 0xcc
	tagUint16 = 0xcd
	tagUint32 = 0xce

	tagStr8  = 0xd9
	tagStr16 = 0xda
	tagStr32 = 0xdb

	tagArray16 = 0xdc
	tagArray32 = 0xdd

	tagMap16 = 0xde
	tagMap32 = 0xdf

	fixstrMask   = 0xa0 // 0xa0 | len, len <= 31
	fixarrayMask = 0x90 // 0x90 | len, len <= 15
	fixmapMask   = 0x80 // 0x80 | len, len <= 15

	maxFixint   = 0x7f
	maxFixstr   = 31
	maxFixarray = 15
	maxFixmap   = 15
)

// Encoder appends wire-encoded values to an internal buffer.
// The zero value is ready to use.
type Encoder struct {
	buf []byte
}

// NewEncoder creates an Encoder with some initial capacity.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 128)}
}

// Bytes returns the encoded buffer.
func (e *Encoder) Bytes() []byte {
	return e.buf
}

// Nil encodes a nil value.
func (e *Encoder) Nil() {
	e.buf = append(e.buf, tagNil)
}

// Bool encodes a boolean.
func (e *Encoder) Bool(v bool) {
	if v {
		e.buf = append(e.buf, tagTrue)
	} else {
		e.buf = append(e.buf, tagFalse)
	}
}

// Uint encodes an unsigned integer in the smallest representation that
// holds it: 7-bit inline, then 8/16/32-bit tagged.
func (e *Encoder) Uint(v uint32) {
	switch {
	case v <= maxFixint:
		e.buf = append(e.buf, byte(v))
	case v <= 0xff:
		e.buf = append(e.buf, tagUint8, byte(v))
	case v <= 0xffff:
		e.buf = append(e.buf, tagUint16, byte(v>>8), byte(v))
	default:
		e.buf = append(e.buf, tagUint32)
		e.buf = binary.BigEndian.AppendUint32(e.buf, v)
	}
}

// String encodes a UTF-8 string: inline length up to 31 bytes, otherwise
// 8/16-bit length-prefixed (str32 exists for completeness but manifests
// never need it).
func (e *Encoder) String(s string) {
	n := len(s)
	switch {
	case n <= maxFixstr:
		e.buf = append(e.buf, fixstrMask|byte(n))
	case n <= 0xff:
		e.buf = append(e.buf, tagStr8, byte(n))
	case n <= 0xffff:
		e.buf = append(e.buf, tagStr16, byte(n>>8), byte(n))
	default:
		e.buf = append(e.buf, tagStr32)
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
	}
	e.buf = append(e.buf, s...)
}

// ArrayHeader encodes an array header for n following elements.
func (e *Encoder) ArrayHeader(n int) {
	switch {
	case n <= maxFixarray:
		e.buf = append(e.buf, fixarrayMask|byte(n))
	case n <= 0xffff:
		e.buf = append(e.buf, tagArray16, byte(n>>8), byte(n))
	default:
		e.buf = append(e.buf, tagArray32)
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
	}
}

// MapHeader encodes a map header for n following key/value pairs.
// Keys are strings and their order is the insertion order.
func (e *Encoder) MapHeader(n int) {
	switch {
	case n <= maxFixmap:
		e.buf = append(e.buf, fixmapMask|byte(n))
	case n <= 0xffff:
		e.buf = append(e.buf, tagMap16, byte(n>>8), byte(n))
	default:
		e.buf = append(e.buf, tagMap32)
		e.buf = binary.BigEndian.AppendUint32(e.buf, uint32(n))
	}
}

// StringArray encodes a []string as an array of strings.
func (e *Encoder) StringArray(ss []string) {
	e.ArrayHeader(len(ss))
	for _, s := range ss {
		e.String(s)
	}
}

// Decoder reads wire-encoded values from a buffer.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder creates a Decoder over data. The Decoder does not copy data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int {
	return len(d.data) - d.pos
}

// Done reports whether the whole buffer has been consumed.
func (d *Decoder) Done() bool {
	return d.pos >= len(d.data)
}

func (d *Decoder) errAt(format string, args ...any) error {
	return errors.NewProtocolError(d.pos, format, args...)
}

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.errAt("unexpected end of buffer")
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

// take returns the next n bytes, verifying the declared length does not
// exceed the remaining buffer.
func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || n > len(d.data)-d.pos {
		return nil, d.errAt("declared length %d exceeds remaining %d bytes", n, len(d.data)-d.pos)
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) readLen16() (int, error) {
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(b)), nil
}

func (d *Decoder) readLen32() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(b)
	if v > uint32(len(d.data)) {
		return 0, d.errAt("declared length %d exceeds buffer size %d", v, len(d.data))
	}
	return int(v), nil
}

// IsNil reports whether the next value is nil without consuming it.
func (d *Decoder) IsNil() bool {
	return d.pos < len(d.data) && d.data[d.pos] == tagNil
}

// Nil consumes a nil value.
func (d *Decoder) Nil() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	if b != tagNil {
		d.pos--
		return d.errAt("expected nil, got tag 0x%02x", b)
	}
	return nil
}

// Bool decodes a boolean.
func (d *Decoder) Bool() (bool, error) {
	b, err := d.readByte()
	if err != nil {
		return false, err
	}
	switch b {
	case tagTrue:
		return true, nil
	case tagFalse:
		return false, nil
	default:
		d.pos--
		return false, d.errAt("expected bool, got tag 0x%02x", b)
	}
}

// Uint decodes an unsigned integer.
func (d *Decoder) Uint() (uint32, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b <= maxFixint:
		return uint32(b), nil
	case b == tagUint8:
		v, err := d.readByte()
		return uint32(v), err
	case b == tagUint16:
		n, err := d.readLen16()
		return uint32(n), err
	case b == tagUint32:
		raw, err := d.take(4)
		if err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint32(raw), nil
	default:
		d.pos--
		return 0, d.errAt("expected uint, got tag 0x%02x", b)
	}
}

// String decodes a UTF-8 string. Non-UTF-8 content is a protocol error.
func (d *Decoder) String() (string, error) {
	start := d.pos
	b, err := d.readByte()
	if err != nil {
		return "", err
	}
	var n int
	switch {
	case b&0xe0 == fixstrMask:
		n = int(b & 0x1f)
	case b == tagStr8:
		v, err := d.readByte()
		if err != nil {
			return "", err
		}
		n = int(v)
	case b == tagStr16:
		if n, err = d.readLen16(); err != nil {
			return "", err
		}
	case b == tagStr32:
		if n, err = d.readLen32(); err != nil {
			return "", err
		}
	default:
		d.pos = start
		return "", d.errAt("expected string, got tag 0x%02x", b)
	}
	raw, err := d.take(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(raw) {
		return "", errors.NewProtocolError(start, "string is not valid UTF-8")
	}
	return string(raw), nil
}

// ArrayHeader decodes an array header and returns the element count.
func (d *Decoder) ArrayHeader() (int, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b&0xf0 == fixarrayMask:
		return int(b & 0x0f), nil
	case b == tagArray16:
		return d.readLen16()
	case b == tagArray32:
		return d.readLen32()
	default:
		d.pos--
		return 0, d.errAt("expected array, got tag 0x%02x", b)
	}
}

// MapHeader decodes a map header and returns the pair count.
func (d *Decoder) MapHeader() (int, error) {
	b, err := d.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b&0xf0 == fixmapMask:
		return int(b & 0x0f), nil
	case b == tagMap16:
		return d.readLen16()
	case b == tagMap32:
		return d.readLen32()
	default:
		d.pos--
		return 0, d.errAt("expected map, got tag 0x%02x", b)
	}
}

// StringArray decodes an array of strings.
func (d *Decoder) StringArray() ([]string, error) {
	n, err := d.ArrayHeader()
	if err != nil {
		return nil, err
	}
	// A malicious header cannot claim more elements than one byte each.
	if n > d.Remaining() {
		return nil, d.errAt("declared array length %d exceeds remaining %d bytes", n, d.Remaining())
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Skip consumes and discards the next value, including nested arrays and
// maps. Decoders use it to ignore unknown trailing map keys, keeping the
// encoding forward-compatible.
func (d *Decoder) Skip() error {
	b, err := d.readByte()
	if err != nil {
		return err
	}
	switch {
	case b <= maxFixint, b == tagNil, b == tagFalse, b == tagTrue:
		return nil
	case b == tagUint8:
		_, err := d.take(1)
		return err
	case b == tagUint16:
		_, err := d.take(2)
		return err
	case b == tagUint32:
		_, err := d.take(4)
		return err
	case b&0xe0 == fixstrMask:
		_, err := d.take(int(b & 0x1f))
		return err
	case b == tagStr8:
		n, err := d.readByte()
		if err != nil {
			return err
		}
		_, err = d.take(int(n))
		return err
	case b == tagStr16:
		n, err := d.readLen16()
		if err != nil {
			return err
		}
		_, err = d.take(n)
		return err
	case b == tagStr32:
		n, err := d.readLen32()
		if err != nil {
			return err
		}
		_, err = d.take(n)
		return err
	case b&0xf0 == fixarrayMask:
		return d.skipN(int(b & 0x0f))
	case b == tagArray16:
		n, err := d.readLen16()
		if err != nil {
			return err
		}
		return d.skipN(n)
	case b == tagArray32:
		n, err := d.readLen32()
		if err != nil {
			return err
		}
		return d.skipN(n)
	case b&0xf0 == fixmapMask:
		return d.skipN(2 * int(b&0x0f))
	case b == tagMap16:
		n, err := d.readLen16()
		if err != nil {
			return err
		}
		return d.skipN(2 * n)
	case b == tagMap32:
		n, err := d.readLen32()
		if err != nil {
			return err
		}
		return d.skipN(2 * n)
	default:
		d.pos--
		return d.errAt("unrecognized tag 0x%02x", b)
	}
}

func (d *Decoder) skipN(n int) error {
	for i := 0; i < n; i++ {
		if err := d.Skip(); err != nil {
			return err
		}
	}
	return nil
}
