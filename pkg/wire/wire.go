package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/nainya/eavstore/pkg/ident"
)

// AppendID appends the 16 canonical bytes of id
func AppendID(buf []byte, id ident.ID) []byte {
	return append(buf, id[:]...)
}

// AppendKey appends entity then attribute
func AppendKey(buf []byte, key ident.EntityAttribute) []byte {
	buf = AppendID(buf, key.Entity)
	return AppendID(buf, key.Attribute)
}

// AppendUint8 appends one byte
func AppendUint8(buf []byte, v uint8) []byte {
	return append(buf, v)
}

// AppendUint16 appends v big endian
func AppendUint16(buf []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(buf, v)
}

// AppendUint32 appends v big endian
func AppendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

// AppendFloat32 appends the IEEE-754 bits of v big endian
func AppendFloat32(buf []byte, v float32) []byte {
	return binary.BigEndian.AppendUint32(buf, math.Float32bits(v))
}

// AppendString8 appends a u8 length followed by the UTF-8 bytes of s.
// The caller must have validated the length.
func AppendString8(buf []byte, s string) []byte {
	buf = append(buf, uint8(len(s)))
	return append(buf, s...)
}

// AppendString16 appends a u16 length followed by the UTF-8 bytes of s.
// The caller must have validated the length.
func AppendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// Reader pulls primitives from a byte source. It is a single-consumer
// cursor: sharing one Reader between goroutines is not supported.
type Reader struct {
	r       io.Reader
	offset  int64
	scratch [ident.Size]byte
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	if wr, ok := r.(*Reader); ok {
		return wr
	}
	return &Reader{r: r}
}

// Read implements io.Reader so a Reader can be handed to nested decoders
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.offset += int64(n)
	return n, err
}

// Offset returns the number of bytes consumed so far
func (r *Reader) Offset() int64 {
	return r.offset
}

// Malformed builds a DecodeError for a field that read fine but is invalid
func (r *Reader) Malformed(field string, start int64, format string, args ...any) error {
	return &DecodeError{
		Field:  field,
		Offset: start,
		Err:    ErrMalformed,
		Detail: fmt.Sprintf(format, args...),
	}
}

// full reads exactly len(p) bytes; any shortfall is ErrUnexpectedEOF
func (r *Reader) full(field string, p []byte) error {
	start := r.offset
	n, err := io.ReadFull(r.r, p)
	r.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &DecodeError{Field: field, Offset: start, Err: ErrUnexpectedEOF}
		}
		return fmt.Errorf("wire: reading %s: %w", field, err)
	}
	return nil
}

// ReadTag reads the leading byte of a record. It returns io.EOF, unwrapped,
// when the stream ends cleanly before the byte.
func (r *Reader) ReadTag() (byte, error) {
	n, err := io.ReadFull(r.r, r.scratch[:1])
	r.offset += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("wire: reading opcode: %w", err)
	}
	return r.scratch[0], nil
}

// ExpectEOF fails unless the source is exhausted
func (r *Reader) ExpectEOF() error {
	start := r.offset
	n, err := io.ReadFull(r.r, r.scratch[:1])
	r.offset += int64(n)
	if n == 0 && errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil && n == 0 {
		return fmt.Errorf("wire: checking for end of stream: %w", err)
	}
	return &DecodeError{Field: "end of stream", Offset: start, Err: ErrMalformed, Detail: "trailing bytes"}
}

// ReadUint8 reads one byte
func (r *Reader) ReadUint8(field string) (uint8, error) {
	if err := r.full(field, r.scratch[:1]); err != nil {
		return 0, err
	}
	return r.scratch[0], nil
}

// ReadUint16 reads a big-endian u16
func (r *Reader) ReadUint16(field string) (uint16, error) {
	if err := r.full(field, r.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.scratch[:2]), nil
}

// ReadUint32 reads a big-endian u32
func (r *Reader) ReadUint32(field string) (uint32, error) {
	if err := r.full(field, r.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.scratch[:4]), nil
}

// ReadFloat32 reads a big-endian IEEE-754 single
func (r *Reader) ReadFloat32(field string) (float32, error) {
	bits, err := r.ReadUint32(field)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// ReadID reads 16 canonical identifier bytes
func (r *Reader) ReadID(field string) (ident.ID, error) {
	var id ident.ID
	if err := r.full(field, id[:]); err != nil {
		return ident.Nil, err
	}
	return id, nil
}

// ReadKey reads an entity id followed by an attribute id
func (r *Reader) ReadKey(field string) (ident.EntityAttribute, error) {
	entity, err := r.ReadID(field + ".entity")
	if err != nil {
		return ident.EntityAttribute{}, err
	}
	attribute, err := r.ReadID(field + ".attribute")
	if err != nil {
		return ident.EntityAttribute{}, err
	}
	return ident.Key(entity, attribute), nil
}

// ReadBytes reads exactly n bytes into a new slice
func (r *Reader) ReadBytes(field string, n int) ([]byte, error) {
	b := make([]byte, n)
	if err := r.full(field, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadString8 reads a u8-length-prefixed UTF-8 string
func (r *Reader) ReadString8(field string) (string, error) {
	start := r.offset
	n, err := r.ReadUint8(field + " length")
	if err != nil {
		return "", err
	}
	return r.readString(field, start, int(n))
}

// ReadString16 reads a u16-length-prefixed UTF-8 string
func (r *Reader) ReadString16(field string) (string, error) {
	start := r.offset
	n, err := r.ReadUint16(field + " length")
	if err != nil {
		return "", err
	}
	return r.readString(field, start, int(n))
}

func (r *Reader) readString(field string, start int64, n int) (string, error) {
	b, err := r.ReadBytes(field, n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", r.Malformed(field, start, "invalid UTF-8")
	}
	return string(b), nil
}
