package journal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/nainya/eavstore/pkg/patch"
)

// Kind identifies what a record carries
type Kind byte

const (
	// KindPatch holds a serialized patch to replay on top of prior state
	KindPatch Kind = 1

	// KindCheckpoint holds a full-state patch; everything before it is
	// superseded
	KindCheckpoint Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindPatch:
		return "PATCH"
	case KindCheckpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("Kind(%d)", byte(k))
	}
}

const (
	// RecordHeaderSize is the fixed prefix of every record.
	// Layout: Kind(1) + Seq(8) + PayloadLen(4)
	RecordHeaderSize = 13

	// MaxPayloadSize bounds a single record's payload (64MB)
	MaxPayloadSize = 64 << 20
)

// Record is one framed journal entry
type Record struct {
	Kind    Kind
	Seq     uint64 // monotonically increasing across files
	Payload []byte
}

// Encode frames the record with a trailing CRC32
// Format: [Header(13)] [Payload] [CRC32(4)]
func (r *Record) Encode() []byte {
	buf := make([]byte, RecordHeaderSize, r.Size())
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(r.Payload)))
	buf = append(buf, r.Payload...)

	// CRC covers header and payload
	return binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

// DecodeRecord parses one complete framed record
func DecodeRecord(data []byte) (*Record, error) {
	if len(data) < RecordHeaderSize+4 {
		return nil, ErrTruncated
	}

	payloadLen := binary.BigEndian.Uint32(data[9:13])
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload length %d", ErrCorrupted, payloadLen)
	}
	expected := RecordHeaderSize + int(payloadLen) + 4
	if len(data) < expected {
		return nil, ErrTruncated
	}
	data = data[:expected]

	stored := binary.BigEndian.Uint32(data[expected-4:])
	if crc32.ChecksumIEEE(data[:expected-4]) != stored {
		return nil, ErrCorrupted
	}

	rec := &Record{
		Kind: Kind(data[0]),
		Seq:  binary.BigEndian.Uint64(data[1:9]),
	}
	if rec.Kind != KindPatch && rec.Kind != KindCheckpoint {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrCorrupted, data[0])
	}
	if payloadLen > 0 {
		rec.Payload = make([]byte, payloadLen)
		copy(rec.Payload, data[RecordHeaderSize:])
	}
	return rec, nil
}

// Size returns the encoded size of the record
func (r *Record) Size() int {
	return RecordHeaderSize + len(r.Payload) + 4
}

// Patch decodes the payload
func (r *Record) Patch() (patch.Patch, error) {
	p, err := patch.Decode(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("journal: record %d: %w", r.Seq, err)
	}
	return p, nil
}

func (r *Record) String() string {
	return fmt.Sprintf("Record[Seq=%d Kind=%s PayloadLen=%d]", r.Seq, r.Kind, len(r.Payload))
}
