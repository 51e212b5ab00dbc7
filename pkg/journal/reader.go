package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader pulls records from a sequence of journal files in order. Any
// corrupted or truncated record ends the read with an error; nothing after
// it is returned.
type Reader struct {
	files   []string // Journal files to read, oldest first
	current int      // Index into files of the open file, -1 before the first
	fd      *os.File
	br      *bufio.Reader
	offset  int64 // Offset of the next record in the open file
}

// NewReader creates a reader over files, oldest first
func NewReader(files []string) *Reader {
	return &Reader{files: files, current: -1}
}

// Next returns the next record, or io.EOF after the last one
func (r *Reader) Next() (*Record, error) {
	for {
		if r.fd == nil {
			if err := r.nextFile(); err != nil {
				return nil, err
			}
		}

		rec, n, err := readRecord(r.br)
		if err == nil {
			r.offset += int64(n)
			return rec, nil
		}
		if errors.Is(err, io.EOF) {
			r.closeFile()
			continue
		}
		return nil, fmt.Errorf("%s at offset %d: %w", r.files[r.current], r.offset, err)
	}
}

// File returns the path and offset of the next record to be read
func (r *Reader) File() (string, int64) {
	if r.current < 0 || r.current >= len(r.files) {
		return "", 0
	}
	return r.files[r.current], r.offset
}

func (r *Reader) nextFile() error {
	if r.current+1 >= len(r.files) {
		return io.EOF
	}
	r.current++
	fd, err := os.Open(r.files[r.current])
	if err != nil {
		return err
	}
	r.fd = fd
	r.br = bufio.NewReader(fd)
	r.offset = 0
	return nil
}

func (r *Reader) closeFile() {
	if r.fd != nil {
		r.fd.Close()
		r.fd = nil
		r.br = nil
	}
}

// Close releases the open file, if any
func (r *Reader) Close() error {
	if r.fd == nil {
		return nil
	}
	err := r.fd.Close()
	r.fd = nil
	r.br = nil
	return err
}

// readRecord reads one framed record. It returns io.EOF only when the
// source ends exactly on a record boundary.
func readRecord(r io.Reader) (*Record, int, error) {
	header := make([]byte, RecordHeaderSize)
	n, err := io.ReadFull(r, header)
	if err != nil {
		if errors.Is(err, io.EOF) && n == 0 {
			return nil, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, ErrTruncated
		}
		return nil, 0, err
	}

	payloadLen := binary.BigEndian.Uint32(header[9:13])
	if payloadLen > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: payload length %d", ErrCorrupted, payloadLen)
	}

	data := make([]byte, RecordHeaderSize+int(payloadLen)+4)
	copy(data, header)
	if _, err := io.ReadFull(r, data[RecordHeaderSize:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, ErrTruncated
		}
		return nil, 0, err
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, 0, err
	}
	return rec, len(data), nil
}

// ReadAll reads every record from files
func ReadAll(files []string) ([]*Record, error) {
	reader := NewReader(files)
	defer reader.Close()

	var records []*Record
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
