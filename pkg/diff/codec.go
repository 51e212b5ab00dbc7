package diff

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/wire"
)

// Canonical layout, for both halves:
//
//	u32 count of set entries
//	    entries ascending by key: key bytes, value bytes
//	u32 count of deleted keys
//	    keys ascending
//
// Reference keys are entity then attribute (32 bytes), values an id. Tag keys
// are an id, values a u8-length-prefixed UTF-8 tag. A StoreDiff is the
// reference half immediately followed by the tag half. The encoding is not
// framed; the transport supplies any outer length.

// preallocation cap for counts read off the wire
const maxPrealloc = 4096

// AppendBinary appends the canonical encoding of d. It fails with
// ErrInvalidDiff for anything ReadReferenceStoreDiff would reject: a nil set
// value or a key both set and deleted.
func (d ReferenceStoreDiff) AppendBinary(buf []byte) ([]byte, error) {
	buf = wire.AppendUint32(buf, uint32(len(d.Set)))
	for _, k := range slices.SortedFunc(maps.Keys(d.Set), ident.EntityAttribute.Compare) {
		v := d.Set[k]
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil reference for %s", ErrInvalidDiff, k)
		}
		buf = wire.AppendKey(buf, k)
		buf = wire.AppendID(buf, v)
	}
	buf = wire.AppendUint32(buf, uint32(len(d.Deleted)))
	for _, k := range slices.SortedFunc(maps.Keys(d.Deleted), ident.EntityAttribute.Compare) {
		if _, ok := d.Set[k]; ok {
			return nil, fmt.Errorf("%w: %s is both set and deleted", ErrInvalidDiff, k)
		}
		buf = wire.AppendKey(buf, k)
	}
	return buf, nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (d ReferenceStoreDiff) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(nil)
}

// UnmarshalBinary decodes exactly one ReferenceStoreDiff
func (d *ReferenceStoreDiff) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(bytes.NewReader(data))
	out, err := ReadReferenceStoreDiff(r)
	if err != nil {
		return err
	}
	if err := r.ExpectEOF(); err != nil {
		return err
	}
	*d = out
	return nil
}

// ReadReferenceStoreDiff reads one ReferenceStoreDiff from r. Entries need
// not be sorted, but a key may appear only once across both sections.
func ReadReferenceStoreDiff(r io.Reader) (ReferenceStoreDiff, error) {
	wr := wire.NewReader(r)

	n, err := wr.ReadUint32("ReferenceStoreDiff.set count")
	if err != nil {
		return ReferenceStoreDiff{}, err
	}
	d := ReferenceStoreDiff{Set: make(map[ident.EntityAttribute]ident.ID, min(n, maxPrealloc))}
	for range n {
		start := wr.Offset()
		k, err := wr.ReadKey("ReferenceStoreDiff.set.key")
		if err != nil {
			return ReferenceStoreDiff{}, err
		}
		v, err := wr.ReadID("ReferenceStoreDiff.set.value")
		if err != nil {
			return ReferenceStoreDiff{}, err
		}
		if _, dup := d.Set[k]; dup {
			return ReferenceStoreDiff{}, wr.Malformed("ReferenceStoreDiff.set", start, "duplicate key %s", k)
		}
		if v.IsNil() {
			return ReferenceStoreDiff{}, wr.Malformed("ReferenceStoreDiff.set.value", start, "nil reference for %s", k)
		}
		d.Set[k] = v
	}

	n, err = wr.ReadUint32("ReferenceStoreDiff.deleted count")
	if err != nil {
		return ReferenceStoreDiff{}, err
	}
	d.Deleted = make(map[ident.EntityAttribute]struct{}, min(n, maxPrealloc))
	for range n {
		start := wr.Offset()
		k, err := wr.ReadKey("ReferenceStoreDiff.deleted")
		if err != nil {
			return ReferenceStoreDiff{}, err
		}
		if _, ok := d.Set[k]; ok {
			return ReferenceStoreDiff{}, wr.Malformed("ReferenceStoreDiff.deleted", start, "%s set then deleted again", k)
		}
		if _, dup := d.Deleted[k]; dup {
			return ReferenceStoreDiff{}, wr.Malformed("ReferenceStoreDiff.deleted", start, "duplicate key %s", k)
		}
		d.Deleted[k] = struct{}{}
	}
	return d, nil
}

// AppendBinary appends the canonical encoding of d. Like the reference half
// it refuses what ReadTagStoreDiff would reject: blank or invalid tags and
// ids both set and deleted.
func (d TagStoreDiff) AppendBinary(buf []byte) ([]byte, error) {
	buf = wire.AppendUint32(buf, uint32(len(d.Set)))
	for _, id := range slices.SortedFunc(maps.Keys(d.Set), ident.ID.Compare) {
		tag := d.Set[id]
		if ident.IsBlank(tag) {
			return nil, fmt.Errorf("%w: empty tag for %s", ErrInvalidDiff, id)
		}
		if err := ident.ValidateTag("tag", tag); err != nil {
			return nil, err
		}
		buf = wire.AppendID(buf, id)
		buf = wire.AppendString8(buf, tag)
	}
	buf = wire.AppendUint32(buf, uint32(len(d.Deleted)))
	for _, id := range slices.SortedFunc(maps.Keys(d.Deleted), ident.ID.Compare) {
		if _, ok := d.Set[id]; ok {
			return nil, fmt.Errorf("%w: %s is both set and deleted", ErrInvalidDiff, id)
		}
		buf = wire.AppendID(buf, id)
	}
	return buf, nil
}

// MarshalBinary implements encoding.BinaryMarshaler
func (d TagStoreDiff) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(nil)
}

// UnmarshalBinary decodes exactly one TagStoreDiff
func (d *TagStoreDiff) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(bytes.NewReader(data))
	out, err := ReadTagStoreDiff(r)
	if err != nil {
		return err
	}
	if err := r.ExpectEOF(); err != nil {
		return err
	}
	*d = out
	return nil
}

// ReadTagStoreDiff reads one TagStoreDiff from r with the same rules as
// ReadReferenceStoreDiff. Empty or whitespace-only tags are rejected.
func ReadTagStoreDiff(r io.Reader) (TagStoreDiff, error) {
	wr := wire.NewReader(r)

	n, err := wr.ReadUint32("TagStoreDiff.set count")
	if err != nil {
		return TagStoreDiff{}, err
	}
	d := TagStoreDiff{Set: make(map[ident.ID]string, min(n, maxPrealloc))}
	for range n {
		start := wr.Offset()
		id, err := wr.ReadID("TagStoreDiff.set.key")
		if err != nil {
			return TagStoreDiff{}, err
		}
		tag, err := wr.ReadString8("TagStoreDiff.set.value")
		if err != nil {
			return TagStoreDiff{}, err
		}
		if _, dup := d.Set[id]; dup {
			return TagStoreDiff{}, wr.Malformed("TagStoreDiff.set", start, "duplicate key %s", id)
		}
		if ident.IsBlank(tag) {
			return TagStoreDiff{}, wr.Malformed("TagStoreDiff.set.value", start, "empty tag for %s", id)
		}
		d.Set[id] = tag
	}

	n, err = wr.ReadUint32("TagStoreDiff.deleted count")
	if err != nil {
		return TagStoreDiff{}, err
	}
	d.Deleted = make(map[ident.ID]struct{}, min(n, maxPrealloc))
	for range n {
		start := wr.Offset()
		id, err := wr.ReadID("TagStoreDiff.deleted")
		if err != nil {
			return TagStoreDiff{}, err
		}
		if _, ok := d.Set[id]; ok {
			return TagStoreDiff{}, wr.Malformed("TagStoreDiff.deleted", start, "%s set then deleted again", id)
		}
		if _, dup := d.Deleted[id]; dup {
			return TagStoreDiff{}, wr.Malformed("TagStoreDiff.deleted", start, "duplicate key %s", id)
		}
		d.Deleted[id] = struct{}{}
	}
	return d, nil
}

// AppendBinary appends the reference half then the tag half
func (d StoreDiff) AppendBinary(buf []byte) ([]byte, error) {
	buf, err := d.References.AppendBinary(buf)
	if err != nil {
		return nil, err
	}
	return d.Tags.AppendBinary(buf)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (d StoreDiff) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(nil)
}

// UnmarshalBinary decodes exactly one StoreDiff
func (d *StoreDiff) UnmarshalBinary(data []byte) error {
	r := wire.NewReader(bytes.NewReader(data))
	out, err := ReadStoreDiff(r)
	if err != nil {
		return err
	}
	if err := r.ExpectEOF(); err != nil {
		return err
	}
	*d = out
	return nil
}

// ReadStoreDiff reads the reference half then the tag half from one source
func ReadStoreDiff(r io.Reader) (StoreDiff, error) {
	wr := wire.NewReader(r)
	refs, err := ReadReferenceStoreDiff(wr)
	if err != nil {
		return StoreDiff{}, err
	}
	tags, err := ReadTagStoreDiff(wr)
	if err != nil {
		return StoreDiff{}, err
	}
	return StoreDiff{References: refs, Tags: tags}, nil
}
