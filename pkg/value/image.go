package value

import (
	"fmt"
	"slices"

	"github.com/nainya/eavstore/pkg/ident"
	"github.com/nainya/eavstore/pkg/wire"
)

// MaxImageSide bounds both the column and row count of an Image
const MaxImageSide = 255

// Image is a grid of premultiplied pixels stored row major
type Image struct {
	columns int
	pixels  []ColorWithOpacity
}

// NewImage builds an Image from its column count and row-major pixels.
// The row count is derived and must be between 1 and MaxImageSide.
func NewImage(columns int, pixels []ColorWithOpacity) (Image, error) {
	if columns < 1 || columns > MaxImageSide {
		return Image{}, ident.Invalid("columns", fmt.Sprintf("must be between 1 and %d, got %d", MaxImageSide, columns))
	}
	if len(pixels) == 0 || len(pixels)%columns != 0 {
		return Image{}, ident.Invalid("pixels", fmt.Sprintf("%d pixels do not fill %d columns", len(pixels), columns))
	}
	if rows := len(pixels) / columns; rows > MaxImageSide {
		return Image{}, ident.Invalid("pixels", fmt.Sprintf("%d rows exceed %d", rows, MaxImageSide))
	}
	for i, p := range pixels {
		if err := p.Validate(); err != nil {
			return Image{}, ident.Invalid(fmt.Sprintf("pixels[%d]", i), err.Error())
		}
	}
	return Image{columns: columns, pixels: slices.Clone(pixels)}, nil
}

// Columns returns the column count
func (im Image) Columns() int {
	return im.columns
}

// Rows returns the row count
func (im Image) Rows() int {
	if im.columns == 0 {
		return 0
	}
	return len(im.pixels) / im.columns
}

// At returns the pixel at column x, row y
func (im Image) At(x, y int) ColorWithOpacity {
	return im.pixels[y*im.columns+x]
}

// Pixels returns a copy of the row-major pixels
func (im Image) Pixels() []ColorWithOpacity {
	return slices.Clone(im.pixels)
}

// Equal reports structural equality
func (im Image) Equal(other Image) bool {
	return im.columns == other.columns && slices.Equal(im.pixels, other.pixels)
}

// Validate rejects the zero Image; every Image built by NewImage or
// ReadImage is valid
func (im Image) Validate() error {
	if im.columns == 0 {
		return ident.Invalid("image", "uninitialized")
	}
	return nil
}

// AppendBinary appends columns, rows, then the pixels
func (im Image) AppendBinary(buf []byte) ([]byte, error) {
	if err := im.Validate(); err != nil {
		return nil, err
	}
	buf = wire.AppendUint8(buf, uint8(im.columns))
	buf = wire.AppendUint8(buf, uint8(im.Rows()))
	for _, p := range im.pixels {
		buf, _ = p.AppendBinary(buf)
	}
	return buf, nil
}

func (im Image) String() string {
	return fmt.Sprintf("Image(%dx%d)", im.columns, im.Rows())
}

// ReadImage decodes and validates an Image
func ReadImage(r *wire.Reader, field string) (Image, error) {
	start := r.Offset()
	columns, err := r.ReadUint8(field + ".columns")
	if err != nil {
		return Image{}, err
	}
	rows, err := r.ReadUint8(field + ".rows")
	if err != nil {
		return Image{}, err
	}
	if columns == 0 || rows == 0 {
		return Image{}, r.Malformed(field, start, "empty image %dx%d", columns, rows)
	}

	pixels := make([]ColorWithOpacity, int(columns)*int(rows))
	for i := range pixels {
		if pixels[i], err = ReadColorWithOpacity(r, field+".pixel"); err != nil {
			return Image{}, err
		}
	}
	return Image{columns: int(columns), pixels: pixels}, nil
}
