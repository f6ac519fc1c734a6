// Package strings provides zero-copy string conversions and pooled builders
// used on the cube build hot paths (key formatting, sink encoding, error text).
package strings

import (
	"fmt"
	"strconv"
	"sync"
	"unsafe"

	"github.com/shopspring/decimal"
)

// BytesToString converts byte slice to string without allocation
// WARNING: The returned string shares memory with the byte slice.
// Do not modify the byte slice after calling this function.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(b), len(b))
}

// StringToBytes converts string to byte slice without allocation
// WARNING: The returned byte slice shares memory with the string.
// Do not modify the returned slice.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// Clone returns a copy of s that does not share memory with its source.
func Clone(s string) string {
	if len(s) == 0 {
		return ""
	}
	b := make([]byte, len(s))
	copy(b, s)
	return BytesToString(b)
}

// Builder provides efficient string building with zero-copy operations
type Builder struct {
	buf []byte
}

// NewBuilder creates a new string builder
func NewBuilder(capacity int) *Builder {
	return &Builder{
		buf: make([]byte, 0, capacity),
	}
}

// WriteString appends a string to the builder
func (b *Builder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a single byte
func (b *Builder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Write implements io.Writer interface
func (b *Builder) Write(p []byte) (n int, err error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// String returns the built string using zero-copy conversion
func (b *Builder) String() string {
	return BytesToString(b.buf)
}

// Len returns the length of the built string
func (b *Builder) Len() int {
	return len(b.buf)
}

// Reset resets the builder for reuse
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
}

// BuilderSize represents different builder sizes
type BuilderSize int

const (
	Small  BuilderSize = iota // < 1KB
	Medium                    // 1KB - 16KB
	Large                     // 16KB+
)

var builderPools = [...]*sync.Pool{
	Small:  {New: func() interface{} { return NewBuilder(1024) }},
	Medium: {New: func() interface{} { return NewBuilder(16 * 1024) }},
	Large:  {New: func() interface{} { return NewBuilder(64 * 1024) }},
}

func poolFor(size BuilderSize) *sync.Pool {
	if size < Small || size > Large {
		return builderPools[Small]
	}
	return builderPools[size]
}

func sizeFor(n int) BuilderSize {
	switch {
	case n > 16*1024:
		return Large
	case n > 1024:
		return Medium
	default:
		return Small
	}
}

// GetBuilder retrieves a pooled builder of the specified size
func GetBuilder(size BuilderSize) *Builder {
	builder := poolFor(size).Get().(*Builder)
	builder.Reset()
	return builder
}

// PutBuilder returns a builder to the appropriate pool
func PutBuilder(builder *Builder, size BuilderSize) {
	if builder == nil {
		return
	}
	builder.Reset()
	poolFor(size).Put(builder)
}

// Sprintf provides a pooled alternative to fmt.Sprintf
func Sprintf(format string, args ...interface{}) string {
	if len(args) == 0 {
		return format
	}

	size := sizeFor(len(format) + len(args)*16)
	builder := GetBuilder(size)
	defer PutBuilder(builder, size)

	fmt.Fprintf(builder, format, args...)
	return Clone(builder.String())
}

// ValueToString converts decoded cell values to their text form without
// going through fmt for the common measure and dimension types.
func ValueToString(value interface{}) string {
	if value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case decimal.Decimal:
		return v.String()
	case []byte:
		return string(v)
	default:
		return Sprintf("%v", value)
	}
}
