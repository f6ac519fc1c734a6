package gridtable

import (
	"encoding/binary"

	"github.com/qhzhou/Kylin/pkg/errors"
)

// GTRowBlock is a batch of encoded rows and the unit of store I/O. Cells are
// grouped by column block: each block keeps one section holding, row after
// row, its columns as uvarint length followed by the cell bytes.
//
// Exported layout: uvarint rowCount, then per column block uvarint
// sectionLen and the section.
type GTRowBlock struct {
	info     *GTInfo
	nRows    int
	sections [][]byte
}

// NewRowBlock creates an empty block for info.
func NewRowBlock(info *GTInfo) *GTRowBlock {
	return &GTRowBlock{info: info, sections: make([][]byte, len(info.ColumnBlocks()))}
}

func (b *GTRowBlock) NumRows() int  { return b.nRows }
func (b *GTRowBlock) IsEmpty() bool { return b.nRows == 0 }
func (b *GTRowBlock) IsFull() bool  { return b.nRows >= b.info.RowBlockSize() }

// Clear empties the block, keeping its buffers.
func (b *GTRowBlock) Clear() {
	b.nRows = 0
	for i := range b.sections {
		b.sections[i] = b.sections[i][:0]
	}
}

// Append copies the cells of rec into the block.
func (b *GTRowBlock) Append(rec *GTRecord) {
	for i, blk := range b.info.ColumnBlocks() {
		sec := b.sections[i]
		for _, c := range blk.Indexes() {
			cell := rec.Get(c)
			sec = binary.AppendUvarint(sec, uint64(len(cell)))
			sec = append(sec, cell...)
		}
		b.sections[i] = sec
	}
	b.nRows++
}

// EncodedSize is the length of the exported block.
func (b *GTRowBlock) EncodedSize() int {
	n := uvarintLen(uint64(b.nRows))
	for _, sec := range b.sections {
		n += uvarintLen(uint64(len(sec))) + len(sec)
	}
	return n
}

// Export appends the block's exported layout to dst.
func (b *GTRowBlock) Export(dst []byte) []byte {
	dst = binary.AppendUvarint(dst, uint64(b.nRows))
	for _, sec := range b.sections {
		dst = binary.AppendUvarint(dst, uint64(len(sec)))
		dst = append(dst, sec...)
	}
	return dst
}

// Load replaces the block's content with an exported block. The sections
// alias data.
func (b *GTRowBlock) Load(data []byte) error {
	rows, n := binary.Uvarint(data)
	if n <= 0 {
		return errors.New(errors.ErrorTypeStorage, "corrupt row block header")
	}
	data = data[n:]
	for i := range b.sections {
		l, n := binary.Uvarint(data)
		if n <= 0 || uint64(len(data)-n) < l {
			return errors.Newf(errors.ErrorTypeStorage, "corrupt row block section %d", i)
		}
		b.sections[i] = data[n : n+int(l)]
		data = data[n+int(l):]
	}
	if len(data) != 0 {
		return errors.Newf(errors.ErrorTypeStorage, "%d trailing bytes after row block", len(data))
	}
	b.nRows = int(rows)
	return nil
}

// cursor returns an iterator over the rows of the block.
func (b *GTRowBlock) cursor() *blockCursor {
	return &blockCursor{block: b, offsets: make([]int, len(b.sections))}
}

type blockCursor struct {
	block   *GTRowBlock
	offsets []int
	row     int
}

// next points the cells of rec at the next row. It returns false once the
// block is exhausted.
func (c *blockCursor) next(rec *GTRecord) (bool, error) {
	if c.row >= c.block.nRows {
		return false, nil
	}
	for i, blk := range c.block.info.ColumnBlocks() {
		sec := c.block.sections[i]
		off := c.offsets[i]
		for _, col := range blk.Indexes() {
			l, n := binary.Uvarint(sec[off:])
			if n <= 0 || uint64(len(sec)-off-n) < l {
				return false, errors.Newf(errors.ErrorTypeStorage, "corrupt cell of column %d in row %d", col, c.row)
			}
			off += n
			rec.Set(col, sec[off:off+int(l):off+int(l)])
			off += int(l)
		}
		c.offsets[i] = off
	}
	c.row++
	return true, nil
}

func uvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
