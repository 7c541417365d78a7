// Package braille implements the braille session: cell translation, the
// acknowledgement-queue retransmission protocol, and key-event fan-in
// (including the press/release coalescing required when a driver reports a
// whole key bitmask at once).
//
// Uses the same shadow-copy-for-change-detection pattern a file-sync cache
// uses to skip re-uploading unchanged content, applied here to braille
// cell rows with github.com/cespare/xxhash/v2 for the row hash.
package braille

import (
	"github.com/cespare/xxhash/v2"
)

// Cell is one 8-dot pattern: bit 0 is dot 1, ... bit 7 is dot 8, per
// ISO-11548-1 canonical numbering.
type Cell = byte

// NoCursor is the sentinel CursorIndex value meaning "no cursor displayed".
const NoCursor = -1

// Run describes a contiguous span of changed cells.
type Run struct {
	Start, End int // [Start, End)
}

// TranslationTable maps the 256 canonical dot patterns to a device's
// physical dot order, and back.
type TranslationTable struct {
	ToDevice   [256]byte
	FromDevice [256]byte
}

// IdentityTable returns a translation table that performs no remapping,
// suitable for devices that already use ISO-11548-1 ordering.
func IdentityTable() TranslationTable {
	var tt TranslationTable
	for i := 0; i < 256; i++ {
		tt.ToDevice[i] = byte(i)
		tt.FromDevice[i] = byte(i)
	}
	return tt
}

// Buffer is one display's cell content: the text area, an optional status
// area, cursor position, and the shadow copy used for change detection.
type Buffer struct {
	Rows, Cols int
	Cells      []Cell
	Status     []Cell

	CursorIndex int

	previous     []Cell
	previousHash []uint64 // one hash per row, for cheap unchanged-row skipping
}

// NewBuffer allocates a rows x cols buffer with no status area and no
// cursor.
func NewBuffer(rows, cols int) *Buffer {
	n := rows * cols
	return &Buffer{
		Rows:         rows,
		Cols:         cols,
		Cells:        make([]Cell, n),
		CursorIndex:  NoCursor,
		previous:     make([]Cell, n),
		previousHash: make([]uint64, rows),
	}
}

func (b *Buffer) rowHash(cells []Cell, row int) uint64 {
	start := row * b.Cols
	end := start + b.Cols
	if end > len(cells) {
		end = len(cells)
	}
	return xxhash.Sum64(cells[start:end])
}

// ChangedRuns compares Cells against the shadow copy and returns the
// minimal set of contiguous changed spans, skipping whole rows whose hash
// is unchanged before falling back to a byte-level scan within a dirty row.
func (b *Buffer) ChangedRuns() []Run {
	var runs []Run
	for row := 0; row < b.Rows; row++ {
		h := b.rowHash(b.Cells, row)
		if h == b.previousHash[row] {
			continue
		}
		start := row * b.Cols
		end := start + b.Cols
		if end > len(b.Cells) {
			end = len(b.Cells)
		}
		runStart := -1
		for i := start; i < end; i++ {
			if b.Cells[i] != b.previous[i] {
				if runStart == -1 {
					runStart = i
				}
			} else if runStart != -1 {
				runs = append(runs, Run{Start: runStart, End: i})
				runStart = -1
			}
		}
		if runStart != -1 {
			runs = append(runs, Run{Start: runStart, End: end})
		}
	}
	return runs
}

// Commit copies Cells into the shadow copy, acknowledging that the changes
// returned by the most recent ChangedRuns have been transmitted.
func (b *Buffer) Commit() {
	copy(b.previous, b.Cells)
	for row := 0; row < b.Rows; row++ {
		b.previousHash[row] = b.rowHash(b.previous, row)
	}
}

// WriteRegion composes cells into the buffer the way a BrlAPI Write message
// does: translate each input byte through the table, AND with andMask, OR
// with orMask, element-wise starting at begin.
func (b *Buffer) WriteRegion(begin int, text []byte, tt TranslationTable, andMask, orMask []byte, cursor int) {
	for i, ch := range text {
		idx := begin + i
		if idx < 0 || idx >= len(b.Cells) {
			continue
		}
		dots := tt.ToDevice[ch]
		if i < len(andMask) {
			dots &= andMask[i]
		}
		if i < len(orMask) {
			dots |= orMask[i]
		}
		b.Cells[idx] = dots
	}
	if cursor >= 0 {
		b.CursorIndex = cursor
	}
}
