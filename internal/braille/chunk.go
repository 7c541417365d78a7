package braille

import (
	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// ChunkGraphemes splits text into exactly width cell slots, one per display
// column: each grapheme cluster (not rune) occupies one cell, and a
// double-width cluster's second column is left blank so following clusters
// don't shift out of alignment with the device's physical cell grid. Text
// longer than width is truncated; shorter text is padded with blanks.
//
// Grounded on the same need every terminal emulator has for rendering a
// byte stream onto a fixed-width cell grid: github.com/rivo/uniseg splits
// on grapheme cluster boundaries (so combining marks and emoji sequences
// stay attached to their base rune) and github.com/mattn/go-runewidth
// reports how many columns a cluster occupies.
func ChunkGraphemes(text string, width int) []string {
	cells := make([]string, 0, width)
	g := uniseg.NewGraphemes(text)
	for g.Next() && len(cells) < width {
		cluster := g.Str()
		cells = append(cells, cluster)
		if runewidth.StringWidth(cluster) > 1 && len(cells) < width {
			cells = append(cells, "")
		}
	}
	for len(cells) < width {
		cells = append(cells, " ")
	}
	return cells[:width]
}

// ClusterByte reduces a grapheme cluster to the single byte WriteRegion's
// translation table expects: the low byte of its first rune, a space for
// an empty placeholder cell (the second column of a wide cluster), or '?'
// for a first rune outside Latin-1 that the table can't represent.
func ClusterByte(cluster string) byte {
	if cluster == "" {
		return ' '
	}
	for _, r := range cluster {
		if r > 0xFF {
			return '?'
		}
		return byte(r)
	}
	return ' '
}
