package braille

import "testing"

func TestChunkGraphemesPadsShortText(t *testing.T) {
	cells := ChunkGraphemes("hi", 5)
	if len(cells) != 5 {
		t.Fatalf("expected 5 cells, got %d", len(cells))
	}
	if cells[0] != "h" || cells[1] != "i" {
		t.Fatalf("unexpected leading cells: %+v", cells)
	}
	if cells[2] != " " || cells[3] != " " || cells[4] != " " {
		t.Fatalf("expected blank padding, got %+v", cells)
	}
}

func TestChunkGraphemesTruncatesLongText(t *testing.T) {
	cells := ChunkGraphemes("hello world", 5)
	if len(cells) != 5 {
		t.Fatalf("expected 5 cells, got %d", len(cells))
	}
	got := ""
	for _, c := range cells {
		got += c
	}
	if got != "hello" {
		t.Fatalf("expected truncation to %q, got %q", "hello", got)
	}
}

func TestChunkGraphemesWideClusterConsumesTwoCells(t *testing.T) {
	// U+4E2D (中) is a fullwidth CJK character occupying two columns.
	cells := ChunkGraphemes("中x", 3)
	if len(cells) != 3 {
		t.Fatalf("expected 3 cells, got %d", len(cells))
	}
	if cells[0] != "中" || cells[1] != "" || cells[2] != "x" {
		t.Fatalf("unexpected cells: %+v", cells)
	}
}

func TestClusterByteHandlesEmptyAndWideRunes(t *testing.T) {
	if ClusterByte("") != ' ' {
		t.Fatalf("expected blank cell for empty cluster")
	}
	if ClusterByte("a") != 'a' {
		t.Fatalf("expected 'a', got %q", ClusterByte("a"))
	}
	if ClusterByte("中") != '?' {
		t.Fatalf("expected fallback for non-Latin1 rune, got %q", ClusterByte("中"))
	}
}
