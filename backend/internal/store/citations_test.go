package store

import (
	"slices"
	"testing"
)

func TestExtractCitations(t *testing.T) {
	body := "As shown [[CITE:a1b2]] and later [[CITE:c3]], see also [[CITE:a1b2]]. [[CITE:bad-id]]"
	got := ExtractCitations(body)
	want := []string{"a1b2", "c3"}
	if !slices.Equal(got, want) {
		t.Fatalf("ExtractCitations() = %v, want %v", got, want)
	}
}

func TestExtractCitations_None(t *testing.T) {
	got := ExtractCitations("plain text")
	if got == nil || len(got) != 0 {
		t.Fatalf("ExtractCitations() = %#v, want empty non-nil slice", got)
	}
}
