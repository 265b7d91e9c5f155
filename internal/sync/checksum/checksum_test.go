package checksum

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestReader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "d41d8cd98f00b204e9800998ecf8427e"},
		{"hello world", "5eb63bbbe01eeed093cb22bb8f5acdc3"},
	}

	for _, tt := range tests {
		got, n, err := Reader(strings.NewReader(tt.input))
		if err != nil {
			t.Fatalf("Reader(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Reader(%q) = %s, want %s", tt.input, got, tt.want)
		}
		if n != int64(len(tt.input)) {
			t.Errorf("Reader(%q) read %d bytes, want %d", tt.input, n, len(tt.input))
		}
	}
}

func TestFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/root/a.txt", []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	got, err := File(fs, "/root/a.txt")
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if got != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Errorf("File() = %s", got)
	}

	if _, err := File(fs, "/root/missing.txt"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestEqual(t *testing.T) {
	if !Equal("ABCDEF", "abcdef") {
		t.Error("Expected digests to compare case-insensitively")
	}
	if Equal("", "") {
		t.Error("Expected unknown digests not to match")
	}
	if Equal("abc", "") {
		t.Error("Expected unknown digest not to match a known one")
	}
}
