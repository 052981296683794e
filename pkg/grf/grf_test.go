package grf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/animchan/internal/fixture"
)

// writeTestGRF packs files into a temporary archive and returns its path.
func writeTestGRF(t *testing.T, files []fixture.File) string {
	t.Helper()

	data, err := fixture.GRF(files)
	if err != nil {
		t.Fatalf("fixture.GRF failed: %v", err)
	}
	return writeRawGRF(t, data)
}

func writeRawGRF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.grf")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test GRF: %v", err)
	}
	return path
}

func testFiles() []fixture.File {
	return []fixture.File{
		{Name: "data/test.txt", Content: []byte("Hello, GRF!")},
		{Name: "data/model/prontera/tree.rsm", Content: append([]byte("GRSM"), make([]byte, 90)...)},
		{Name: "data/model/프론테라/분수.rsm", Content: []byte("GRSM korean path")},
		{Name: "data/subfolder/nested/file.txt", Content: []byte("Nested file content")},
		{Name: "data/empty.txt", Content: nil},
	}
}

func TestOpen(t *testing.T) {
	path := writeTestGRF(t, testFiles())

	archive, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open GRF: %v", err)
	}
	defer archive.Close()

	if archive.header.Version != 0x200 {
		t.Errorf("Version = 0x%x, want 0x200", archive.header.Version)
	}
	if len(archive.fileList) != 5 {
		t.Errorf("file count = %d, want 5", len(archive.fileList))
	}
	if archive.Path() != path {
		t.Errorf("Path() = %q, want %q", archive.Path(), path)
	}
}

func TestOpenInvalid(t *testing.T) {
	dir := t.TempDir()

	notGRF := filepath.Join(dir, "bad.grf")
	if err := os.WriteFile(notGRF, bytes.Repeat([]byte{'x'}, 64), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(notGRF); !errors.Is(err, ErrInvalidMagic) {
		t.Errorf("Open(bad magic) error = %v, want %v", err, ErrInvalidMagic)
	}

	if _, err := Open(filepath.Join(dir, "missing.grf")); err == nil {
		t.Error("expected error opening missing archive")
	}
}

func TestList(t *testing.T) {
	archive, err := Open(writeTestGRF(t, testFiles()))
	if err != nil {
		t.Fatalf("failed to open GRF: %v", err)
	}
	defer archive.Close()

	files := archive.List()
	want := []string{
		"data/empty.txt",
		"data/model/prontera/tree.rsm",
		"data/model/프론테라/분수.rsm",
		"data/subfolder/nested/file.txt",
		"data/test.txt",
	}
	if len(files) != len(want) {
		t.Fatalf("List() = %v, want %v", files, want)
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestContains(t *testing.T) {
	archive, err := Open(writeTestGRF(t, testFiles()))
	if err != nil {
		t.Fatalf("failed to open GRF: %v", err)
	}
	defer archive.Close()

	tests := []struct {
		path string
		want bool
	}{
		{path: "data/test.txt", want: true},
		{`DATA\TEST.TXT`, true},
		{path: "data/model/프론테라/분수.rsm", want: true},
		{path: "data/missing.txt", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := archive.Contains(tt.path); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestRead(t *testing.T) {
	files := testFiles()
	archive, err := Open(writeTestGRF(t, files))
	if err != nil {
		t.Fatalf("failed to open GRF: %v", err)
	}
	defer archive.Close()

	for _, f := range files {
		t.Run(f.Name, func(t *testing.T) {
			data, err := archive.Read(f.Name)
			if err != nil {
				t.Fatalf("Read(%q) failed: %v", f.Name, err)
			}
			if !bytes.Equal(data, f.Content) {
				t.Errorf("Read(%q) = %q, want %q", f.Name, data, f.Content)
			}
		})
	}

	if _, err := archive.Read("data/missing.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read(missing) error = %v, want %v", err, ErrNotFound)
	}
}

func TestCloseTwice(t *testing.T) {
	archive, err := Open(writeTestGRF(t, testFiles()))
	if err != nil {
		t.Fatalf("failed to open GRF: %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Errorf("first Close() = %v", err)
	}
	if err := archive.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestReadCorruptEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry fixture.Entry
	}{
		{
			name:  "compressed larger than slot",
			entry: fixture.Entry{CompressedSize: 64, AlignedSize: 8, UncompressedSize: 256},
		},
		{
			name:  "stored larger than slot",
			entry: fixture.Entry{CompressedSize: 4096, AlignedSize: 8, UncompressedSize: 4096},
		},
		{
			name:  "slot past end of archive",
			entry: fixture.Entry{CompressedSize: 8, AlignedSize: 8, UncompressedSize: 32, Offset: 1 << 20},
		},
		{
			name:  "huge slot",
			entry: fixture.Entry{CompressedSize: 8, AlignedSize: 0xFFFFFFF8, UncompressedSize: 0xFFFFFFF0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.entry.Name = "data/bad.bin"
			tt.entry.Flags = flagFile
			data, err := fixture.RawGRF(make([]byte, 8), []fixture.Entry{tt.entry})
			if err != nil {
				t.Fatalf("fixture.RawGRF failed: %v", err)
			}

			archive, err := Open(writeRawGRF(t, data))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer archive.Close()

			if _, err := archive.Read("data/bad.bin"); !errors.Is(err, ErrCorruptTable) {
				t.Errorf("Read error = %v, want %v", err, ErrCorruptTable)
			}
		})
	}
}

// A declared size larger than the stream yields is an error, not a
// zero-padded result.
func TestReadShortStream(t *testing.T) {
	data, err := fixture.GRF([]fixture.File{{Name: "data/a.txt", Content: []byte("short")}})
	if err != nil {
		t.Fatalf("fixture.GRF failed: %v", err)
	}
	archive, err := Open(writeRawGRF(t, data))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer archive.Close()

	archive.fileList["data/a.txt"].UncompressedSize = 1 << 30
	if _, err := archive.Read("data/a.txt"); err == nil {
		t.Error("expected error for a stream shorter than its declared size")
	}
}

func TestOpenCorruptTableSizes(t *testing.T) {
	data, err := fixture.GRF(testFiles())
	if err != nil {
		t.Fatalf("fixture.GRF failed: %v", err)
	}
	tableOffset := grfHeaderSize + int(binary.LittleEndian.Uint32(data[30:]))

	tests := []struct {
		name  string
		patch func(b []byte)
	}{
		{"compressed size past end", func(b []byte) {
			binary.LittleEndian.PutUint32(b[tableOffset:], 0xFFFFFFFF)
		}},
		{"uncompressed size too large", func(b []byte) {
			binary.LittleEndian.PutUint32(b[tableOffset+4:], 0xFFFFFFFF)
		}},
		{"table offset past end", func(b []byte) {
			binary.LittleEndian.PutUint32(b[30:], 0x7FFFFFFF)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), data...)
			tt.patch(b)
			if _, err := Open(writeRawGRF(t, b)); err == nil {
				t.Error("expected Open to fail")
			}
		})
	}

	b := append([]byte(nil), data...)
	binary.LittleEndian.PutUint32(b[tableOffset:], 0xFFFFFFFF)
	if _, err := Open(writeRawGRF(t, b)); !errors.Is(err, ErrCorruptTable) {
		t.Errorf("oversized table error = %v, want %v", err, ErrCorruptTable)
	}
}
