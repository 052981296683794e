// Package grf provides reading functionality for Ragnarok Online GRF archives.
package grf

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/Faultbox/animchan/pkg/encoding"
)

const (
	grfMagic      = "Master of Magic"
	grfVersion    = 0x200
	grfHeaderSize = 46
)

// Entry flags.
const (
	flagFile      = 0x01
	flagEncrypted = 0x02
)

// GRF errors.
var (
	ErrInvalidMagic       = errors.New("invalid GRF magic")
	ErrUnsupportedVersion = errors.New("unsupported GRF version")
	ErrNotFound           = errors.New("file not found in archive")
	ErrEncrypted          = errors.New("encrypted GRF entries are not supported")
	ErrCorruptTable       = errors.New("corrupt GRF file table")
)

// Archive represents an opened GRF archive.
type Archive struct {
	path     string
	file     *os.File
	size     int64
	header   Header
	fileList map[string]*Entry
}

// Header contains GRF file header information.
type Header struct {
	Magic         [15]byte
	EncryptionKey [15]byte
	TableOffset   uint32
	Seed          uint32
	FileCount     uint32
	Version       uint32
}

// Entry represents a file entry in the archive.
type Entry struct {
	Name             string
	CompressedSize   uint32
	AlignedSize      uint32
	UncompressedSize uint32
	Flags            uint8
	Offset           uint32
}

// Open opens a GRF archive for reading.
func Open(path string) (*Archive, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	archive := &Archive{
		path:     path,
		file:     file,
		size:     info.Size(),
		fileList: make(map[string]*Entry),
	}

	if err := archive.readHeader(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading header: %w", err)
	}

	if err := archive.readFileTable(); err != nil {
		file.Close()
		return nil, fmt.Errorf("reading file table: %w", err)
	}

	return archive, nil
}

// Path returns the path the archive was opened from.
func (a *Archive) Path() string {
	return a.path
}

// Close closes the archive.
func (a *Archive) Close() error {
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

func (a *Archive) readHeader() error {
	if _, err := a.file.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if err := binary.Read(a.file, binary.LittleEndian, &a.header); err != nil {
		return err
	}

	if string(a.header.Magic[:]) != grfMagic {
		return ErrInvalidMagic
	}

	if a.header.Version != grfVersion {
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedVersion, a.header.Version)
	}

	return nil
}

func (a *Archive) readFileTable() error {
	tableOffset := int64(a.header.TableOffset) + grfHeaderSize
	if _, err := a.file.Seek(tableOffset, io.SeekStart); err != nil {
		return err
	}

	var sizes struct {
		Compressed   uint32
		Uncompressed uint32
	}
	if err := binary.Read(a.file, binary.LittleEndian, &sizes); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}
	if int64(sizes.Compressed) > a.size-tableOffset-8 {
		return fmt.Errorf("%w: table of %d bytes overruns the archive", ErrCorruptTable, sizes.Compressed)
	}

	compressedData := make([]byte, sizes.Compressed)
	if _, err := io.ReadFull(a.file, compressedData); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}

	tableData, err := inflate(compressedData, sizes.Uncompressed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}

	fileCount := a.header.FileCount - a.header.Seed - 7
	offset := 0

	for i := uint32(0); i < fileCount; i++ {
		nameEnd := bytes.IndexByte(tableData[offset:], 0)
		if nameEnd < 0 {
			break
		}
		name := encoding.EUCKRToUTF8(tableData[offset : offset+nameEnd])
		offset += nameEnd + 1

		if offset+17 > len(tableData) {
			break
		}

		entry := &Entry{
			Name:             encoding.NormalizeGRFPath(name),
			CompressedSize:   binary.LittleEndian.Uint32(tableData[offset:]),
			AlignedSize:      binary.LittleEndian.Uint32(tableData[offset+4:]),
			UncompressedSize: binary.LittleEndian.Uint32(tableData[offset+8:]),
			Flags:            tableData[offset+12],
			Offset:           binary.LittleEndian.Uint32(tableData[offset+13:]),
		}
		offset += 17

		if entry.Flags&flagFile != 0 {
			a.fileList[entry.Name] = entry
		}
	}

	return nil
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.fileList))
	for path := range a.fileList {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists.
func (a *Archive) Contains(path string) bool {
	_, ok := a.fileList[encoding.NormalizeGRFPath(path)]
	return ok
}

// Read reads a file from the archive.
func (a *Archive) Read(path string) ([]byte, error) {
	entry, ok := a.fileList[encoding.NormalizeGRFPath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if entry.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %s", ErrEncrypted, path)
	}

	if err := a.checkEntry(entry); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	compressedData := make([]byte, entry.AlignedSize)
	if _, err := a.file.ReadAt(compressedData, int64(entry.Offset)+grfHeaderSize); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if entry.CompressedSize == entry.UncompressedSize {
		return compressedData[:entry.UncompressedSize], nil
	}

	result, err := inflate(compressedData[:entry.CompressedSize], entry.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	return result, nil
}

// checkEntry rejects entries whose data does not fit their aligned slot or
// whose slot lies past the end of the archive.
func (a *Archive) checkEntry(e *Entry) error {
	if e.CompressedSize > e.AlignedSize {
		return fmt.Errorf("%w: compressed size %d exceeds aligned size %d",
			ErrCorruptTable, e.CompressedSize, e.AlignedSize)
	}
	if e.CompressedSize == e.UncompressedSize && e.UncompressedSize > e.AlignedSize {
		return fmt.Errorf("%w: stored size %d exceeds aligned size %d",
			ErrCorruptTable, e.UncompressedSize, e.AlignedSize)
	}
	if end := int64(e.Offset) + grfHeaderSize + int64(e.AlignedSize); end > a.size {
		return fmt.Errorf("%w: entry ends at %d past archive size %d", ErrCorruptTable, end, a.size)
	}
	return nil
}

// inflate decompresses data that should expand to exactly size bytes. The
// buffer grows with the stream, not with the declared size.
func inflate(data []byte, size uint32) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, int64(size)))
	if err != nil {
		return nil, err
	}
	if len(out) != int(size) {
		return nil, fmt.Errorf("inflated %d bytes, want %d: %w", len(out), size, io.ErrUnexpectedEOF)
	}
	return out, nil
}
