package fixture

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"strings"

	"github.com/Faultbox/animchan/pkg/encoding"
)

const (
	grfMagic   = "Master of Magic"
	grfVersion = 0x200
	grfFile    = 0x01
)

// File is an archive member.
type File struct {
	Name    string
	Content []byte
}

// Entry is a file table record written as given, for archives whose
// sizes or offsets do not match their body.
type Entry struct {
	Name             string
	CompressedSize   uint32
	AlignedSize      uint32
	UncompressedSize uint32
	Flags            uint8
	Offset           uint32
}

// GRF packs files into a version 0x200 archive. Content is zlib compressed
// and aligned to 8 bytes; names are stored EUC-KR with backslash
// separators.
func GRF(files []File) ([]byte, error) {
	var body bytes.Buffer
	entries := make([]Entry, 0, len(files))

	for _, f := range files {
		var compressed bytes.Buffer
		zw := zlib.NewWriter(&compressed)
		if _, err := zw.Write(f.Content); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}

		aligned := uint32(compressed.Len())
		if aligned%8 != 0 {
			aligned += 8 - aligned%8
		}
		entries = append(entries, Entry{
			Name:             f.Name,
			CompressedSize:   uint32(compressed.Len()),
			AlignedSize:      aligned,
			UncompressedSize: uint32(len(f.Content)),
			Flags:            grfFile,
			Offset:           uint32(body.Len()),
		})
		body.Write(compressed.Bytes())
		body.Write(make([]byte, aligned-uint32(compressed.Len())))
	}
	return RawGRF(body.Bytes(), entries)
}

// RawGRF builds an archive from a body and a file table taken verbatim.
func RawGRF(body []byte, entries []Entry) ([]byte, error) {
	var table bytes.Buffer
	for _, e := range entries {
		table.Write(encoding.UTF8ToEUCKR(strings.ReplaceAll(e.Name, "/", "\\")))
		table.WriteByte(0)
		_ = binary.Write(&table, binary.LittleEndian, [3]uint32{e.CompressedSize, e.AlignedSize, e.UncompressedSize})
		table.WriteByte(e.Flags)
		_ = binary.Write(&table, binary.LittleEndian, e.Offset)
	}

	var compressedTable bytes.Buffer
	tw := zlib.NewWriter(&compressedTable)
	if _, err := tw.Write(table.Bytes()); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	var magic [15]byte
	copy(magic[:], grfMagic)
	header := struct {
		Magic         [15]byte
		EncryptionKey [15]byte
		TableOffset   uint32
		Seed          uint32
		FileCount     uint32
		Version       uint32
	}{
		Magic:       magic,
		TableOffset: uint32(len(body)),
		FileCount:   uint32(len(entries)) + 7,
		Version:     grfVersion,
	}
	_ = binary.Write(&out, binary.LittleEndian, &header)
	out.Write(body)
	_ = binary.Write(&out, binary.LittleEndian, [2]uint32{uint32(compressedTable.Len()), uint32(table.Len())})
	out.Write(compressedTable.Bytes())
	return out.Bytes(), nil
}
