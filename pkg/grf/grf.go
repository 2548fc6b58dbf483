// Package grf reads version 0x200 GRF archives, the container RSM models ship in.
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

	"github.com/Faultbox/midgard-assets/pkg/encoding"
)

const (
	magic      = "Master of Magic"
	headerSize = 46
	version    = 0x200
	entrySize  = 17 // sizes, flags and offset following the entry name

	flagFile      = 0x01
	flagEncrypted = 0x06 // mixed or header-only DES
)

var (
	ErrInvalidMagic       = errors.New("invalid GRF magic")
	ErrUnsupportedVersion = errors.New("unsupported GRF version")
	ErrCorruptTable       = errors.New("corrupt GRF file table")
	ErrNotFound           = errors.New("file not found in archive")
	ErrEncrypted          = errors.New("encrypted GRF entries are not supported")
)

// Header is the fixed-size block at the start of an archive.
type Header struct {
	Magic         [15]byte
	EncryptionKey [15]byte
	TableOffset   uint32
	Seed          uint32
	FileCount     uint32
	Version       uint32
}

// Entry describes one stored file.
type Entry struct {
	Name             string // Normalized lookup key
	CompressedSize   uint32
	AlignedSize      uint32
	UncompressedSize uint32
	Flags            uint8
	Offset           uint32 // Relative to the end of the header
}

// Archive is an opened GRF archive. Reads go through io.ReaderAt and are safe for
// concurrent use.
type Archive struct {
	r       io.ReaderAt
	closer  io.Closer
	size    int64
	header  Header
	entries map[string]*Entry
}

// Open opens the archive at path.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	a, err := NewArchive(f, info.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.closer = f
	return a, nil
}

// NewArchive reads the header and file table of an archive of the given size.
func NewArchive(r io.ReaderAt, size int64) (*Archive, error) {
	a := &Archive{r: r, size: size, entries: make(map[string]*Entry)}
	if err := a.readHeader(); err != nil {
		return nil, err
	}
	if err := a.readFileTable(); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the underlying file, if any.
func (a *Archive) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

func (a *Archive) readHeader() error {
	var buf [headerSize]byte
	if _, err := a.r.ReadAt(buf[:], 0); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if err := binary.Read(bytes.NewReader(buf[:]), binary.LittleEndian, &a.header); err != nil {
		return err
	}
	if string(a.header.Magic[:]) != magic {
		return ErrInvalidMagic
	}
	if a.header.Version != version {
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedVersion, a.header.Version)
	}
	return nil
}

func (a *Archive) readFileTable() error {
	off := int64(a.header.TableOffset) + headerSize
	var sizes [8]byte
	if _, err := a.r.ReadAt(sizes[:], off); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}
	compressed := binary.LittleEndian.Uint32(sizes[0:])
	uncompressed := binary.LittleEndian.Uint32(sizes[4:])
	if int64(compressed) > a.size-off-8 {
		return fmt.Errorf("%w: table size %d exceeds archive", ErrCorruptTable, compressed)
	}

	table, err := inflate(io.NewSectionReader(a.r, off+8, int64(compressed)), uncompressed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptTable, err)
	}

	count := int64(a.header.FileCount) - int64(a.header.Seed) - 7
	if count < 0 {
		return fmt.Errorf("%w: negative file count", ErrCorruptTable)
	}

	pos := 0
	for i := int64(0); i < count; i++ {
		end := bytes.IndexByte(table[pos:], 0)
		if end < 0 || pos+end+1+entrySize > len(table) {
			return fmt.Errorf("%w: entry %d truncated", ErrCorruptTable, i)
		}
		name := encoding.EUCKRToUTF8(table[pos : pos+end])
		pos += end + 1

		e := &Entry{
			Name:             encoding.NormalizeAssetPath(name),
			CompressedSize:   binary.LittleEndian.Uint32(table[pos:]),
			AlignedSize:      binary.LittleEndian.Uint32(table[pos+4:]),
			UncompressedSize: binary.LittleEndian.Uint32(table[pos+8:]),
			Flags:            table[pos+12],
			Offset:           binary.LittleEndian.Uint32(table[pos+13:]),
		}
		pos += entrySize

		// Directories carry no file flag.
		if e.Flags&flagFile != 0 {
			a.entries[e.Name] = e
		}
	}
	return nil
}

// Len returns the number of files in the archive.
func (a *Archive) Len() int {
	return len(a.entries)
}

// List returns every file name in sorted order.
func (a *Archive) List() []string {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry returns the table entry for path. Lookups ignore case, slash direction and a
// leading "data/".
func (a *Archive) Entry(path string) (*Entry, bool) {
	e, ok := a.entries[encoding.NormalizeAssetPath(path)]
	return e, ok
}

// Read returns the uncompressed contents of path.
func (a *Archive) Read(path string) ([]byte, error) {
	e, ok := a.Entry(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if e.Flags&flagEncrypted != 0 {
		return nil, fmt.Errorf("%w: %s", ErrEncrypted, path)
	}

	off := int64(e.Offset) + headerSize
	if off+int64(e.CompressedSize) > a.size {
		return nil, fmt.Errorf("%s: data extends past end of archive", path)
	}
	sr := io.NewSectionReader(a.r, off, int64(e.CompressedSize))

	if e.CompressedSize == e.UncompressedSize {
		data := make([]byte, e.UncompressedSize)
		if _, err := io.ReadFull(sr, data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return data, nil
	}

	data, err := inflate(sr, e.UncompressedSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// inflate decompresses a zlib stream that must expand to exactly size bytes.
func inflate(r io.Reader, size uint32) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out := make([]byte, size)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, err
	}
	return out, nil
}
