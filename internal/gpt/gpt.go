// Package gpt decodes and encodes GUID Partition Table headers and the
// partition entry arrays they describe.
package gpt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/soypat/fatfs/internal/utf16x"
)

const (
	// HeaderSize is the size of the defined part of a header.
	HeaderSize = 92
	// EntrySize is the only partition entry size accepted by Parse.
	EntrySize = 128
	// MaxEntries bounds the entry array accepted by Parse.
	MaxEntries = 128
	// Signature starts every header.
	Signature = "EFI PART"

	revision1 = 0x00010000
	nameOff   = 56
	nameLen   = EntrySize - nameOff
)

var (
	ErrShort      = errors.New("gpt: buffer too short")
	ErrSignature  = errors.New("gpt: missing EFI PART signature")
	ErrHeaderCRC  = errors.New("gpt: header CRC mismatch")
	ErrEntriesCRC = errors.New("gpt: partition entry array CRC mismatch")
	ErrLayout     = errors.New("gpt: unsupported partition entry layout")
	ErrName       = errors.New("gpt: partition name does not fit")
)

// GUID is a globally unique identifier in its mixed-endian on-disk form.
type GUID [16]byte

// BasicData is the partition type of FAT and NTFS data partitions.
var BasicData = GUID{0xA2, 0xA0, 0xD0, 0xEB, 0xE5, 0xB9, 0x33, 0x44, 0x87, 0xC0, 0x68, 0xB6, 0xB7, 0x26, 0x99, 0xC7}

// String formats g as in EBD0A0A2-B9E5-4433-87C0-68B6B72699C7.
func (g GUID) String() string {
	return fmt.Sprintf("%08X-%04X-%04X-%X-%X",
		binary.LittleEndian.Uint32(g[0:]), binary.LittleEndian.Uint16(g[4:]),
		binary.LittleEndian.Uint16(g[6:]), g[8:10], g[10:])
}

// Header is the primary partition table header, normally at LBA 1.
type Header struct {
	Revision       uint32
	Size           uint32 // Bytes covered by CRC.
	CRC            uint32
	CurrentLBA     int64
	BackupLBA      int64
	FirstUsableLBA int64
	LastUsableLBA  int64
	DiskGUID       GUID
	EntriesLBA     int64
	NumEntries     uint32
	EntrySize      uint32
	EntriesCRC     uint32
}

// Parse decodes the header at the start of b and checks its signature, CRC
// and entry layout.
func Parse(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShort
	}
	if string(b[:8]) != Signature {
		return Header{}, ErrSignature
	}
	le := binary.LittleEndian
	h := Header{
		Revision:       le.Uint32(b[8:]),
		Size:           le.Uint32(b[12:]),
		CRC:            le.Uint32(b[16:]),
		CurrentLBA:     int64(le.Uint64(b[24:])),
		BackupLBA:      int64(le.Uint64(b[32:])),
		FirstUsableLBA: int64(le.Uint64(b[40:])),
		LastUsableLBA:  int64(le.Uint64(b[48:])),
		EntriesLBA:     int64(le.Uint64(b[72:])),
		NumEntries:     le.Uint32(b[80:]),
		EntrySize:      le.Uint32(b[84:]),
		EntriesCRC:     le.Uint32(b[88:]),
	}
	copy(h.DiskGUID[:], b[56:72])
	if h.Size < HeaderSize || int(h.Size) > len(b) {
		return h, ErrShort
	}
	if headerCRC(b[:h.Size]) != h.CRC {
		return h, ErrHeaderCRC
	}
	if h.EntrySize != EntrySize || h.NumEntries > MaxEntries {
		return h, ErrLayout
	}
	return h, nil
}

// Put encodes h at the start of b and stores the computed CRC in h.CRC.
// Zero Revision and Size fields are filled with their usual values.
func (h *Header) Put(b []byte) error {
	if h.Size == 0 {
		h.Size = HeaderSize
	}
	if h.Revision == 0 {
		h.Revision = revision1
	}
	if len(b) < int(h.Size) || h.Size < HeaderSize {
		return ErrShort
	}
	le := binary.LittleEndian
	clear(b[:h.Size])
	copy(b, Signature)
	le.PutUint32(b[8:], h.Revision)
	le.PutUint32(b[12:], h.Size)
	le.PutUint64(b[24:], uint64(h.CurrentLBA))
	le.PutUint64(b[32:], uint64(h.BackupLBA))
	le.PutUint64(b[40:], uint64(h.FirstUsableLBA))
	le.PutUint64(b[48:], uint64(h.LastUsableLBA))
	copy(b[56:72], h.DiskGUID[:])
	le.PutUint64(b[72:], uint64(h.EntriesLBA))
	le.PutUint32(b[80:], h.NumEntries)
	le.PutUint32(b[84:], h.EntrySize)
	le.PutUint32(b[88:], h.EntriesCRC)
	h.CRC = headerCRC(b[:h.Size])
	le.PutUint32(b[16:], h.CRC)
	return nil
}

// headerCRC is the CRC32 of b taken with the CRC field as zero.
func headerCRC(b []byte) uint32 {
	var zero [4]byte
	crc := crc32.Update(0, crc32.IEEETable, b[:16])
	crc = crc32.Update(crc, crc32.IEEETable, zero[:])
	return crc32.Update(crc, crc32.IEEETable, b[20:])
}

// EntriesLen returns the byte length of the partition entry array.
func (h *Header) EntriesLen() int {
	return int(h.NumEntries) * int(h.EntrySize)
}

// VerifyEntries checks the CRC of the entry array at the start of arr.
func (h *Header) VerifyEntries(arr []byte) error {
	n := h.EntriesLen()
	if len(arr) < n {
		return ErrShort
	}
	if crc32.ChecksumIEEE(arr[:n]) != h.EntriesCRC {
		return ErrEntriesCRC
	}
	return nil
}

// Entry is a partition entry.
type Entry struct {
	Type       GUID
	ID         GUID
	FirstLBA   int64
	LastLBA    int64 // Inclusive.
	Attributes uint64
	Name       string
}

// ParseEntry decodes the entry at the start of b. A name holding invalid
// UTF-16 is cut at the first bad code unit.
func ParseEntry(b []byte) (Entry, error) {
	if len(b) < EntrySize {
		return Entry{}, ErrShort
	}
	le := binary.LittleEndian
	e := Entry{
		FirstLBA:   int64(le.Uint64(b[32:])),
		LastLBA:    int64(le.Uint64(b[40:])),
		Attributes: le.Uint64(b[48:]),
	}
	copy(e.Type[:], b[0:16])
	copy(e.ID[:], b[16:32])
	raw := b[nameOff : nameOff+nameLen]
	var name [nameLen / 2 * 3]byte
	n, _ := utf16x.Decode(name[:], raw[:utf16x.Len(raw)])
	e.Name = string(name[:n])
	return e, nil
}

// Put encodes e at the start of b.
func (e *Entry) Put(b []byte) error {
	if len(b) < EntrySize {
		return ErrShort
	}
	b = b[:EntrySize]
	clear(b)
	if _, err := utf16x.Encode(b[nameOff:], e.Name); err != nil {
		return ErrName
	}
	le := binary.LittleEndian
	copy(b[0:16], e.Type[:])
	copy(b[16:32], e.ID[:])
	le.PutUint64(b[32:], uint64(e.FirstLBA))
	le.PutUint64(b[40:], uint64(e.LastLBA))
	le.PutUint64(b[48:], e.Attributes)
	return nil
}

// Unused reports whether the entry slot is free.
func (e *Entry) Unused() bool {
	return e.Type == GUID{}
}

// Sectors returns the length of the partition.
func (e *Entry) Sectors() int64 {
	return e.LastLBA - e.FirstLBA + 1
}
