// Package mbr reads and writes the partition table of a Master Boot Record,
// the first sector of a partitioned disk.
package mbr

import (
	"encoding/binary"
	"errors"
)

const (
	// Size of the record in bytes.
	Size = 512
	// NumPartitions is the number of primary partition slots.
	NumPartitions = 4
	// Signature is the value of the last two bytes of a valid record.
	Signature = 0xAA55

	offDiskID    = 440
	offTable     = 446
	entryLen     = 16
	offSignature = 510
)

var errShort = errors.New("mbr: record shorter than 512 bytes")

// Record is a view of a Master Boot Record held in a caller owned buffer.
type Record struct {
	b []byte
}

// From returns a Record backed by the first 512 bytes of b.
func From(b []byte) (Record, error) {
	if len(b) < Size {
		return Record{}, errShort
	}
	return Record{b: b[:Size:Size]}, nil
}

// HasSignature reports whether the record ends in 0x55 0xAA.
func (r Record) HasSignature() bool {
	return binary.LittleEndian.Uint16(r.b[offSignature:]) == Signature
}

// SetSignature writes the boot signature.
func (r Record) SetSignature() {
	binary.LittleEndian.PutUint16(r.b[offSignature:], Signature)
}

// DiskID returns the 32 bit disk signature.
func (r Record) DiskID() uint32 {
	return binary.LittleEndian.Uint32(r.b[offDiskID:])
}

func (r Record) SetDiskID(id uint32) {
	binary.LittleEndian.PutUint32(r.b[offDiskID:], id)
}

// IsProtective reports whether the first slot marks the disk as GPT.
func (r Record) IsProtective() bool {
	return Type(r.slot(0)[4]) == TypeGPT
}

// Partition decodes primary partition slot i. It panics if i is out of range.
func (r Record) Partition(i int) Partition {
	e := r.slot(i)
	return Partition{
		Bootable: e[0]&0x80 != 0,
		First:    decodeCHS(e[1:4]),
		Type:     Type(e[4]),
		Last:     decodeCHS(e[5:8]),
		StartLBA: binary.LittleEndian.Uint32(e[8:]),
		Sectors:  binary.LittleEndian.Uint32(e[12:]),
	}
}

// SetPartition encodes p into primary partition slot i.
func (r Record) SetPartition(i int, p Partition) {
	e := r.slot(i)
	e[0] = 0
	if p.Bootable {
		e[0] = 0x80
	}
	p.First.put(e[1:4])
	e[4] = byte(p.Type)
	p.Last.put(e[5:8])
	binary.LittleEndian.PutUint32(e[8:], p.StartLBA)
	binary.LittleEndian.PutUint32(e[12:], p.Sectors)
}

func (r Record) slot(i int) []byte {
	if i < 0 || i >= NumPartitions {
		panic("mbr: partition index out of range")
	}
	off := offTable + i*entryLen
	return r.b[off : off+entryLen]
}

// Partition is a primary partition table entry.
type Partition struct {
	Bootable bool
	Type     Type
	First    CHS // Legacy address of the first sector.
	Last     CHS
	StartLBA uint32
	Sectors  uint32
}

// CHS is a legacy cylinder-head-sector address. Sector counts from 1.
type CHS struct {
	Cylinder uint16 // 10 bits.
	Head     uint8
	Sector   uint8 // 6 bits.
}

// MaxCHS is the address written by partitioners when the real one does not
// fit in CHS form.
var MaxCHS = CHS{Cylinder: 1023, Head: 254, Sector: 63}

func decodeCHS(b []byte) CHS {
	return CHS{
		Head:     b[0],
		Sector:   b[1] & 0x3f,
		Cylinder: uint16(b[1]&0xc0)<<2 | uint16(b[2]),
	}
}

func (c CHS) put(b []byte) {
	b[0] = c.Head
	b[1] = c.Sector&0x3f | byte(c.Cylinder>>2)&0xc0
	b[2] = byte(c.Cylinder)
}

// Type is the system ID of a partition.
type Type byte

const (
	TypeEmpty    Type = 0x00
	TypeFAT12    Type = 0x01
	TypeFAT16    Type = 0x04 // FAT16 under 32MiB.
	TypeExtended Type = 0x05
	TypeFAT16B   Type = 0x06
	TypeNTFS     Type = 0x07 // Also exFAT.
	TypeFAT32CHS Type = 0x0B
	TypeFAT32LBA Type = 0x0C
	TypeFAT16LBA Type = 0x0E
	TypeLinux    Type = 0x83
	TypeGPT      Type = 0xEE
)

// IsFAT reports whether t denotes a FAT12, FAT16 or FAT32 partition.
func (t Type) IsFAT() bool {
	switch t {
	case TypeFAT12, TypeFAT16, TypeFAT16B, TypeFAT32CHS, TypeFAT32LBA, TypeFAT16LBA:
		return true
	}
	return false
}
