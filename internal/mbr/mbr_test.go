package mbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord(t *testing.T) {
	_, err := From(make([]byte, 511))
	assert.Error(t, err)

	buf := make([]byte, 512)
	rec, err := From(buf)
	require.NoError(t, err)
	assert.False(t, rec.HasSignature())
	rec.SetSignature()
	assert.True(t, rec.HasSignature())
	assert.Equal(t, byte(0x55), buf[510])
	assert.Equal(t, byte(0xAA), buf[511])
	rec.SetDiskID(0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), rec.DiskID())
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, buf[440:444])

	want := Partition{
		Bootable: true,
		Type:     TypeFAT32LBA,
		First:    CHS{Cylinder: 1, Head: 2, Sector: 3},
		Last:     MaxCHS,
		StartLBA: 63,
		Sectors:  1000,
	}
	rec.SetPartition(2, want)
	assert.Equal(t, want, rec.Partition(2))
	assert.True(t, rec.Partition(2).Type.IsFAT())

	// Slots are 16 bytes apart starting at offset 446.
	slot := buf[446+2*16 : 446+3*16]
	assert.Equal(t, byte(0x80), slot[0])
	assert.Equal(t, byte(TypeFAT32LBA), slot[4])
	assert.Equal(t, []byte{0xfe, 0xff, 0xff}, slot[5:8], "maximum CHS address")

	assert.Equal(t, Partition{}, rec.Partition(0))
	assert.False(t, rec.IsProtective())
	rec.SetPartition(0, Partition{Type: TypeGPT, StartLBA: 1, Sectors: 0xffffffff})
	assert.True(t, rec.IsProtective())
	assert.False(t, TypeNTFS.IsFAT())
	assert.False(t, TypeGPT.IsFAT())
	assert.Panics(t, func() { rec.Partition(4) })
	assert.Panics(t, func() { rec.Partition(-1) })
}

func TestCHS(t *testing.T) {
	var b [3]byte
	c := CHS{Cylinder: 0x2ab, Head: 7, Sector: 0x21}
	c.put(b[:])
	assert.Equal(t, [3]byte{7, 0x21 | 0x80, 0xab}, b)
	assert.Equal(t, c, decodeCHS(b[:]))
}
