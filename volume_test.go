package fat

import (
	"hash/crc32"
	"testing"

	"github.com/soypat/fatfs/internal/gpt"
	"github.com/soypat/fatfs/internal/mbr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGPTDevice returns a disk with a protective MBR and a GPT whose single
// basic data partition at sector start holds a copy of vol.
func newGPTDevice(t *testing.T, vol *BytesBlocks, start int64) *BytesBlocks {
	t.Helper()
	volSectors := vol.Size() / 512
	dev := DefaultByteBlocks(int(start + volSectors + 34))
	img := dev.Bytes()
	copy(img[start*512:], vol.Bytes())

	rec, err := mbr.From(img[:512])
	require.NoError(t, err)
	rec.SetPartition(0, mbr.Partition{Type: mbr.TypeGPT, First: mbr.CHS{Sector: 2}, Last: mbr.MaxCHS, StartLBA: 1, Sectors: uint32(dev.Size()/512 - 1)})
	rec.SetSignature()

	const nent = 4
	entries := img[2*512 : 2*512+nent*gpt.EntrySize]
	pe := gpt.Entry{
		Type:     gpt.BasicData,
		ID:       gpt.GUID{1, 2, 3, 4},
		FirstLBA: start,
		LastLBA:  start + volSectors - 1,
		Name:     "data",
	}
	require.NoError(t, pe.Put(entries))

	hdr := gpt.Header{
		CurrentLBA:     1,
		FirstUsableLBA: 34,
		LastUsableLBA:  dev.Size()/512 - 34,
		EntriesLBA:     2,
		NumEntries:     nent,
		EntrySize:      gpt.EntrySize,
		EntriesCRC:     crc32.ChecksumIEEE(entries),
	}
	require.NoError(t, hdr.Put(img[512:1024]))
	return dev
}

func TestMountGPT(t *testing.T) {
	vol := formatTestDevice(t, 4000, FormatConfig{Format: FormatFAT12, ClusterSize: 512})
	fsys := mountTestDevice(t, vol)
	writeTestFile(t, fsys, "inside.txt", []byte("gpt"))
	require.NoError(t, fsys.Unmount())

	dev := newGPTDevice(t, vol, 2048)
	require.NoError(t, fsys.Mount(dev, ModeRW))
	geom, err := fsys.Geometry()
	require.NoError(t, err)
	assert.Equal(t, int64(2048), geom.VolumeStart)
	assert.Equal(t, "FAT12", geom.Type)
	assert.Equal(t, []byte("gpt"), readTestFile(t, fsys, "inside.txt"))

	// Writes land inside the partition.
	writeTestFile(t, fsys, "second.txt", []byte("more"))
	require.NoError(t, fsys.Unmount())
	require.NoError(t, fsys.MountPartition(dev, 1, ModeRead))
	assert.Equal(t, []string{"inside.txt", "second.txt"}, listNames(t, fsys, "/"))
	require.NoError(t, fsys.Unmount())

	assert.ErrorIs(t, fsys.MountPartition(dev, 2, ModeRead), ErrCorruptVolume)
}

func TestMountGPTBadCRC(t *testing.T) {
	vol := formatTestDevice(t, 4000, FormatConfig{})
	dev := newGPTDevice(t, vol, 2048)
	dev.Bytes()[2*512+40]++ // Corrupt the partition entry array.
	var fsys FS
	assert.ErrorIs(t, fsys.Mount(dev, ModeRead), ErrCorruptVolume)
}
