package fat

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/soypat/fatfs/internal/mbr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 3, 14, 15, 9, 26, 0, time.UTC)

func testClock() time.Time { return testTime }

// formatTestDevice formats a new in-memory device of nsect 512 byte sectors.
func formatTestDevice(tb testing.TB, nsect int, cfg FormatConfig) *BytesBlocks {
	tb.Helper()
	dev := DefaultByteBlocks(nsect)
	var f Formatter
	f.SetClock(testClock)
	require.NoError(tb, f.Format(dev, cfg))
	return dev
}

// mountTestDevice mounts bd read-write with a fixed clock.
func mountTestDevice(tb testing.TB, bd BlockDevice) *FS {
	tb.Helper()
	fsys := new(FS)
	fsys.SetClock(testClock)
	require.NoError(tb, fsys.Mount(bd, ModeRW))
	return fsys
}

func newTestFS(tb testing.TB, nsect int, cfg FormatConfig) (*FS, *BytesBlocks) {
	tb.Helper()
	dev := formatTestDevice(tb, nsect, cfg)
	return mountTestDevice(tb, dev), dev
}

// newFAT12 returns a FAT12 volume with 3943 single sector clusters.
func newFAT12(tb testing.TB) (*FS, *BytesBlocks) {
	return newTestFS(tb, 4000, FormatConfig{Format: FormatFAT12, ClusterSize: 512})
}

// newFAT16 returns a FAT16 volume with exactly 4096 clusters of 2KiB.
func newFAT16(tb testing.TB) (*FS, *BytesBlocks) {
	return newTestFS(tb, 16451, FormatConfig{Format: FormatFAT16, ClusterSize: 2048})
}

func writeTestFile(tb testing.TB, fsys *FS, path string, data []byte) {
	tb.Helper()
	var fp File
	require.NoError(tb, fsys.OpenFile(&fp, path, ModeCreateAlways|ModeWrite))
	n, err := fp.Write(data)
	require.NoError(tb, err)
	require.Equal(tb, len(data), n)
	require.NoError(tb, fp.Close())
}

func readTestFile(tb testing.TB, fsys *FS, path string) []byte {
	tb.Helper()
	var fp File
	require.NoError(tb, fsys.OpenFile(&fp, path, ModeRead))
	defer fp.Close()
	data, err := io.ReadAll(&fp)
	require.NoError(tb, err)
	return data
}

func listNames(tb testing.TB, fsys *FS, path string) []string {
	tb.Helper()
	var dp Dir
	require.NoError(tb, fsys.OpenDir(&dp, path))
	defer dp.Close()
	var names []string
	err := dp.ForEachFile(func(fi *FileInfo) error {
		names = append(names, fi.Name())
		return nil
	})
	require.NoError(tb, err)
	return names
}

func freeClusters(tb testing.TB, fsys *FS) uint32 {
	tb.Helper()
	stat, err := fsys.StatVolume()
	require.NoError(tb, err)
	return stat.FreeClusters
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

func TestFAT16WriteRemountRead(t *testing.T) {
	fsys, dev := newFAT16(t)
	geom, err := fsys.Geometry()
	require.NoError(t, err)
	want := Geometry{
		Type:              "FAT16",
		SectorSize:        512,
		SectorsPerCluster: 4,
		ReservedSectors:   1,
		NumberOfFATs:      2,
		SectorsPerFAT:     17,
		RootEntries:       512,
		TotalSectors:      16451,
		TotalClusters:     4096,
		FATStart:          1,
		DataStart:         67,
	}
	if diff := cmp.Diff(want, geom); diff != "" {
		t.Fatalf("geometry mismatch (-want +got):\n%s", diff)
	}

	data := testData(10000)
	require.NoError(t, fsys.Mkdir("/a"))
	writeTestFile(t, fsys, "/a/b.txt", data)
	require.NoError(t, fsys.Unmount())

	require.NoError(t, fsys.Mount(dev, ModeRW))
	got := readTestFile(t, fsys, "/a/b.txt")
	assert.True(t, bytes.Equal(data, got), "file contents differ after remount")

	fi, err := fsys.Stat("/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), fi.Size())
	assert.Equal(t, "b.txt", fi.Name())
	assert.Equal(t, "", fi.AlternateName())
	assert.False(t, fi.IsDir())
	assert.Equal(t, testTime, fi.ModTime())

	n, fr := fsys.chainLength(fi.sclust)
	require.Equal(t, frOK, fr)
	assert.Equal(t, uint32(5), n)

	geom2, err := fsys.Geometry()
	require.NoError(t, err)
	if diff := cmp.Diff(geom, geom2); diff != "" {
		t.Errorf("geometry changed after remount (-first +second):\n%s", diff)
	}
}

func TestFormatTypes(t *testing.T) {
	for _, tc := range []struct {
		name      string
		nsect     int
		cfg       FormatConfig
		wantType  string
		wantClust uint32
	}{
		{name: "fat12", nsect: 4000, cfg: FormatConfig{Format: FormatFAT12, ClusterSize: 512}, wantType: "FAT12", wantClust: 3943},
		{name: "fat16", nsect: 16451, cfg: FormatConfig{Format: FormatFAT16, ClusterSize: 2048}, wantType: "FAT16", wantClust: 4096},
		{name: "auto-small", nsect: 2880, cfg: FormatConfig{}, wantType: "FAT12"},
		{name: "auto-large", nsect: 80000, cfg: FormatConfig{}, wantType: "FAT16"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fsys, _ := newTestFS(t, tc.nsect, tc.cfg)
			geom, err := fsys.Geometry()
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, geom.Type)
			if tc.wantClust != 0 {
				assert.Equal(t, tc.wantClust, geom.TotalClusters)
			}
			assert.Equal(t, geom.TotalClusters, freeClusters(t, fsys))
			assert.Empty(t, listNames(t, fsys, "/"))
		})
	}
}

func TestFormatRejects(t *testing.T) {
	dev := DefaultByteBlocks(4000)
	var f Formatter
	assert.ErrorIs(t, f.Format(dev, FormatConfig{Format: FormatExFAT}), ErrUnsupported)
	assert.ErrorIs(t, f.Format(dev, FormatConfig{ClusterSize: 3000}), ErrInvalidParameter)
	assert.ErrorIs(t, f.Format(dev, FormatConfig{NumberOfFATs: 3}), ErrInvalidParameter)
	assert.ErrorIs(t, f.Format(dev, FormatConfig{RootEntries: 20}), ErrInvalidParameter)
	assert.ErrorIs(t, f.Format(dev, FormatConfig{TotalSectors: 5000}), ErrInvalidParameter)
	assert.Error(t, f.Format(dev, FormatConfig{Format: FormatFAT32, ClusterSize: 512}), "too few clusters for FAT32")

	dev.SetWriteProtect(true)
	assert.ErrorIs(t, f.Format(dev, FormatConfig{}), ErrWriteProtected)
}

func TestLabel(t *testing.T) {
	fsys, _ := newTestFS(t, 4000, FormatConfig{Label: "mydisk"})
	label, err := fsys.Label()
	require.NoError(t, err)
	assert.Equal(t, "MYDISK", label)
	// The label entry is not listed.
	writeTestFile(t, fsys, "f.txt", []byte("x"))
	assert.Equal(t, []string{"f.txt"}, listNames(t, fsys, "/"))

	fsys, _ = newFAT12(t)
	label, err = fsys.Label()
	require.NoError(t, err)
	assert.Equal(t, "", label)

	bpb, err := fsys.BootRecord()
	require.NoError(t, err)
	assert.Contains(t, bpb, "FAT12")
}

func TestMountErrors(t *testing.T) {
	t.Run("blank", func(t *testing.T) {
		var fsys FS
		err := fsys.Mount(DefaultByteBlocks(256), ModeRW)
		assert.ErrorIs(t, err, ErrCorruptVolume)
	})
	t.Run("exfat", func(t *testing.T) {
		dev := DefaultByteBlocks(256)
		copy(dev.Bytes(), "\xEB\x76\x90EXFAT   ")
		binary.LittleEndian.PutUint16(dev.Bytes()[510:], 0xAA55)
		var fsys FS
		err := fsys.Mount(dev, ModeRead)
		assert.ErrorIs(t, err, ErrUnsupported)
	})
	t.Run("already-mounted", func(t *testing.T) {
		fsys, dev := newFAT12(t)
		assert.ErrorIs(t, fsys.Mount(dev, ModeRW), ErrAlreadyMounted)
		// The first mount is still usable.
		writeTestFile(t, fsys, "ok.txt", []byte("ok"))
	})
	t.Run("not-mounted", func(t *testing.T) {
		var fsys FS
		assert.ErrorIs(t, fsys.Mkdir("a"), ErrNotReady)
		_, err := fsys.Stat("a")
		assert.ErrorIs(t, err, ErrNotReady)
		_, err = fsys.StatVolume()
		assert.ErrorIs(t, err, ErrNotReady)
		assert.ErrorIs(t, fsys.Unmount(), ErrNotReady)
	})
	t.Run("write-protected", func(t *testing.T) {
		dev := formatTestDevice(t, 4000, FormatConfig{})
		dev.SetWriteProtect(true)
		var fsys FS
		assert.ErrorIs(t, fsys.Mount(dev, ModeRW), ErrWriteProtected)
		require.NoError(t, fsys.Mount(dev, ModeRead))
		assert.ErrorIs(t, fsys.Mkdir("a"), ErrWriteProtected)
		var fp File
		assert.ErrorIs(t, fsys.OpenFile(&fp, "new.txt", ModeCreateNew|ModeWrite), ErrWriteProtected)
		assert.NoError(t, fsys.Unmount())
	})
	t.Run("invalid-args", func(t *testing.T) {
		var fsys FS
		assert.ErrorIs(t, fsys.Mount(nil, ModeRW), ErrInvalidParameter)
		assert.ErrorIs(t, fsys.Mount(DefaultByteBlocks(256), 0), ErrInvalidParameter)
	})
}

func TestMountPartitioned(t *testing.T) {
	dev := formatTestDevice(t, 8000, FormatConfig{Partition: true})
	rec, err := mbr.From(dev.Bytes())
	require.NoError(t, err)
	assert.True(t, rec.HasSignature())
	assert.False(t, rec.IsProtective())
	p := rec.Partition(0)
	assert.True(t, p.Type.IsFAT())
	assert.Equal(t, uint32(63), p.StartLBA)
	assert.Equal(t, uint32(8000-63), p.Sectors)
	assert.Equal(t, mbr.Partition{}, rec.Partition(1))

	fsys := mountTestDevice(t, dev)
	geom, err := fsys.Geometry()
	require.NoError(t, err)
	assert.Equal(t, int64(63), geom.VolumeStart)
	assert.Equal(t, uint32(8000-63), geom.TotalSectors)
	writeTestFile(t, fsys, "part.txt", []byte("partitioned"))
	require.NoError(t, fsys.Unmount())

	require.NoError(t, fsys.MountPartition(dev, 1, ModeRead))
	assert.Equal(t, []byte("partitioned"), readTestFile(t, fsys, "part.txt"))
	require.NoError(t, fsys.Unmount())

	assert.ErrorIs(t, fsys.MountPartition(dev, 2, ModeRead), ErrCorruptVolume)
}

func TestFATMirrors(t *testing.T) {
	fsys, dev := newFAT12(t)
	require.NoError(t, fsys.Mkdir("dir"))
	for i, name := range []string{"dir/a.bin", "b.bin", "dir/c.bin"} {
		writeTestFile(t, fsys, name, testData(700*(i+1)))
	}
	require.NoError(t, fsys.Remove("b.bin"))
	require.NoError(t, fsys.Sync())

	geom, err := fsys.Geometry()
	require.NoError(t, err)
	require.Equal(t, uint8(2), geom.NumberOfFATs)
	size := int64(geom.SectorsPerFAT) * int64(geom.SectorSize)
	fat1 := geom.FATStart * int64(geom.SectorSize)
	img := dev.Bytes()
	assert.True(t, bytes.Equal(img[fat1:fat1+size], img[fat1+size:fat1+2*size]), "FAT copies differ")
}

func TestFAT12Straddle(t *testing.T) {
	fsys, _ := newFAT12(t)
	// Entry 341 starts at byte 511 of the FAT and spans two sectors.
	const straddle = 341
	require.Equal(t, uint32(511), uint32(straddle+straddle/2))
	for _, val := range []uint32{0xABC, 0x123, 0xFFF, 0} {
		require.Equal(t, frOK, fsys.put_fat(straddle, val))
		got, fr := fsys.get_fat(straddle)
		require.Equal(t, frOK, fr)
		assert.Equal(t, val, got)
		for _, neighbor := range []uint32{straddle - 1, straddle + 1} {
			got, fr := fsys.get_fat(neighbor)
			require.Equal(t, frOK, fr)
			assert.Zero(t, got, "neighbor %d modified", neighbor)
		}
	}
	// Even entry straddling the second FAT sector boundary.
	const straddleEven = 682
	require.Equal(t, uint32(1023), uint32(straddleEven+straddleEven/2))
	require.Equal(t, frOK, fsys.put_fat(straddleEven-1, 0x555))
	require.Equal(t, frOK, fsys.put_fat(straddleEven, 0xAAA))
	got, fr := fsys.get_fat(straddleEven - 1)
	require.Equal(t, frOK, fr)
	assert.Equal(t, uint32(0x555), got)
	got, fr = fsys.get_fat(straddleEven)
	require.Equal(t, frOK, fr)
	assert.Equal(t, uint32(0xAAA), got)
}

func TestFAT32PreservesReservedBits(t *testing.T) {
	fsys, _ := newFAT32(t)
	clst, fr := fsys.allocateChain(1)
	require.Equal(t, frOK, fr)
	sect := fsys.fatbase + lba(fsys.divSS(clst*4))
	require.Equal(t, frOK, fsys.move_window(sect))
	off := fsys.modSS(clst * 4)
	fsys.win[off+3] |= 0xF0
	fsys.wflag = 1

	require.Equal(t, frOK, fsys.put_fat(clst, 0x0123_4567))
	require.Equal(t, frOK, fsys.move_window(sect))
	assert.Equal(t, uint32(0xF123_4567), binary.LittleEndian.Uint32(fsys.win[off:]))
	got, fr := fsys.get_fat(clst)
	require.Equal(t, frOK, fr)
	assert.Equal(t, uint32(0x0123_4567), got)
}
