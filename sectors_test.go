package fat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatetime(t *testing.T) {
	tests := []struct {
		in   time.Time
		want time.Time
	}{
		{in: testTime, want: testTime},
		{
			in:   time.Date(2001, 12, 31, 23, 59, 59, 990e6, time.UTC),
			want: time.Date(2001, 12, 31, 23, 59, 59, 990e6, time.UTC),
		},
		{
			// Below 10ms resolution.
			in:   time.Date(2020, 2, 29, 1, 2, 3, 4567890, time.UTC),
			want: time.Date(2020, 2, 29, 1, 2, 3, 0, time.UTC),
		},
		{in: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), want: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
		{in: time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC), want: time.Date(2107, 12, 31, 23, 59, 59, 990e6, time.UTC)},
	}
	for _, tt := range tests {
		got := newDatetime(tt.in).Time()
		assert.Equal(t, tt.want, got, tt.in.String())
	}

	dt := newDatetime(time.Date(1980, 1, 1, 0, 0, 2, 0, time.UTC))
	assert.Equal(t, datetime{time: 1, date: 0x21}, dt)
}

func TestBootParams(t *testing.T) {
	for _, fat32 := range []bool{false, true} {
		want := bootParams{
			fat32:      fat32,
			bytsPerSec: 512,
			secPerClus: 8,
			rsvdSecCnt: 32,
			numFATs:    2,
			totSec:     70000,
			media:      0xF8,
			fatSz:      600,
			secPerTrk:  63,
			numHeads:   255,
			hiddSec:    63,
			drvNum:     0x80,
			bootSig:    0x29,
			volID:      0x1234abcd,
		}
		copy(want.oem[:], "MSDOS5.0")
		copy(want.volLab[:], "LABEL      ")
		copy(want.filSysType[:], "FAT32   ")
		if fat32 {
			want.rootClus = 2
			want.fsInfo = 1
			want.bkBootSec = 6
		} else {
			want.rootEntCnt = 512
			want.totSec = 4000
		}
		buf := make([]byte, 512)
		want.encode(buf)
		assert.Equal(t, []byte{0x55, 0xAA}, buf[510:])
		got := decodeBootParams(buf)
		assert.Equal(t, want, got)

		s := got.String()
		assert.Contains(t, s, "OEM:MSDOS5.0\n")
		assert.Contains(t, s, "VolumeLabel:LABEL\n")
		if fat32 {
			assert.Contains(t, s, "RootCluster:2\n")
			assert.Contains(t, s, "TotalSectors:70000\n")
		} else {
			assert.Contains(t, s, "RootDirEntries:512\n")
			assert.NotContains(t, s, "RootCluster")
		}
	}
}

func TestFSInfo(t *testing.T) {
	buf := make([]byte, 512)
	_, ok := decodeFSInfo(buf)
	assert.False(t, ok)
	fsinfo{free: 100, next: 7}.encode(buf)
	got, ok := decodeFSInfo(buf)
	require.True(t, ok)
	assert.Equal(t, fsinfo{free: 100, next: 7}, got)
	assert.Equal(t, []byte("RRaA"), buf[:4])
	buf[0x1e4]++
	_, ok = decodeFSInfo(buf)
	assert.False(t, ok)
}

func TestAttrString(t *testing.T) {
	assert.Equal(t, "------", Attr(0).String())
	assert.Equal(t, "R---DA", (AttrReadOnly | AttrDirectory | AttrArchive).String())
	assert.True(t, attrLFN.IsLFN())
	assert.False(t, attrLFN.IsVolumeLabel())
	assert.True(t, AttrVolume.IsVolumeLabel())
}
