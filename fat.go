// Package fat implements a FAT12/16/32 filesystem engine on top of an
// abstract sector-addressed [BlockDevice].
//
// Every volume owns a single sector window through which all FAT and
// directory accesses go. Open files keep a private sector buffer and
// on-disk structures are accessed through small accessor types over raw
// byte slices.
package fat

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// sector index type.
type lba uint32

const badLBA = ^lba(0)

// FS is a mounted FAT volume. The zero value is an unmounted volume ready
// for [FS.Mount]. An FS must not be copied after first use.
type FS struct {
	mu       sync.Mutex
	device   BlockDevice
	log      *slog.Logger
	now      func() time.Time
	codepage *charmap.Charmap

	fstype   fstype
	perm     Mode
	nFATs    uint8
	wflag    uint8  // b0:dirty
	fsi_flag uint8  // FSInfo dirty flag. b7:disabled, b0:dirty.
	nrootdir uint16 // Number of root directory entries.
	csize    uint16 // Cluster size in sectors.
	ssize    uint16 // Sector size in bytes.
	blk      blkIdxer
	id       uint16 // Filesystem mount ID. Serves to invalidate open files after mount.

	// Long file name working buffer, UTF-16LE with a zero terminator.
	lfnbuf [2 * (lfnBufSize + 1)]byte

	last_clst uint32 // Last allocated cluster.
	free_clst uint32 // Number of free clusters, 0xffffffff if unknown.
	n_fatent  uint32 // Number of FAT entries (= number of clusters + 2)
	fsize     uint32 // Number of sectors per FAT.

	volbase  lba // Volume base sector.
	fatbase  lba // FAT base sector.
	dirbase  lba // Root directory base sector (FAT12/16) or cluster (FAT32).
	database lba // Data base sector.
	totsect  uint32

	winsect lba    // Current sector appearing in the win[].
	win     []byte // Disk access window for Directory/FAT.

	label  [11]byte
	serial uint32

	open map[*File]struct{} // Registry of open files.
}

type objid struct {
	fs      *FS
	id      uint16 // Corresponds to FS.id.
	attr    Attr
	objsize int64
	sclust  uint32
}

// File is an open file on a FAT volume. The zero value is a closed file
// which can be opened with [FS.OpenFile]. A File is not safe for concurrent use.
type File struct {
	obj      objid
	flag     uint8
	err      fileResult // Abort flag.
	fptr     int64      // Read/write pointer. Never beyond objsize.
	gap      int64      // Distance the logical position lies beyond objsize.
	clust    uint32     // Cluster containing byte fptr-1 (or fptr at 0).
	sect     lba        // Sector held in buf.
	dir_sect lba        // Sector containing the directory entry.
	dir_ofs  uint32     // Offset of the directory entry within dir_sect.
	detached bool       // Directory entry was removed while open.
	name     string
	buf      []byte // Private read/write sector buffer.
}

type dir struct {
	obj   objid
	dptr  uint32   // current read/write offset
	clust uint32   // current cluster, 0 for the FAT12/16 static root
	sect  lba      // current sector, 0 at end of table
	fn    [12]byte // SFN (in/out) {body[8],ext[3],status[1]}

	blk_ofs uint32 // Offset of current entry block being processed, 0xffffffff if no LFN.
}

const (
	lfnBufSize = 255
	sfnBufSize = 12
	minSS      = 512
	maxSS      = 4096
	// Largest file size representable in a directory entry.
	maxFileSize = 0xffff_ffff
)

type fstype byte

const (
	fstypeUnknown fstype = iota
	fstypeFAT12
	fstypeFAT16
	fstypeFAT32
	fstypeExFAT
)

func (ft fstype) String() string {
	switch ft {
	case fstypeFAT12:
		return "FAT12"
	case fstypeFAT16:
		return "FAT16"
	case fstypeFAT32:
		return "FAT32"
	case fstypeExFAT:
		return "exFAT"
	}
	return "unknown"
}

// Cluster count thresholds that decide the FAT variant.
const (
	minClustFAT16 = 4085
	minClustFAT32 = 65525
	clustMaxFAT32 = 0x0fff_fff5
	mask28bits    = 0x0fff_ffff
)

// Boot sector and BPB field offsets.
const (
	bsJmpBoot      = 0
	bsOEMName      = 3
	bpbBytsPerSec  = 11
	bpbSecPerClus  = 13
	bpbRsvdSecCnt  = 14
	bpbNumFATs     = 16
	bpbRootEntCnt  = 17
	bpbTotSec16    = 19
	bpbMedia       = 21
	bpbFATSz16     = 22
	bpbSecPerTrk   = 24
	bpbNumHeads    = 26
	bpbHiddSec     = 28
	bpbTotSec32    = 32
	bsDrvNum       = 36
	bsBootSig      = 38
	bsVolID        = 39
	bsVolLab       = 43
	bsFilSysType   = 54
	bs55AA         = 510
	bpbFATSz32     = 36
	bpbFSVer32     = 42
	bpbRootClus32  = 44
	bpbFSInfo32    = 48
	bpbBkBootSec32 = 50
	bsDrvNum32     = 64
	bsBootSig32    = 66
	bsVolID32      = 67
	bsVolLab32     = 71
	bsFilSysType32 = 82

	fsiLeadSig    = 0
	fsiStrucSig   = 0x1e4
	fsiFree_Count = 0x1e8
	fsiNxt_Free   = 0x1ec
	fsiTrailSig   = 0x1fc
)

// Directory entry field offsets.
const (
	dirNameOff        = 0
	dirAttrOff        = 11
	dirNTresOff       = 12
	dirCrtTime10Off   = 13
	dirCrtTimeOff     = 14
	dirLstAccDateOff  = 18
	dirFstClusHIOff   = 20
	dirModTimeOff     = 22
	dirFstClusLOOff   = 26
	dirFileSizeOff    = 28
	ldirOrdOff        = 0
	ldirAttrOff       = 11
	ldirTypeOff       = 12
	ldirChksumOff     = 13
	ldirFstClusLO_Off = 26

	sizeDirEntry = 32
	maxDIR       = 0x200000 // Max size of FAT directory in bytes.

	ddem  = 0xe5 // Deleted directory entry mark.
	rddem = 0x05 // Replacement of a leading 0xe5 in a short name.
	llef  = 0x40 // Last long entry flag in LDIR_Ord.
)

// Name status flags in fn[nsFLAG].
const (
	nsFLAG   = 11
	nsLOSS   = 0x01 // Out of 8.3 format.
	nsLFN    = 0x02 // Force to create LFN entry.
	nsLAST   = 0x04 // Last segment.
	nsBODY   = 0x08 // Lower case flag (body).
	nsEXT    = 0x10 // Lower case flag (ext).
	nsDOT    = 0x20 // Dot entry.
	nsNOLFN  = 0x40 // Do not find LFN.
	nsNONAME = 0x80 // Not followed.
)

// File access flags. The low bits are shared with the exported Mode.
const (
	faRead         = 0x01
	faWrite        = 0x02
	faOpenExisting = 0x00
	faCreateNew    = 0x04
	faCreateAlways = 0x08
	faOpenAlways   = 0x10
	faOpenAppend   = 0x30
	faSeekEnd      = 0x20
	faModified     = 0x40 // File has been modified.
	faDirty        = 0x80 // buf[] needs write-back.
)

// objid validation. Handles opened before the last mount, or closed, are invalid.
func (obj *objid) validate() fileResult {
	if obj.fs == nil || obj.fs.fstype == fstypeUnknown || obj.id != obj.fs.id {
		return frInvalidObject
	}
	return frOK
}

// lock validates the object and acquires the volume lock on success.
func (obj *objid) lock() (*FS, fileResult) {
	fsys := obj.fs
	if fsys == nil {
		return nil, frInvalidObject
	}
	fsys.mu.Lock()
	if fr := obj.validate(); fr != frOK {
		fsys.mu.Unlock()
		return nil, fr
	}
	return fsys, frOK
}

// lockMounted acquires the volume lock if the volume is mounted.
func (fsys *FS) lockMounted() fileResult {
	fsys.mu.Lock()
	if fsys.fstype == fstypeUnknown {
		fsys.mu.Unlock()
		return frNotReady
	}
	return frOK
}

// lockWritable acquires the volume lock if the volume is mounted for writing.
func (fsys *FS) lockWritable() fileResult {
	if fr := fsys.lockMounted(); fr != frOK {
		return fr
	}
	if fsys.perm&ModeWrite == 0 || fsys.disk_status()&StatusProtect != 0 {
		fsys.mu.Unlock()
		return frWriteProtected
	}
	return frOK
}

// Sector size divide and modulus.

func (fsys *FS) divSS(n uint32) uint32 { return uint32(fsys.blk.idx(int64(n))) }
func (fsys *FS) modSS(n uint32) uint32 { return uint32(fsys.blk.off(int64(n))) }

// clst2sect returns the physical sector number from a cluster number.
// Returns 0 if the cluster is invalid.
func (fsys *FS) clst2sect(clst uint32) lba {
	clst -= 2
	if clst >= fsys.n_fatent-2 {
		return 0
	}
	return fsys.database + lba(fsys.csize)*lba(clst)
}

// ld_clust loads the start cluster of a directory entry.
func (fsys *FS) ld_clust(ent []byte) uint32 {
	cl := uint32(binary.LittleEndian.Uint16(ent[dirFstClusLOOff:]))
	if fsys.fstype == fstypeFAT32 {
		cl |= uint32(binary.LittleEndian.Uint16(ent[dirFstClusHIOff:])) << 16
	}
	return cl
}

// st_clust stores the start cluster in a directory entry.
func (fsys *FS) st_clust(ent []byte, cl uint32) {
	binary.LittleEndian.PutUint16(ent[dirFstClusLOOff:], uint16(cl))
	if fsys.fstype == fstypeFAT32 {
		binary.LittleEndian.PutUint16(ent[dirFstClusHIOff:], uint16(cl>>16))
	}
}

// timestamp returns the current time in directory entry format.
func (fsys *FS) timestamp() datetime {
	now := time.Now
	if fsys.now != nil {
		now = fsys.now
	}
	return newDatetime(now())
}

func (fsys *FS) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fsys.log == nil || !fsys.log.Enabled(context.Background(), level) {
		return
	}
	fsys.log.LogAttrs(context.Background(), level, msg, attrs...)
}

func (fsys *FS) debug(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelDebug, msg, attrs...)
}
func (fsys *FS) info(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelInfo, msg, attrs...)
}
func (fsys *FS) warn(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelWarn, msg, attrs...)
}
func (fsys *FS) logerror(msg string, attrs ...slog.Attr) {
	fsys.logattrs(slog.LevelError, msg, attrs...)
}

// blkIdxer is a helper for calculating block indexes and offsets.
type blkIdxer struct {
	blockshift int64
	blockmask  int64
}

func makeBlockIndexer(blockSize int) (blkIdxer, error) {
	if blockSize <= 0 {
		return blkIdxer{}, errors.New("blockSize must be positive and non-zero")
	}
	tz := bits.TrailingZeros(uint(blockSize))
	if blockSize>>tz != 1 {
		return blkIdxer{}, errors.New("blockSize must be a power of 2")
	}
	blk := blkIdxer{
		blockshift: int64(tz),
		blockmask:  (1 << tz) - 1,
	}
	return blk, nil
}

// size returns the size of a block in bytes.
func (blk *blkIdxer) size() int64 {
	return 1 << blk.blockshift
}

// off gets the offset of the byte at byteIdx from the start of its block.
func (blk *blkIdxer) off(byteIdx int64) int64 { return byteIdx & blk.blockmask }

// idx gets the block index that contains the byte at byteIdx.
func (blk *blkIdxer) idx(byteIdx int64) int64 { return byteIdx >> blk.blockshift }

type _integer interface {
	~uint8 | ~uint16 | ~uint32 | ~int | ~uint
}

func trimSeparatorPrefix(s string) string {
	for len(s) > 0 && isSep(s[0]) {
		s = s[1:]
	}
	return s
}

func isUpper(c byte) bool        { return 'A' <= c && c <= 'Z' }
func isLower(c byte) bool        { return 'a' <= c && c <= 'z' }
func isSep[T _integer](c T) bool { return c == '/' || c == '\\' }
func isSurrogate(c uint16) bool  { return c >= 0xd800 && c <= 0xdfff }
