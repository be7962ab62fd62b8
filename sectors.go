package fat

import (
	"encoding/binary"
	"strconv"
	"strings"
	"time"
)

// bootParams holds the BIOS parameter block and extended boot record of a
// volume boot sector. The extended fields sit at different offsets in
// FAT12/16 and FAT32 volumes; fat32 selects the layout.
type bootParams struct {
	fat32      bool
	oem        [8]byte
	bytsPerSec uint16
	secPerClus uint8
	rsvdSecCnt uint16
	numFATs    uint8
	rootEntCnt uint16
	totSec     uint32
	media      uint8
	fatSz      uint32
	secPerTrk  uint16
	numHeads   uint16
	hiddSec    uint32

	// FAT32 only.
	fsVer     uint16
	rootClus  uint32
	fsInfo    uint16
	bkBootSec uint16

	drvNum     uint8
	bootSig    uint8
	volID      uint32
	volLab     [11]byte
	filSysType [8]byte
}

// decodeBootParams reads the boot sector at the start of b. A zero 16 bit
// FAT size selects the FAT32 layout.
func decodeBootParams(b []byte) (bp bootParams) {
	le := binary.LittleEndian
	copy(bp.oem[:], b[bsOEMName:])
	bp.bytsPerSec = le.Uint16(b[bpbBytsPerSec:])
	bp.secPerClus = b[bpbSecPerClus]
	bp.rsvdSecCnt = le.Uint16(b[bpbRsvdSecCnt:])
	bp.numFATs = b[bpbNumFATs]
	bp.rootEntCnt = le.Uint16(b[bpbRootEntCnt:])
	bp.totSec = uint32(le.Uint16(b[bpbTotSec16:]))
	if bp.totSec == 0 {
		bp.totSec = le.Uint32(b[bpbTotSec32:])
	}
	bp.media = b[bpbMedia]
	bp.fatSz = uint32(le.Uint16(b[bpbFATSz16:]))
	bp.secPerTrk = le.Uint16(b[bpbSecPerTrk:])
	bp.numHeads = le.Uint16(b[bpbNumHeads:])
	bp.hiddSec = le.Uint32(b[bpbHiddSec:])
	ext := bsDrvNum
	if bp.fatSz == 0 {
		bp.fat32 = true
		bp.fatSz = le.Uint32(b[bpbFATSz32:])
		bp.fsVer = le.Uint16(b[bpbFSVer32:])
		bp.rootClus = le.Uint32(b[bpbRootClus32:])
		bp.fsInfo = le.Uint16(b[bpbFSInfo32:])
		bp.bkBootSec = le.Uint16(b[bpbBkBootSec32:])
		ext = bsDrvNum32
	}
	bp.drvNum = b[ext]
	bp.bootSig = b[ext+bsBootSig-bsDrvNum]
	bp.volID = le.Uint32(b[ext+bsVolID-bsDrvNum:])
	copy(bp.volLab[:], b[ext+bsVolLab-bsDrvNum:])
	copy(bp.filSysType[:], b[ext+bsFilSysType-bsDrvNum:])
	return bp
}

// encode writes bp to the start of b along with a jump instruction and the
// boot signature. Bytes not described by bp are left untouched.
func (bp *bootParams) encode(b []byte) {
	le := binary.LittleEndian
	copy(b[bsJmpBoot:], "\xEB\xFE\x90")
	copy(b[bsOEMName:bsOEMName+8], bp.oem[:])
	le.PutUint16(b[bpbBytsPerSec:], bp.bytsPerSec)
	b[bpbSecPerClus] = bp.secPerClus
	le.PutUint16(b[bpbRsvdSecCnt:], bp.rsvdSecCnt)
	b[bpbNumFATs] = bp.numFATs
	le.PutUint16(b[bpbRootEntCnt:], bp.rootEntCnt)
	if bp.totSec < 0x10000 {
		le.PutUint16(b[bpbTotSec16:], uint16(bp.totSec))
		le.PutUint32(b[bpbTotSec32:], 0)
	} else {
		le.PutUint16(b[bpbTotSec16:], 0)
		le.PutUint32(b[bpbTotSec32:], bp.totSec)
	}
	b[bpbMedia] = bp.media
	le.PutUint16(b[bpbSecPerTrk:], bp.secPerTrk)
	le.PutUint16(b[bpbNumHeads:], bp.numHeads)
	le.PutUint32(b[bpbHiddSec:], bp.hiddSec)
	ext := bsDrvNum
	if bp.fat32 {
		le.PutUint16(b[bpbFATSz16:], 0)
		le.PutUint32(b[bpbFATSz32:], bp.fatSz)
		le.PutUint16(b[bpbFSVer32:], bp.fsVer)
		le.PutUint32(b[bpbRootClus32:], bp.rootClus)
		le.PutUint16(b[bpbFSInfo32:], bp.fsInfo)
		le.PutUint16(b[bpbBkBootSec32:], bp.bkBootSec)
		ext = bsDrvNum32
	} else {
		le.PutUint16(b[bpbFATSz16:], uint16(bp.fatSz))
	}
	b[ext] = bp.drvNum
	b[ext+bsBootSig-bsDrvNum] = bp.bootSig
	le.PutUint32(b[ext+bsVolID-bsDrvNum:], bp.volID)
	copy(b[ext+bsVolLab-bsDrvNum:], bp.volLab[:])
	copy(b[ext+bsFilSysType-bsDrvNum:], bp.filSysType[:])
	le.PutUint16(b[bs55AA:], 0xAA55)
}

// String lists the fields of the boot record one per line as name:value.
func (bp *bootParams) String() string {
	var sb strings.Builder
	put := func(name string, value []byte) {
		if len(value) == 0 {
			return
		}
		sb.WriteString(name)
		sb.WriteByte(':')
		sb.Write(value)
		sb.WriteByte('\n')
	}
	num := func(name string, v uint32) {
		put(name, strconv.AppendUint(nil, uint64(v), 10))
	}
	put("OEM", clipname(bp.oem[:]))
	put("FSType", clipname(bp.filSysType[:]))
	put("VolumeLabel", clipname(bp.volLab[:]))
	num("VolumeSerialNumber", bp.volID)
	num("VolumeOffset", bp.hiddSec)
	num("SectorSize", uint32(bp.bytsPerSec))
	num("SectorsPerCluster", uint32(bp.secPerClus))
	num("ReservedSectors", uint32(bp.rsvdSecCnt))
	num("NumberOfFATs", uint32(bp.numFATs))
	num("TotalSectors", bp.totSec)
	num("SectorsPerFAT", bp.fatSz)
	if bp.fat32 {
		num("RootCluster", bp.rootClus)
		num("FSInfo", uint32(bp.fsInfo))
		num("BackupBootSector", uint32(bp.bkBootSec))
		if bp.fsVer != 0 {
			num("Version", uint32(bp.fsVer))
		}
	} else {
		num("RootDirEntries", uint32(bp.rootEntCnt))
	}
	num("DriveNumber", uint32(bp.drvNum))
	return sb.String()
}

// clipname trims the space and NUL padding of fixed size name fields.
func clipname(name []byte) []byte {
	n := len(name)
	for n > 0 && (name[n-1] == ' ' || name[n-1] == 0) {
		n--
	}
	return name[:n]
}

// FSInfo sector signatures.
const (
	fsiSigLead  = 0x41615252
	fsiSigStruc = 0x61417272
	fsiSigTrail = 0xAA550000
)

// fsinfo holds the allocation hints of the FAT32 FSInfo sector. Either
// value may be 0xFFFFFFFF when unknown.
type fsinfo struct {
	free uint32 // Free cluster count.
	next uint32 // Last allocated cluster.
}

// decodeFSInfo reads the FSInfo sector in b and reports whether its
// signatures and boot signature are intact.
func decodeFSInfo(b []byte) (fsinfo, bool) {
	le := binary.LittleEndian
	ok := le.Uint32(b[fsiLeadSig:]) == fsiSigLead &&
		le.Uint32(b[fsiStrucSig:]) == fsiSigStruc &&
		le.Uint16(b[bs55AA:]) == 0xAA55
	if !ok {
		return fsinfo{}, false
	}
	return fsinfo{free: le.Uint32(b[fsiFree_Count:]), next: le.Uint32(b[fsiNxt_Free:])}, true
}

// encode clears b and writes fi as an FSInfo sector.
func (fi fsinfo) encode(b []byte) {
	le := binary.LittleEndian
	clear(b)
	le.PutUint32(b[fsiLeadSig:], fsiSigLead)
	le.PutUint32(b[fsiStrucSig:], fsiSigStruc)
	le.PutUint32(b[fsiFree_Count:], fi.free)
	le.PutUint32(b[fsiNxt_Free:], fi.next)
	le.PutUint32(b[fsiTrailSig:], fsiSigTrail)
}

// datetime is a packed FAT timestamp. time and date have 2 second
// resolution; fine counts 10ms units up to 199 and so carries the odd second.
type datetime struct {
	time uint16
	date uint16
	fine uint8
}

var (
	minDatetime = datetime{date: 1<<5 | 1} // 1980-01-01 00:00:00
	maxDatetime = datetime{time: 23<<11 | 59<<5 | 29, date: 127<<9 | 12<<5 | 31, fine: 199}
)

// newDatetime packs t, clamping it to the 1980-2107 range.
func newDatetime(t time.Time) datetime {
	y := t.Year()
	if y < 1980 {
		return minDatetime
	} else if y > 2107 {
		return maxDatetime
	}
	h, m, s := t.Clock()
	return datetime{
		time: uint16(h)<<11 | uint16(m)<<5 | uint16(s>>1),
		date: uint16(y-1980)<<9 | uint16(t.Month())<<5 | uint16(t.Day()),
		fine: uint8(s&1)*100 + uint8(t.Nanosecond()/1e7),
	}
}

// Time unpacks dt as a UTC time.
func (dt datetime) Time() time.Time {
	d, tm, cs := int(dt.date), int(dt.time), int(dt.fine)
	return time.Date(1980+(d>>9), time.Month(d>>5&0xf), d&0x1f,
		tm>>11, tm>>5&0x3f, 2*(tm&0x1f)+cs/100, (cs%100)*1e7, time.UTC)
}

// Attr holds the attribute bits of a directory entry.
type Attr uint8

const (
	AttrReadOnly  Attr = 0x01
	AttrHidden    Attr = 0x02
	AttrSystem    Attr = 0x04
	AttrVolume    Attr = 0x08
	AttrDirectory Attr = 0x10
	AttrArchive   Attr = 0x20

	attrLFN  Attr = 0x0F
	attrMask Attr = 0x3F
	// Bits a caller may change with Chmod.
	attrSettable = AttrReadOnly | AttrHidden | AttrSystem | AttrArchive
)

// IsLFN reports whether the entry is part of a long file name.
func (attr Attr) IsLFN() bool { return attr&attrMask == attrLFN }

func (attr Attr) IsReadonly() bool { return attr&AttrReadOnly != 0 }

func (attr Attr) IsHidden() bool { return attr&AttrHidden != 0 }

func (attr Attr) IsSystem() bool { return attr&AttrSystem != 0 }

// IsVolumeLabel reports whether the entry holds the volume label.
func (attr Attr) IsVolumeLabel() bool { return attr&AttrVolume != 0 && !attr.IsLFN() }

// IsSubdirectory reports whether the entry's cluster chain holds a directory.
func (attr Attr) IsSubdirectory() bool { return attr&AttrDirectory != 0 }

func (attr Attr) IsArchive() bool { return attr&AttrArchive != 0 }

// String returns the attributes in RHSVDA form with '-' for unset bits.
func (attr Attr) String() string {
	const flags = "RHSVDA"
	var buf [6]byte
	for i := range buf {
		buf[i] = '-'
		if attr&(1<<i) != 0 {
			buf[i] = flags[i]
		}
	}
	return string(buf[:])
}

// dirEntry is a 32 byte short file name directory entry.
type dirEntry struct {
	data []byte
}

// isFree reports whether the entry and all entries after it are unused.
func (de dirEntry) isFree() bool {
	return de.data[dirNameOff] == 0x00
}

func (de dirEntry) isDeleted() bool {
	return de.data[dirNameOff] == ddem
}

func (de dirEntry) attributes() Attr {
	return Attr(de.data[dirAttrOff])
}

func (de dirEntry) setAttributes(attr Attr) {
	de.data[dirAttrOff] = byte(attr)
}

func (de dirEntry) createdAt() datetime {
	return datetime{
		time: binary.LittleEndian.Uint16(de.data[dirCrtTimeOff:]),
		date: binary.LittleEndian.Uint16(de.data[dirCrtTimeOff+2:]),
		fine: de.data[dirCrtTime10Off],
	}
}

func (de dirEntry) setCreatedAt(dt datetime) {
	binary.LittleEndian.PutUint16(de.data[dirCrtTimeOff:], dt.time)
	binary.LittleEndian.PutUint16(de.data[dirCrtTimeOff+2:], dt.date)
	de.data[dirCrtTime10Off] = dt.fine
}

func (de dirEntry) accessedAt() datetime {
	return datetime{date: binary.LittleEndian.Uint16(de.data[dirLstAccDateOff:])}
}

func (de dirEntry) modifiedAt() datetime {
	return datetime{
		time: binary.LittleEndian.Uint16(de.data[dirModTimeOff:]),
		date: binary.LittleEndian.Uint16(de.data[dirModTimeOff+2:]),
	}
}

// setModifiedAt sets the modification time and the access date.
func (de dirEntry) setModifiedAt(dt datetime) {
	binary.LittleEndian.PutUint16(de.data[dirModTimeOff:], dt.time)
	binary.LittleEndian.PutUint16(de.data[dirModTimeOff+2:], dt.date)
	binary.LittleEndian.PutUint16(de.data[dirLstAccDateOff:], dt.date)
}

func (de dirEntry) size() uint32 {
	return binary.LittleEndian.Uint32(de.data[dirFileSizeOff:])
}

func (de dirEntry) setSize(sz uint32) {
	binary.LittleEndian.PutUint32(de.data[dirFileSizeOff:], sz)
}

// lfnEntry is a 32 byte long file name entry carrying 13 UTF-16 units of
// the name. Entries are stored last part first.
type lfnEntry []byte

// Offsets of the name units within the entry.
var lfnOfs = [13]uint8{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}

// ord returns the 1 based position of the entry's part within the name.
func (e lfnEntry) ord() int { return int(e[ldirOrdOff] & 0x3f) }

// last reports whether the entry holds the final part of the name.
func (e lfnEntry) last() bool { return e[ldirOrdOff]&llef != 0 }

// linked reports whether the cluster field is set, which is invalid for
// long name entries.
func (e lfnEntry) linked() bool {
	return binary.LittleEndian.Uint16(e[ldirFstClusLO_Off:]) != 0
}

func (e lfnEntry) unit(i int) uint16 {
	return binary.LittleEndian.Uint16(e[lfnOfs[i]:])
}

func (e lfnEntry) setUnit(i int, wc uint16) {
	binary.LittleEndian.PutUint16(e[lfnOfs[i]:], wc)
}
