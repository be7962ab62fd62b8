package fat

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/soypat/fatfs/internal/mbr"
	"golang.org/x/text/encoding/charmap"
)

// Format selects the FAT variant created by [Formatter.Format].
type Format uint8

const (
	// FormatAuto picks FAT12 or FAT16 by volume size and falls back to
	// FAT32 when the clusters do not fit FAT16.
	FormatAuto Format = iota
	FormatFAT12
	FormatFAT16
	FormatFAT32
	FormatExFAT
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatFAT12:
		return "FAT12"
	case FormatFAT16:
		return "FAT16"
	case FormatFAT32:
		return "FAT32"
	case FormatExFAT:
		return "exFAT"
	}
	return "unknown"
}

// Formatter creates FAT volumes on block devices.
type Formatter struct {
	window []byte
	log    *slog.Logger
	now    func() time.Time
	// block device is temporarily used by the formatter to write blocks.
	bd BlockDevice
	ss int
}

// FormatConfig holds the mkfs parameters. Zero values select defaults.
type FormatConfig struct {
	Label string
	// ClusterSize is the size of a FAT cluster in bytes. Zero selects a
	// size based on the volume size.
	ClusterSize int
	// Format selects the FAT format to use.
	Format Format
	// NumberOfFATs is either 1 or 2. 0 defaults to 2.
	NumberOfFATs uint8
	// RootEntries is the size of the FAT12/16 root directory. 0 defaults to 512.
	RootEntries uint16
	// Partition writes an MBR with a single partition holding the volume
	// instead of placing the volume at sector 0.
	Partition bool
	// TotalSectors limits the size of the formatted area. Zero uses the
	// whole device.
	TotalSectors int64
	// VolumeID is the volume serial number. Zero derives one from the clock.
	VolumeID uint32
}

// Default cluster sizes indexed by volume size.
var (
	cst   = [...]uint32{1, 4, 16, 64, 256, 512} // FAT12/16, in units of 4K sectors.
	cst32 = [...]uint32{1, 2, 4, 8, 16, 32}     // FAT32, in units of 128K sectors.
)

const (
	mbrVolumeStart = 63 // First sector of the partition created by Format.
	formatBatch    = 32 // Sectors written per device call when clearing.
)

// Format writes an empty FAT filesystem to bd. Any data on the device is lost.
func (f *Formatter) Format(bd BlockDevice, cfg FormatConfig) error {
	if bd == nil {
		return frInvalidParameter
	}
	switch cfg.Format {
	case FormatAuto, FormatFAT12, FormatFAT16, FormatFAT32:
	case FormatExFAT:
		return frUnsupported
	default:
		return frInvalidParameter
	}
	f.bd = bd
	defer func() { f.bd = nil }()
	stat := bd.Initialize()
	if stat&(StatusNoInit|StatusNoDisk) != 0 {
		return frNotReady
	}
	if stat&StatusProtect != 0 {
		return frWriteProtected
	}
	return f.formatFAT(cfg).err()
}

// layout is the geometry chosen for a new volume.
type layout struct {
	fsty   fstype
	bvol   uint32 // Volume start sector.
	szvol  uint32 // Volume size in sectors.
	pau    uint32 // Sectors per cluster.
	rsv    uint32
	szfat  uint32
	szdir  uint32
	nroot  uint32
	nfat   uint32
	nclst  uint32
	bfat   uint32
	bdata  uint32
	serial uint32
}

func (f *Formatter) formatFAT(cfg FormatConfig) fileResult {
	ss := int64(minSS)
	var arg [1]int64
	switch err := f.bd.Ioctl(IoctlSectorSize, arg[:]); toDiskresult(err) {
	case drOK:
		ss = arg[0]
	case drParError:
	default:
		return frDiskErr
	}
	if ss < minSS || ss > maxSS || ss&(ss-1) != 0 {
		return frDiskErr
	}
	f.ss = int(ss)
	szblk := int64(1)
	if f.bd.Ioctl(IoctlBlockSize, arg[:]) == nil {
		szblk = arg[0]
	}
	if szblk < 1 || szblk > 32768 || szblk&(szblk-1) != 0 {
		szblk = 1
	}
	szvol := cfg.TotalSectors
	if f.bd.Ioctl(IoctlSectorCount, arg[:]) == nil {
		if szvol == 0 {
			szvol = arg[0]
		} else if szvol > arg[0] {
			return frInvalidParameter // Larger than the device.
		}
	}
	if szvol <= 0 {
		return frInvalidParameter
	}
	if szvol > 0xffff_ffff {
		szvol = 0xffff_ffff
	}
	if len(f.window) != f.ss*formatBatch {
		f.window = make([]byte, f.ss*formatBatch)
	}

	var lay layout
	lay.szvol = uint32(szvol)
	if cfg.Partition {
		if lay.szvol <= mbrVolumeStart {
			return frMkfsAborted
		}
		lay.bvol = mbrVolumeStart
		lay.szvol -= mbrVolumeStart
	}
	if lay.szvol < 128 {
		return frMkfsAborted // Check if the volume has enough space.
	}
	lay.nfat = uint32(cfg.NumberOfFATs)
	if lay.nfat == 0 {
		lay.nfat = 2
	} else if lay.nfat > 2 {
		return frInvalidParameter
	}
	lay.nroot = uint32(cfg.RootEntries)
	if lay.nroot == 0 {
		lay.nroot = 512
	}
	if lay.nroot > 32768 || lay.nroot%(uint32(ss)/sizeDirEntry) != 0 {
		return frInvalidParameter
	}
	szau := uint32(cfg.ClusterSize / int(ss))
	if cfg.ClusterSize < 0 || (cfg.ClusterSize != 0 && (szau == 0 || szau > 128 || szau&(szau-1) != 0 || cfg.ClusterSize%int(ss) != 0)) {
		return frInvalidParameter
	}
	label, fr := encodeLabel(charmap.CodePage437, cfg.Label)
	if fr != frOK {
		return fr
	}
	if cfg.Label == "" {
		copy(label[:], "NO NAME    ")
	}
	lay.serial = cfg.VolumeID
	if lay.serial == 0 {
		lay.serial = f.serial()
	}
	if fr = f.plan(&lay, cfg.Format, szau, uint32(ss), uint32(szblk)); fr != frOK {
		return fr
	}
	f.logattrs(slog.LevelInfo, "format",
		slog.String("fstype", lay.fsty.String()), slog.Uint64("clusters", uint64(lay.nclst)),
		slog.Uint64("csize", uint64(lay.pau)), slog.Uint64("fatsize", uint64(lay.szfat)))

	// Advisory: the device may discard the old contents.
	rt := [2]int64{int64(lay.bvol), int64(lay.bvol) + int64(lay.szvol) - 1}
	f.bd.Ioctl(IoctlTrim, rt[:])

	if fr = f.writeBootRecord(&lay, label); fr != frOK {
		return fr
	}
	if fr = f.writeTables(&lay, label, cfg.Label != ""); fr != frOK {
		return fr
	}
	if cfg.Partition {
		if fr = f.writeMBR(&lay); fr != frOK {
			return fr
		}
	}
	if err := f.bd.Ioctl(IoctlSync, nil); toDiskresult(err) != drOK && toDiskresult(err) != drParError {
		return toDiskresult(err).fr()
	}
	return frOK
}

// plan determines the FAT type and cluster geometry, adjusting the
// cluster size when the cluster count falls outside the type's range.
func (f *Formatter) plan(lay *layout, format Format, szau, ss, szblk uint32) fileResult {
	fsty := fstypeFAT16
	force12 := false
	switch format {
	case FormatFAT12:
		fsty = fstypeFAT12
	case FormatFAT32:
		fsty = fstypeFAT32
	}
	for {
		pau := szau
		var n uint32
		if fsty == fstypeFAT32 {
			if pau == 0 {
				n = lay.szvol / 0x20000 // Volume size in unit of 128KS.
				pau = 1
				for i := 0; i < len(cst32) && cst32[i] <= n; i++ {
					pau <<= 1
				}
			}
			nclst := lay.szvol / pau
			lay.szfat = (nclst*4 + 8 + ss - 1) / ss
			lay.rsv = 32
			lay.szdir = 0
			if nclst < minClustFAT32 || nclst > clustMaxFAT32 {
				if szau == 0 && pau > 1 {
					szau = pau / 2
					continue
				}
				return frMkfsAborted
			}
		} else {
			if pau == 0 {
				n = lay.szvol / 0x1000 // Volume size in unit of 4KS.
				pau = 1
				for i := 0; i < len(cst) && cst[i] <= n; i++ {
					pau <<= 1
				}
			}
			nclst := lay.szvol / pau
			if nclst >= minClustFAT16 && format != FormatFAT12 && !force12 {
				n = nclst*2 + 4 // FAT size in bytes.
				fsty = fstypeFAT16
			} else {
				fsty = fstypeFAT12
				n = (nclst*3+1)/2 + 3
			}
			lay.szfat = (n + ss - 1) / ss
			lay.rsv = 1
			lay.szdir = lay.nroot * sizeDirEntry / ss
		}
		lay.bfat = lay.bvol + lay.rsv
		lay.bdata = lay.bfat + lay.szfat*lay.nfat + lay.szdir

		// Align data area to erase block boundary.
		n = ((lay.bdata + szblk - 1) &^ (szblk - 1)) - lay.bdata
		if fsty == fstypeFAT32 {
			lay.rsv += n
			lay.bfat += n
		} else {
			if n%lay.nfat != 0 {
				n--
				lay.rsv++
				lay.bfat++
			}
			lay.szfat += n / lay.nfat
		}
		lay.bdata = lay.bfat + lay.szfat*lay.nfat + lay.szdir

		if lay.szvol < lay.bdata+pau*16-lay.bvol {
			return frMkfsAborted // Too small volume.
		}
		lay.nclst = (lay.szvol - lay.rsv - lay.szfat*lay.nfat - lay.szdir) / pau
		switch fsty {
		case fstypeFAT32:
			if lay.nclst < minClustFAT32 {
				if szau == 0 && pau > 1 {
					szau = pau / 2
					continue
				}
				return frMkfsAborted
			}
		case fstypeFAT16:
			if lay.nclst >= minClustFAT32 {
				// Too many clusters for FAT16.
				if szau == 0 && pau*2 <= 64 {
					szau = pau * 2
					continue
				}
				if format == FormatAuto {
					fsty = fstypeFAT32
					szau = 0
					continue
				}
				if szau == 0 && pau*2 <= 128 {
					szau = pau * 2
					continue
				}
				return frMkfsAborted
			}
			if lay.nclst < minClustFAT16 {
				if format == FormatAuto {
					force12 = true // System areas pushed the count below FAT16.
					continue
				}
				return frMkfsAborted
			}
		case fstypeFAT12:
			if lay.nclst >= minClustFAT16 {
				if format == FormatFAT12 && szau == 0 && pau*2 <= 128 {
					szau = pau * 2
					continue
				}
				return frMkfsAborted // Too many clusters for FAT12.
			}
		}
		if format == FormatFAT16 && fsty != fstypeFAT16 {
			return frMkfsAborted // Volume too small for FAT16.
		}
		lay.pau = pau
		lay.fsty = fsty
		return frOK
	}
}

func (f *Formatter) writeBootRecord(lay *layout, label [11]byte) fileResult {
	ss := f.ss
	buf := f.window[:ss]
	clear(buf)
	bp := bootParams{
		fat32:      lay.fsty == fstypeFAT32,
		bytsPerSec: uint16(ss),
		secPerClus: uint8(lay.pau),
		rsvdSecCnt: uint16(lay.rsv),
		numFATs:    uint8(lay.nfat),
		totSec:     lay.szvol,
		media:      0xF8,
		fatSz:      lay.szfat,
		secPerTrk:  63,
		numHeads:   255,
		hiddSec:    lay.bvol,
		drvNum:     0x80,
		bootSig:    0x29,
		volID:      lay.serial,
		volLab:     label,
	}
	copy(bp.oem[:], "MSDOS5.0")
	copy(bp.filSysType[:], lay.fsty.String()+"   ")
	if bp.fat32 {
		bp.rootClus = 2
		bp.fsInfo = 1
		bp.bkBootSec = 6
	} else {
		bp.rootEntCnt = uint16(lay.nroot)
	}
	bp.encode(buf)
	if fr := f.write(buf, lay.bvol); fr != frOK {
		return fr
	}
	if lay.fsty != fstypeFAT32 {
		return frOK
	}
	if fr := f.write(buf, lay.bvol+6); fr != frOK {
		return fr // Backup boot sector.
	}
	fsinfo{free: lay.nclst - 1, next: 2}.encode(buf)
	if fr := f.write(buf, lay.bvol+7); fr != frOK {
		return fr
	}
	return f.write(buf, lay.bvol+1)
}

// writeTables initializes every FAT and the root directory.
func (f *Formatter) writeTables(lay *layout, label [11]byte, withLabel bool) fileResult {
	ss := uint32(f.ss)
	sect := lay.bfat
	for i := uint32(0); i < lay.nfat; i++ {
		clear(f.window)
		switch lay.fsty {
		case fstypeFAT32:
			binary.LittleEndian.PutUint32(f.window[0:], 0xFFFFFFF8)
			binary.LittleEndian.PutUint32(f.window[4:], 0xFFFFFFFF)
			binary.LittleEndian.PutUint32(f.window[8:], 0x0FFFFFFF) // Root directory.
		case fstypeFAT16:
			binary.LittleEndian.PutUint32(f.window[0:], 0xFFFFFFF8)
		default:
			binary.LittleEndian.PutUint32(f.window[0:], 0x00FFFFF8)
		}
		if fr := f.write(f.window[:ss], sect); fr != frOK {
			return fr
		}
		if fr := f.fill(sect+1, lay.szfat-1); fr != frOK {
			return fr
		}
		sect += lay.szfat
	}
	nsect := lay.szdir
	if lay.fsty == fstypeFAT32 {
		nsect = lay.pau
	}
	if fr := f.fill(sect, nsect); fr != frOK {
		return fr
	}
	if !withLabel {
		return frOK
	}
	clear(f.window[:ss])
	ent := f.window[:sizeDirEntry]
	copy(ent[dirNameOff:], label[:])
	de := dirEntry{data: ent}
	de.setAttributes(AttrVolume)
	de.setModifiedAt(newDatetime(f.clock()))
	return f.write(f.window[:ss], sect)
}

// fill writes n zeroed sectors starting at sect.
func (f *Formatter) fill(sect, n uint32) fileResult {
	clear(f.window)
	for n > 0 {
		batch := min(n, formatBatch)
		if fr := f.write(f.window[:batch*uint32(f.ss)], sect); fr != frOK {
			return fr
		}
		sect += batch
		n -= batch
	}
	return frOK
}

func (f *Formatter) writeMBR(lay *layout) fileResult {
	buf := f.window[:f.ss]
	clear(buf)
	rec, err := mbr.From(buf)
	if err != nil {
		return frIntErr
	}
	ptype := mbr.TypeFAT32LBA
	switch {
	case lay.fsty == fstypeFAT12:
		ptype = mbr.TypeFAT12
	case lay.fsty == fstypeFAT16 && lay.szvol < 0x10000:
		ptype = mbr.TypeFAT16
	case lay.fsty == fstypeFAT16:
		ptype = mbr.TypeFAT16B
	}
	rec.SetPartition(0, mbr.Partition{
		Type:     ptype,
		First:    mbr.CHS{Head: 1, Sector: 1},
		Last:     mbr.MaxCHS,
		StartLBA: lay.bvol,
		Sectors:  lay.szvol,
	})
	rec.SetDiskID(lay.serial)
	rec.SetSignature()
	return f.write(buf, 0)
}

func (f *Formatter) write(buf []byte, sect uint32) fileResult {
	if err := f.bd.WriteSectors(buf, int64(sect)); err != nil {
		f.logattrs(slog.LevelError, "format:write", slog.Uint64("sect", uint64(sect)), slog.String("err", err.Error()))
		return toDiskresult(err).fr()
	}
	return frOK
}

func (f *Formatter) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// serial derives a volume serial number from the current time.
func (f *Formatter) serial() uint32 {
	t := f.clock()
	dt := newDatetime(t)
	return uint32(dt.date)<<16 | uint32(dt.time) ^ uint32(t.Nanosecond())
}

func (f *Formatter) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if f.log == nil {
		return
	}
	f.log.LogAttrs(context.Background(), level, msg, attrs...)
}

// SetLogger sets the logger used during formatting.
func (f *Formatter) SetLogger(log *slog.Logger) { f.log = log }

// SetClock sets the time source for the volume serial number and label timestamp.
func (f *Formatter) SetClock(now func() time.Time) { f.now = now }
