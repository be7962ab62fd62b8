package fat

import (
	"log/slog"

	"github.com/soypat/fatfs/internal/gpt"
	"github.com/soypat/fatfs/internal/mbr"
)

// bootsectorstatus is the result of probing a sector for a volume boot record.
//   - 0:FAT/FAT32 VBR
//   - 1:exFAT VBR
//   - 2:Not FAT and valid BS
//   - 3:Not FAT and invalid BS
//   - 4:Disk error
type bootsectorstatus uint

const (
	bootsectorstatusFAT bootsectorstatus = iota
	bootsectorstatusExFAT
	bootsectorstatusNotFATValidBS
	bootsectorstatusNotFATInvalidBS
	bootsectorstatusDiskError
)

// Geometry is the layout of a mounted volume as derived from its boot sector.
type Geometry struct {
	Type              string // "FAT12", "FAT16" or "FAT32".
	SectorSize        uint16
	SectorsPerCluster uint16
	ReservedSectors   uint32
	NumberOfFATs      uint8
	SectorsPerFAT     uint32
	RootEntries       uint16 // Zero for FAT32.
	RootCluster       uint32 // Zero for FAT12/16.
	TotalSectors      uint32
	TotalClusters     uint32
	VolumeStart       int64 // Sector of the boot record on the device.
	FATStart          int64
	DataStart         int64
}

// mount_volume probes the device and loads the volume found in partition
// part (0 for automatic detection).
func (fsys *FS) mount_volume(bd BlockDevice, part int, mode Mode) fileResult {
	fsys.fstype = fstypeUnknown // Invalidate any previous mount.
	fsys.device = bd
	stat := bd.Initialize()
	if stat&(StatusNoInit|StatusNoDisk) != 0 {
		return frNotReady
	}
	if mode&ModeWrite != 0 && stat&StatusProtect != 0 {
		return frWriteProtected
	}
	ss := int64(minSS)
	var arg [1]int64
	switch dr := fsys.disk_ioctl(IoctlSectorSize, arg[:]); dr {
	case drOK:
		ss = arg[0]
	case drParError:
		// Device does not report its sector size.
	default:
		return dr.fr()
	}
	if ss < minSS || ss > maxSS || ss&(ss-1) != 0 {
		fsys.logerror("mount:sector-size", slog.Int64("ssize", ss))
		return frDiskErr
	}
	blk, err := makeBlockIndexer(int(ss))
	if err != nil {
		return frInvalidParameter
	}
	fsys.blk = blk
	fsys.ssize = uint16(ss)
	if len(fsys.win) != int(ss) {
		fsys.win = make([]byte, ss)
	}
	fsys.perm = mode & (ModeRead | ModeWrite)

	fmt := fsys.find_volume(part)
	switch fmt {
	case bootsectorstatusDiskError:
		return frDiskErr
	case bootsectorstatusNotFATInvalidBS, bootsectorstatusNotFATValidBS:
		return frNoFilesystem
	case bootsectorstatusExFAT:
		fsys.warn("mount:exfat", slog.Uint64("sect", uint64(fsys.winsect)))
		return frUnsupported
	}
	return fsys.init_fat()
}

// find_volume locates the FAT volume and leaves its boot sector in the window.
func (fsys *FS) find_volume(part int) bootsectorstatus {
	fmt := fsys.check_fs(0)
	if fmt != bootsectorstatusNotFATValidBS && (fmt >= bootsectorstatusNotFATInvalidBS || part == 0) {
		// Returns if it is a FAT VBR as auto scan, not a BS or disk error.
		return fmt
	}
	rec, err := mbr.From(fsys.win)
	if err != nil {
		return bootsectorstatusNotFATInvalidBS
	}
	if rec.IsProtective() {
		return fsys.find_gpt_volume(part)
	}
	if part > mbr.NumPartitions {
		return bootsectorstatusNotFATInvalidBS
	}
	var starts [mbr.NumPartitions]uint32
	for i := range starts {
		starts[i] = rec.Partition(i).StartLBA
	}
	i := 0
	if part > 0 {
		i = part - 1
	}
	for {
		fmt = bootsectorstatusNotFATInvalidBS
		if starts[i] > 0 {
			fmt = fsys.check_fs(lba(starts[i]))
		}
		i++
		if !(part == 0 && fmt >= bootsectorstatusNotFATValidBS && i < mbr.NumPartitions) {
			break
		}
	}
	return fmt
}

// find_gpt_volume looks for a FAT volume among the basic data partitions
// of a GPT disk.
func (fsys *FS) find_gpt_volume(part int) bootsectorstatus {
	if fsys.move_window(1) != frOK {
		return bootsectorstatusDiskError
	}
	hdr, err := gpt.Parse(fsys.win)
	if err != nil {
		fsys.warn("find_gpt_volume:header", slog.String("err", err.Error()))
		return bootsectorstatusNotFATInvalidBS
	}
	arr := make([]byte, hdr.EntriesLen())
	for ofs := uint32(0); ofs < uint32(len(arr)); ofs += uint32(fsys.ssize) {
		if fsys.move_window(lba(hdr.EntriesLBA)+lba(fsys.divSS(ofs))) != frOK {
			return bootsectorstatusDiskError
		}
		copy(arr[ofs:], fsys.win)
	}
	if err := hdr.VerifyEntries(arr); err != nil {
		fsys.warn("find_gpt_volume:entries", slog.String("err", err.Error()))
		return bootsectorstatusNotFATInvalidBS
	}
	fmt := bootsectorstatusNotFATInvalidBS
	v := 0
	for i := 0; i < int(hdr.NumEntries); i++ {
		pe, err := gpt.ParseEntry(arr[i*gpt.EntrySize:])
		if err != nil || pe.Type != gpt.BasicData {
			continue
		}
		v++
		if part != 0 && v != part {
			continue
		}
		fmt = fsys.check_fs(lba(pe.FirstLBA))
		if part != 0 || fmt <= bootsectorstatusExFAT {
			return fmt
		}
	}
	return fmt
}

// check_fs probes sect for a FAT or exFAT volume boot record.
func (fsys *FS) check_fs(sect lba) bootsectorstatus {
	fsys.invalidate_window()
	if fsys.move_window(sect) != frOK {
		return bootsectorstatusDiskError
	}
	bsValid := fsys.window_u16(bs55AA) == 0xaa55
	if bsValid && fsys.window_memcmp(bsJmpBoot, "\xEB\x76\x90EXFAT   ") {
		return bootsectorstatusExFAT
	}
	b := fsys.win[bsJmpBoot]
	if b == 0xEB || b == 0xE9 || b == 0xE8 {
		if bsValid && fsys.window_memcmp(bsFilSysType32, "FAT32   ") {
			return bootsectorstatusFAT
		}
		// Volumes formatted by early MS-DOS lack the signature and type
		// string so the BPB fields are checked instead.
		bp := decodeBootParams(fsys.win)
		w, spc := bp.bytsPerSec, bp.secPerClus
		if w&(w-1) == 0 && w >= minSS && w <= maxSS &&
			spc != 0 && spc&(spc-1) == 0 &&
			bp.rsvdSecCnt != 0 &&
			uint(bp.numFATs)-1 <= 1 &&
			bp.rootEntCnt != 0 &&
			(fsys.window_u16(bpbTotSec16) >= 128 || fsys.window_u32(bpbTotSec32) >= 0x10000) &&
			fsys.window_u16(bpbFATSz16) != 0 {
			return bootsectorstatusFAT
		}
	}
	if bsValid {
		return bootsectorstatusNotFATValidBS
	}
	return bootsectorstatusNotFATInvalidBS
}

// init_fat derives the volume geometry from the boot sector in the window.
func (fsys *FS) init_fat() fileResult {
	bsect := fsys.winsect
	ss := uint32(fsys.ssize)
	bp := decodeBootParams(fsys.win)
	if uint32(bp.bytsPerSec) != ss {
		fsys.logerror("init_fat:sector-size", slog.Int("bpb", int(bp.bytsPerSec)), slog.Int("device", int(ss)))
		return frNoFilesystem
	}
	fatsize := bp.fatSz
	fsys.fsize = fatsize
	fsys.nFATs = bp.numFATs
	if fsys.nFATs != 1 && fsys.nFATs != 2 {
		return frNoFilesystem
	}
	fsys.csize = uint16(bp.secPerClus)
	if fsys.csize == 0 || fsys.csize&(fsys.csize-1) != 0 {
		return frNoFilesystem // Zero or not power of two.
	}
	fsys.nrootdir = bp.rootEntCnt
	if uint32(fsys.nrootdir)%(ss/sizeDirEntry) != 0 {
		return frNoFilesystem // Not sector aligned.
	}
	totsect := bp.totSec
	rsv := uint32(bp.rsvdSecCnt)
	if rsv == 0 {
		return frNoFilesystem
	}

	// Determine the FAT subtype. RSV+FAT+DIR
	sysect := rsv + fatsize*uint32(fsys.nFATs) + uint32(fsys.nrootdir)/(ss/sizeDirEntry)
	if totsect < sysect {
		return frNoFilesystem
	}
	nclst := (totsect - sysect) / uint32(fsys.csize)
	if nclst == 0 {
		return frNoFilesystem
	}
	var fmt fstype
	switch {
	case nclst > clustMaxFAT32:
		return frNoFilesystem // Too many clusters for FAT32.
	case nclst >= minClustFAT32:
		fmt = fstypeFAT32
	case nclst >= minClustFAT16:
		fmt = fstypeFAT16
	default:
		fmt = fstypeFAT12
	}

	// Boundaries and limits.
	fsys.n_fatent = nclst + 2
	fsys.volbase = bsect
	fsys.fatbase = bsect + lba(rsv)
	fsys.database = bsect + lba(sysect)
	fsys.totsect = totsect
	var szbfat uint32
	if fmt == fstypeFAT32 {
		if bp.fsVer != 0 {
			return frNoFilesystem // Unsupported FAT subversion, must be 0.0.
		}
		if fsys.nrootdir != 0 {
			return frNoFilesystem // Root directory entry count must be 0.
		}
		fsys.dirbase = lba(bp.rootClus)
		szbfat = fsys.n_fatent * 4
	} else {
		if fsys.nrootdir == 0 {
			return frNoFilesystem // Root directory entry count must not be 0.
		}
		fsys.dirbase = fsys.fatbase + lba(fatsize*uint32(fsys.nFATs))
		if fmt == fstypeFAT16 {
			szbfat = fsys.n_fatent * 2
		} else {
			szbfat = fsys.n_fatent*3/2 + fsys.n_fatent&1
		}
	}
	if fsys.fsize < (szbfat+ss-1)/ss {
		return frNoFilesystem // FAT size must not be less than FAT sectors.
	}
	fsys.label = bp.volLab
	fsys.serial = bp.volID
	if bp.bootSig != 0x29 {
		copy(fsys.label[:], "NO NAME    ")
		fsys.serial = 0
	}

	// Initialize cluster allocation information for write ops.
	fsys.last_clst = 0xffff_ffff
	fsys.free_clst = 0xffff_ffff
	fsys.fsi_flag = 1 << 7

	// Load the FSInfo hints.
	if fmt == fstypeFAT32 && bp.fsInfo == 1 && fsys.move_window(bsect+1) == frOK {
		fsys.fsi_flag = 0
		if fsi, ok := decodeFSInfo(fsys.win); ok {
			if fsi.free <= nclst {
				fsys.free_clst = fsi.free
			}
			if fsi.next >= 2 && fsi.next < fsys.n_fatent {
				fsys.last_clst = fsi.next
			}
		}
	}
	fsys.fstype = fmt // Validate the filesystem.
	fsys.id++         // Increment filesystem ID, invalidates open files.
	fsys.info("mount", slog.String("fstype", fmt.String()), slog.Uint64("clusters", uint64(nclst)),
		slog.Uint64("volbase", uint64(bsect)), slog.Int("csize", int(fsys.csize)))
	return frOK
}

// geometry reports the layout of the mounted volume.
func (fsys *FS) geometry() Geometry {
	g := Geometry{
		Type:              fsys.fstype.String(),
		SectorSize:        fsys.ssize,
		SectorsPerCluster: fsys.csize,
		ReservedSectors:   uint32(fsys.fatbase - fsys.volbase),
		NumberOfFATs:      fsys.nFATs,
		SectorsPerFAT:     fsys.fsize,
		RootEntries:       fsys.nrootdir,
		TotalSectors:      fsys.totsect,
		TotalClusters:     fsys.n_fatent - 2,
		VolumeStart:       int64(fsys.volbase),
		FATStart:          int64(fsys.fatbase),
		DataStart:         int64(fsys.database),
	}
	if fsys.fstype == fstypeFAT32 {
		g.RootCluster = uint32(fsys.dirbase)
	}
	return g
}
