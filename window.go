package fat

import (
	"encoding/binary"
	"log/slog"
)

func (fsys *FS) invalidate_window() {
	fsys.wflag = 0
	fsys.winsect = badLBA
}

// sync_window writes the window back to disk if it was modified. Sectors
// inside the first FAT are also written to every mirror FAT.
func (fsys *FS) sync_window() fileResult {
	if fsys.wflag == 0 {
		return frOK
	}
	if dr := fsys.disk_write(fsys.win, fsys.winsect, 1); dr != drOK {
		return dr.fr()
	}
	if fsys.winsect-fsys.fatbase < lba(fsys.fsize) {
		for i := 1; i < int(fsys.nFATs); i++ {
			mirror := fsys.winsect + lba(i)*lba(fsys.fsize)
			if dr := fsys.disk_write(fsys.win, mirror, 1); dr != drOK {
				fsys.logerror("sync_window:mirror", slog.Int("fat", i), slog.Uint64("sect", uint64(mirror)))
				return dr.fr()
			}
		}
	}
	fsys.wflag = 0
	return frOK
}

// move_window loads sector into the window, flushing the previous contents first.
func (fsys *FS) move_window(sector lba) fileResult {
	if sector == fsys.winsect {
		return frOK // Do nothing if window offset not changed.
	}
	if fr := fsys.sync_window(); fr != frOK {
		return fr
	}
	if dr := fsys.disk_read(fsys.win, sector, 1); dr != drOK {
		fsys.winsect = badLBA // Invalidate window offset if disk error occured.
		return dr.fr()
	}
	fsys.winsect = sector
	return frOK
}

// sync_fs flushes the window, the FSInfo sector when dirty and asks the
// device to commit cached writes.
func (fsys *FS) sync_fs() fileResult {
	if fr := fsys.sync_window(); fr != frOK {
		return fr
	}
	if fsys.fstype == fstypeFAT32 && fsys.fsi_flag == 1 {
		// Create FSInfo structure.
		fsys.invalidate_window()
		fsinfo{free: fsys.free_clst, next: fsys.last_clst}.encode(fsys.win)
		fsys.winsect = fsys.volbase + 1
		if dr := fsys.disk_write(fsys.win, fsys.winsect, 1); dr != drOK {
			fsys.invalidate_window()
			return dr.fr()
		}
		fsys.fsi_flag = 0
	}
	if dr := fsys.disk_ioctl(IoctlSync, nil); dr != drOK {
		return dr.fr()
	}
	return frOK
}

// dir_clear fills the first sector of the cluster through the window with
// zeros and writes zeros to the rest of the cluster.
func (fsys *FS) dir_clear(clst uint32) fileResult {
	if fr := fsys.sync_window(); fr != frOK {
		return fr
	}
	sect := fsys.clst2sect(clst)
	if sect == 0 {
		return frIntErr
	}
	fsys.winsect = sect
	clear(fsys.win)
	for n := lba(0); n < lba(fsys.csize); n++ {
		if dr := fsys.disk_write(fsys.win, sect+n, 1); dr != drOK {
			return dr.fr()
		}
	}
	return frOK
}

func (fsys *FS) window_u16(off uint32) uint16 {
	return binary.LittleEndian.Uint16(fsys.win[off:])
}

func (fsys *FS) window_u32(off uint32) uint32 {
	return binary.LittleEndian.Uint32(fsys.win[off:])
}

func (fsys *FS) window_memcmp(off uint32, data string) bool {
	return string(fsys.win[off:off+uint32(len(data))]) == data
}
