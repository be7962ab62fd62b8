package fat

import (
	"encoding/binary"
	"log/slog"
)

// eoc returns the end-of-chain marker for the volume's FAT variant.
func (fsys *FS) eoc() uint32 {
	switch fsys.fstype {
	case fstypeFAT12:
		return 0xfff
	case fstypeFAT16:
		return 0xffff
	}
	return mask28bits
}

// badcluster returns the bad cluster marker for the volume's FAT variant.
func (fsys *FS) badcluster() uint32 {
	return fsys.eoc() - 8
}

// get_fat reads the FAT entry of clst. Values of n_fatent and above mark
// the end of a chain (or a bad cluster), 0 means free.
func (fsys *FS) get_fat(clst uint32) (uint32, fileResult) {
	if clst < 2 || clst >= fsys.n_fatent {
		return 0, frIntErr
	}
	switch fsys.fstype {
	case fstypeFAT12:
		// Entries are 12 bits wide and may straddle a sector boundary.
		bc := clst + clst/2
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(bc))); fr != frOK {
			return 0, fr
		}
		wc := uint32(fsys.win[fsys.modSS(bc)])
		bc++
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(bc))); fr != frOK {
			return 0, fr
		}
		wc |= uint32(fsys.win[fsys.modSS(bc)]) << 8
		if clst&1 != 0 {
			return wc >> 4, frOK
		}
		return wc & 0xfff, frOK

	case fstypeFAT16:
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(clst*2))); fr != frOK {
			return 0, fr
		}
		return uint32(fsys.window_u16(fsys.modSS(clst * 2))), frOK

	case fstypeFAT32:
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(clst*4))); fr != frOK {
			return 0, fr
		}
		return fsys.window_u32(fsys.modSS(clst*4)) & mask28bits, frOK
	}
	return 0, frIntErr
}

// put_fat writes val to the FAT entry of clst through the window.
func (fsys *FS) put_fat(clst, val uint32) fileResult {
	if clst < 2 || clst >= fsys.n_fatent {
		return frIntErr
	}
	switch fsys.fstype {
	case fstypeFAT12:
		bc := clst + clst/2
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(bc))); fr != frOK {
			return fr
		}
		off := fsys.modSS(bc)
		if clst&1 != 0 {
			fsys.win[off] = fsys.win[off]&0x0f | byte(val<<4)
		} else {
			fsys.win[off] = byte(val)
		}
		fsys.wflag = 1
		bc++
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(bc))); fr != frOK {
			return fr
		}
		off = fsys.modSS(bc)
		if clst&1 != 0 {
			fsys.win[off] = byte(val >> 4)
		} else {
			fsys.win[off] = fsys.win[off]&0xf0 | byte(val>>8)&0x0f
		}

	case fstypeFAT16:
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(clst*2))); fr != frOK {
			return fr
		}
		binary.LittleEndian.PutUint16(fsys.win[fsys.modSS(clst*2):], uint16(val))

	case fstypeFAT32:
		if fr := fsys.move_window(fsys.fatbase + lba(fsys.divSS(clst*4))); fr != frOK {
			return fr
		}
		// The upper 4 bits are reserved and must be preserved.
		off := fsys.modSS(clst * 4)
		val = val&mask28bits | fsys.window_u32(off)&^mask28bits
		binary.LittleEndian.PutUint32(fsys.win[off:], val)

	default:
		return frIntErr
	}
	fsys.wflag = 1
	return frOK
}

// getfree returns the number of free clusters, scanning the FAT when the
// count is unknown.
func (fsys *FS) getfree() (uint32, fileResult) {
	if fsys.free_clst <= fsys.n_fatent-2 {
		return fsys.free_clst, frOK
	}
	var nfree uint32
	for clst := uint32(2); clst < fsys.n_fatent; clst++ {
		val, fr := fsys.get_fat(clst)
		if fr != frOK {
			return 0, fr
		}
		if val == 0 {
			nfree++
		}
	}
	fsys.debug("getfree:scan", slog.Uint64("free", uint64(nfree)))
	fsys.free_clst = nfree
	fsys.fsi_flag |= 1
	return nfree, frOK
}
