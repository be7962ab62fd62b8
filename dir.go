package fat

import (
	"log/slog"
	"strings"
	"time"
)

// entry returns the directory entry at the current offset. The window must
// hold dp.sect.
func (dp *dir) entry() []byte {
	fsys := dp.obj.fs
	off := fsys.modSS(dp.dptr)
	return fsys.win[off : off+sizeDirEntry]
}

// sdi sets the directory index to the entry at byte offset ofs.
func (dp *dir) sdi(ofs uint32) fileResult {
	fsys := dp.obj.fs
	if ofs >= maxDIR || ofs%sizeDirEntry != 0 {
		return frIntErr
	}
	dp.dptr = ofs
	clst := dp.obj.sclust
	if clst == 0 && fsys.fstype == fstypeFAT32 {
		clst = uint32(fsys.dirbase) // FAT32 root directory is a cluster chain.
	}
	if clst == 0 {
		// Static root directory of FAT12/16.
		if ofs/sizeDirEntry >= uint32(fsys.nrootdir) {
			return frIntErr
		}
		dp.sect = fsys.dirbase
	} else {
		csz := uint32(fsys.csize) * uint32(fsys.ssize)
		for ofs >= csz {
			var fr fileResult
			clst, fr = fsys.get_fat(clst)
			if fr != frOK {
				return fr
			}
			if clst < 2 || clst >= fsys.n_fatent {
				return frIntErr // Reached end of table or internal error.
			}
			ofs -= csz
		}
		dp.sect = fsys.clst2sect(clst)
	}
	dp.clust = clst
	if dp.sect == 0 {
		return frIntErr
	}
	dp.sect += lba(fsys.divSS(ofs))
	return frOK
}

// next advances to the next entry. With stretch set a subdirectory chain
// is extended with a cleared cluster when its end is reached.
func (dp *dir) next(stretch bool) fileResult {
	fsys := dp.obj.fs
	ofs := dp.dptr + sizeDirEntry
	if ofs >= maxDIR {
		dp.sect = 0
	}
	if dp.sect == 0 {
		return frNoFile
	}
	if fsys.modSS(ofs) == 0 {
		dp.sect++
		if dp.clust == 0 {
			// Static table.
			if ofs/sizeDirEntry >= uint32(fsys.nrootdir) {
				dp.sect = 0
				return frNoFile
			}
		} else if fsys.divSS(ofs)&uint32(fsys.csize-1) == 0 {
			// Cluster boundary.
			clst, fr := fsys.get_fat(dp.clust)
			if fr != frOK {
				return fr
			}
			if clst <= 1 {
				return frIntErr
			}
			if clst >= fsys.n_fatent {
				if !stretch {
					dp.sect = 0
					return frNoFile
				}
				clst, fr = fsys.extendChain(dp.clust, 1)
				if fr != frOK {
					return fr
				}
				if fr = fsys.dir_clear(clst); fr != frOK {
					return fr
				}
			}
			dp.clust = clst
			dp.sect = fsys.clst2sect(clst)
		}
	}
	dp.dptr = ofs
	return frOK
}

// alloc reserves nent contiguous free entries. On success dp points at the last one.
func (dp *dir) alloc(nent uint) fileResult {
	fsys := dp.obj.fs
	fr := dp.sdi(0)
	if fr == frOK {
		n := uint(0)
		for {
			if fr = fsys.move_window(dp.sect); fr != frOK {
				break
			}
			de := dirEntry{data: dp.entry()}
			if de.isDeleted() || de.isFree() {
				n++
				if n == nent {
					break
				}
			} else {
				n = 0
			}
			if fr = dp.next(true); fr != frOK {
				break
			}
		}
	}
	if fr == frNoFile {
		fr = frDirFull
	}
	return fr
}

// read moves to the next valid entry, collecting its long name in lfnbuf.
// With vol set only volume label entries are returned.
func (dp *dir) read(vol bool) fileResult {
	fsys := dp.obj.fs
	fr := frNoFile
	ord, sum := byte(0xff), byte(0xff)
	for dp.sect != 0 {
		if fr = fsys.move_window(dp.sect); fr != frOK {
			break
		}
		ent := dp.entry()
		de := dirEntry{data: ent}
		if de.isFree() {
			fr = frNoFile // Reached end of directory.
			break
		}
		b := ent[dirNameOff]
		attr := de.attributes() & attrMask
		dp.obj.attr = attr
		if de.isDeleted() || b == '.' || (attr&^AttrArchive == AttrVolume) != vol {
			ord = 0xff
		} else if attr == attrLFN {
			if b&llef != 0 {
				// Start of an LFN block.
				sum = ent[ldirChksumOff]
				b &^= llef
				ord = b
				dp.blk_ofs = dp.dptr
			}
			if b == ord && sum == ent[ldirChksumOff] && fsys.pick_lfn(ent) {
				ord--
			} else {
				ord = 0xff
			}
		} else {
			if ord != 0 || sum != sum_sfn(ent) {
				dp.blk_ofs = 0xffffffff // No valid LFN, use the short name.
			}
			break
		}
		if fr = dp.next(false); fr != frOK {
			break
		}
	}
	if fr != frOK {
		dp.sect = 0 // Terminate the read operation on EOT.
	}
	return fr
}

// find searches the directory for the name in dp.fn and lfnbuf.
func (dp *dir) find() fileResult {
	fsys := dp.obj.fs
	if fr := dp.sdi(0); fr != frOK {
		return fr
	}
	ord, sum := byte(0xff), byte(0xff)
	dp.blk_ofs = 0xffffffff
	for {
		if fr := fsys.move_window(dp.sect); fr != frOK {
			return fr
		}
		ent := dp.entry()
		de := dirEntry{data: ent}
		if de.isFree() {
			return frNoFile // Reached end of directory table.
		}
		c := ent[dirNameOff]
		a := de.attributes() & attrMask
		dp.obj.attr = a
		if de.isDeleted() || (a&AttrVolume != 0 && a != attrLFN) {
			ord = 0xff
			dp.blk_ofs = 0xffffffff
		} else if a == attrLFN {
			if dp.fn[nsFLAG]&nsNOLFN == 0 {
				if c&llef != 0 {
					sum = ent[ldirChksumOff]
					c &^= llef
					ord = c
					dp.blk_ofs = dp.dptr
				}
				if c == ord && sum == ent[ldirChksumOff] && fsys.cmp_lfn(ent) {
					ord--
				} else {
					ord = 0xff
				}
			}
		} else {
			if ord == 0 && sum == sum_sfn(ent) {
				return frOK // LFN matched.
			}
			if dp.fn[nsFLAG]&nsLOSS == 0 && string(ent[:11]) == string(dp.fn[:11]) {
				return frOK // SFN matched.
			}
			ord = 0xff
			dp.blk_ofs = 0xffffffff
		}
		if fr := dp.next(false); fr != frOK {
			return fr
		}
	}
}

// register writes the entries for the name in dp.fn and lfnbuf. On
// success the window holds the new short entry at dp.dptr.
func (dp *dir) register() fileResult {
	fsys := dp.obj.fs
	if dp.fn[nsFLAG]&(nsDOT|nsNONAME) != 0 {
		return frInvalidName
	}
	lfnlen := fsys.lfnLen()
	var sn [12]byte
	copy(sn[:], dp.fn[:])
	if sn[nsFLAG]&nsLOSS != 0 {
		// The short name is lossy: find a free numbered variant.
		dp.fn[nsFLAG] = nsNOLFN
		n := uint32(1)
		fr := frOK
		for ; n < 100; n++ {
			fsys.gen_numname(dp.fn[:], sn[:], n)
			if fr = dp.find(); fr != frOK {
				break
			}
		}
		if n == 100 {
			return frExist // Too many collisions.
		}
		if fr != frNoFile {
			return fr
		}
		dp.fn[nsFLAG] = sn[nsFLAG]
	}

	nent := uint(1)
	if sn[nsFLAG]&nsLFN != 0 {
		nent = uint(lfnlen+12)/13 + 1
	}
	fr := dp.alloc(nent)
	if fr == frOK && nent > 1 {
		nent--
		fr = dp.sdi(dp.dptr - uint32(nent)*sizeDirEntry)
		if fr == frOK {
			sum := sum_sfn(dp.fn[:])
			for {
				if fr = fsys.move_window(dp.sect); fr != frOK {
					break
				}
				fsys.put_lfn(dp.entry(), uint8(nent), sum)
				fsys.wflag = 1
				fr = dp.next(false)
				nent--
				if fr != frOK || nent == 0 {
					break
				}
			}
		}
	}
	if fr == frOK {
		if fr = fsys.move_window(dp.sect); fr == frOK {
			ent := dp.entry()
			clear(ent)
			copy(ent[dirNameOff:], dp.fn[:11])
			ent[dirNTresOff] = dp.fn[nsFLAG] & (nsBODY | nsEXT)
			fsys.wflag = 1
		}
	}
	return fr
}

// remove marks the entry at dp and its LFN block as deleted.
func (dp *dir) remove() fileResult {
	fsys := dp.obj.fs
	last := dp.dptr
	fr := frOK
	if dp.blk_ofs != 0xffffffff {
		fr = dp.sdi(dp.blk_ofs)
	}
	if fr == frOK {
		for {
			if fr = fsys.move_window(dp.sect); fr != frOK {
				break
			}
			fsys.win[fsys.modSS(dp.dptr)] = ddem
			fsys.wflag = 1
			if dp.dptr >= last {
				break
			}
			if fr = dp.next(false); fr != frOK {
				break
			}
		}
		if fr == frNoFile {
			fr = frIntErr
		}
	}
	return fr
}

// follow_path resolves path from the root directory. On success dp points
// at the entry of the last segment, or has nsNONAME set for the root.
func (dp *dir) follow_path(path string) fileResult {
	fsys := dp.obj.fs
	path = trimSeparatorPrefix(path)
	dp.obj.sclust = 0
	if path == "" {
		dp.fn[nsFLAG] = nsNONAME
		return dp.sdi(0)
	}
	for {
		rest, fr := dp.create_name(path)
		if fr != frOK {
			return fr
		}
		path = rest
		fr = dp.find()
		ns := dp.fn[nsFLAG]
		if fr != frOK {
			if fr == frNoFile && ns&nsLAST == 0 {
				fr = frNoPath // Could not find an intermediate directory.
			}
			return fr
		}
		if ns&nsLAST != 0 {
			return frOK
		}
		if dp.obj.attr&AttrDirectory == 0 {
			return frNotADirectory
		}
		dp.obj.sclust = fsys.ld_clust(dp.entry())
	}
}

// get_fileinfo fills fno from the entry dp points at after a read.
func (dp *dir) get_fileinfo(fno *FileInfo) {
	fsys := dp.obj.fs
	*fno = FileInfo{}
	if dp.sect == 0 {
		return
	}
	ent := dp.entry()
	de := dirEntry{data: ent}
	fno.altname = fsys.sfnString(ent, false)
	if dp.blk_ofs != 0xffffffff {
		fno.name, _ = fsys.lfnString()
	}
	if fno.name == "" {
		fno.name = fsys.sfnString(ent, true)
		fno.altname = ""
	}
	fno.attr = de.attributes() & attrMask
	fno.size = int64(de.size())
	fno.modtime = de.modifiedAt().Time()
	fno.crttime = de.createdAt().Time()
	fno.acctime = de.accessedAt().Time()
	fno.sclust = fsys.ld_clust(ent)
}

// f_opendir opens the directory at path for reading.
func (fsys *FS) f_opendir(dp *dir, path string) fileResult {
	dp.obj.fs = fsys
	fr := dp.follow_path(path)
	if fr != frOK {
		return fr
	}
	if dp.fn[nsFLAG]&nsNONAME == 0 {
		if dp.obj.attr&AttrDirectory == 0 {
			return frNotADirectory
		}
		dp.obj.sclust = fsys.ld_clust(dp.entry())
	}
	dp.obj.id = fsys.id
	dp.obj.attr = AttrDirectory
	return dp.sdi(0)
}

// f_readdir reads the next entry. The end of the directory is reported
// with an empty name.
func (dp *dir) f_readdir(fno *FileInfo) fileResult {
	fr := dp.read(false)
	if fr == frNoFile {
		*fno = FileInfo{}
		return frOK
	}
	if fr != frOK {
		return fr
	}
	dp.get_fileinfo(fno)
	fr = dp.next(false)
	if fr == frNoFile {
		fr = frOK // Ignore end of directory now, it is reported on the next read.
	}
	return fr
}

// f_stat returns the information of the object at path.
func (fsys *FS) f_stat(path string, fno *FileInfo) fileResult {
	var dj dir
	dj.obj.fs = fsys
	fr := dj.follow_path(path)
	if fr != frOK {
		return fr
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		*fno = FileInfo{name: "/", attr: AttrDirectory}
		return frOK
	}
	if dj.blk_ofs != 0xffffffff {
		// lfnbuf holds the name as looked up; reload it as stored.
		if fr = dj.sdi(dj.blk_ofs); fr != frOK {
			return fr
		}
		if fr = dj.read(false); fr != frOK {
			return fr
		}
	}
	dj.get_fileinfo(fno)
	if fno.attr&AttrDirectory != 0 {
		n, fr := fsys.chainLength(fno.sclust)
		if fr != frOK {
			return fr
		}
		fno.size = int64(n) * int64(fsys.csize) * int64(fsys.ssize)
	}
	return frOK
}

// f_mkdir creates a directory with its dot entries.
func (fsys *FS) f_mkdir(path string) fileResult {
	var dj dir
	dj.obj.fs = fsys
	fr := dj.follow_path(path)
	if fr == frOK {
		return frExist
	}
	if fr != frNoFile {
		return fr
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	dcl, fr := fsys.allocateChain(1)
	if fr != frOK {
		return fr
	}
	tm := fsys.timestamp()
	if fr = fsys.dir_clear(dcl); fr == frOK {
		// The window holds the cleared first sector of the new directory.
		dot := fsys.win[:sizeDirEntry]
		for i := 0; i < 11; i++ {
			dot[i] = ' '
		}
		dot[0] = '.'
		dot[dirAttrOff] = byte(AttrDirectory)
		de := dirEntry{data: dot}
		de.setCreatedAt(tm)
		de.setModifiedAt(tm)
		fsys.st_clust(dot, dcl)
		dotdot := fsys.win[sizeDirEntry : 2*sizeDirEntry]
		copy(dotdot, dot)
		dotdot[1] = '.'
		pcl := dj.obj.sclust
		if fsys.fstype == fstypeFAT32 && pcl == uint32(fsys.dirbase) {
			pcl = 0
		}
		fsys.st_clust(dotdot, pcl)
		fsys.wflag = 1
		fr = dj.register()
	}
	if fr != frOK {
		fsys.remove_chain(dcl, 0)
		return fr
	}
	ent := dj.entry()
	de := dirEntry{data: ent}
	de.setCreatedAt(tm)
	de.setModifiedAt(tm)
	fsys.st_clust(ent, dcl)
	de.setAttributes(AttrDirectory)
	fsys.wflag = 1
	fsys.debug("f_mkdir", slog.String("path", path), slog.Uint64("clust", uint64(dcl)))
	return fsys.sync_fs()
}

// f_unlink removes a file or an empty directory.
func (fsys *FS) f_unlink(path string) fileResult {
	var dj dir
	dj.obj.fs = fsys
	fr := dj.follow_path(path)
	if fr != frOK {
		return fr
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName // Cannot remove the root directory.
	}
	if dj.obj.attr&AttrReadOnly != 0 {
		return frDenied
	}
	dclst := fsys.ld_clust(dj.entry())
	if dj.obj.attr&AttrDirectory != 0 {
		var sdj dir
		sdj.obj.fs = fsys
		sdj.obj.sclust = dclst
		if fr = sdj.sdi(0); fr != frOK {
			return fr
		}
		fr = sdj.read(false)
		if fr == frOK {
			return frDirNotEmpty
		}
		if fr != frNoFile {
			return fr
		}
	}
	sect, ofs := dj.sect, fsys.modSS(dj.dptr)
	if fr = dj.remove(); fr != frOK {
		return fr
	}
	if dclst != 0 {
		if fr = fsys.remove_chain(dclst, 0); fr != frOK {
			return fr
		}
	}
	fsys.detachOpen(sect, ofs)
	return fsys.sync_fs()
}

// f_rename renames or moves an object. Directories keep their ".." entry
// pointing at their parent.
func (fsys *FS) f_rename(oldpath, newpath string) fileResult {
	var djo, djn dir
	djo.obj.fs = fsys
	fr := djo.follow_path(oldpath)
	if fr != frOK {
		return fr
	}
	if djo.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	var buf [sizeDirEntry]byte
	copy(buf[:], djo.entry())
	osect, oofs := djo.sect, fsys.modSS(djo.dptr)
	isDir := Attr(buf[dirAttrOff])&AttrDirectory != 0
	dclst := fsys.ld_clust(buf[:])

	djn.obj.fs = fsys
	fr = djn.follow_path(newpath)
	if fr == frOK {
		if djn.obj.sclust == djo.obj.sclust && djn.dptr == djo.dptr {
			fr = frNoFile // Same object: the name changes case only.
		} else {
			fr = frExist
		}
	}
	if fr != frNoFile {
		return fr
	}
	if djn.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	if isDir && djo.obj.sclust != djn.obj.sclust {
		inside, fr := fsys.inSubtree(dclst, djn.obj.sclust)
		if fr != frOK {
			return fr
		}
		if inside {
			return frInvalidParameter
		}
	}
	if fr = djn.register(); fr != frOK {
		return fr
	}
	ent := djn.entry()
	copy(ent[13:], buf[13:]) // Copy everything but the name.
	ent[dirAttrOff] = buf[dirAttrOff]
	if !isDir {
		ent[dirAttrOff] |= byte(AttrArchive)
	}
	fsys.wflag = 1
	nsect, nofs := djn.sect, fsys.modSS(djn.dptr)
	if isDir && djo.obj.sclust != djn.obj.sclust {
		// Update the ".." entry of the moved directory.
		sect := fsys.clst2sect(dclst)
		if sect == 0 {
			return frIntErr
		}
		if fr = fsys.move_window(sect); fr != frOK {
			return fr
		}
		dotdot := fsys.win[sizeDirEntry : 2*sizeDirEntry]
		if dotdot[1] == '.' {
			fsys.st_clust(dotdot, djn.obj.sclust)
			fsys.wflag = 1
		}
	}
	if fr = djo.remove(); fr != frOK {
		return fr
	}
	fsys.moveOpen(osect, oofs, nsect, nofs)
	return fsys.sync_fs()
}

// inSubtree reports whether the directory starting at clst is the directory
// dirclst or lies below it.
func (fsys *FS) inSubtree(dirclst, clst uint32) (bool, fileResult) {
	for depth := uint32(0); clst != 0; depth++ {
		if clst == dirclst {
			return true, frOK
		}
		if fsys.fstype == fstypeFAT32 && clst == uint32(fsys.dirbase) {
			break
		}
		if depth >= fsys.n_fatent {
			return false, frChainLoop
		}
		sect := fsys.clst2sect(clst)
		if sect == 0 {
			return false, frIntErr
		}
		if fr := fsys.move_window(sect); fr != frOK {
			return false, fr
		}
		dotdot := fsys.win[sizeDirEntry : 2*sizeDirEntry]
		if dotdot[0] != '.' || dotdot[1] != '.' {
			return false, frIntErr
		}
		clst = fsys.ld_clust(dotdot)
	}
	return false, frOK
}

// f_chmod changes the attribute bits selected by mask.
func (fsys *FS) f_chmod(path string, attr, mask Attr) fileResult {
	var dj dir
	dj.obj.fs = fsys
	fr := dj.follow_path(path)
	if fr != frOK {
		return fr
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	mask &= attrSettable
	de := dirEntry{data: dj.entry()}
	de.setAttributes(attr&mask | de.attributes()&^mask)
	fsys.wflag = 1
	return fsys.sync_fs()
}

// f_utime sets the modification time of the object at path.
func (fsys *FS) f_utime(path string, mtime time.Time) fileResult {
	var dj dir
	dj.obj.fs = fsys
	fr := dj.follow_path(path)
	if fr != frOK {
		return fr
	}
	if dj.fn[nsFLAG]&nsNONAME != 0 {
		return frInvalidName
	}
	de := dirEntry{data: dj.entry()}
	de.setModifiedAt(newDatetime(mtime))
	fsys.wflag = 1
	return fsys.sync_fs()
}

// f_getlabel returns the volume label from the root directory, falling
// back to the boot sector copy.
func (fsys *FS) f_getlabel() (string, fileResult) {
	var dj dir
	dj.obj.fs = fsys
	if fr := dj.sdi(0); fr != frOK {
		return "", fr
	}
	raw := fsys.label
	switch fr := dj.read(true); fr {
	case frOK:
		copy(raw[:], dj.entry()[:11])
	case frNoFile:
		if string(raw[:]) == "NO NAME    " {
			return "", frOK
		}
	default:
		return "", fr
	}
	var sb strings.Builder
	for _, c := range clipname(raw[:]) {
		if c < 0x80 {
			sb.WriteByte(c)
		} else {
			sb.WriteRune(fsys.cp().DecodeByte(c))
		}
	}
	return sb.String(), frOK
}
