package fat

import (
	"log/slog"
)

// f_open opens or creates the file at path. mode is a combination of fa* flags.
func (fsys *FS) f_open(fp *File, path string, mode uint8) fileResult {
	mode &= faRead | faWrite | faCreateAlways | faCreateNew | faOpenAppend
	var dj dir
	dj.obj.fs = fsys
	fr := dj.follow_path(path)
	if fr == frOK && dj.fn[nsFLAG]&nsNONAME != 0 {
		fr = frDenied // The root directory cannot be opened as a file.
	}
	if mode&(faCreateAlways|faOpenAlways|faCreateNew) != 0 {
		if fr != frOK {
			if fr == frNoFile {
				fr = dj.register()
			}
			mode |= faCreateAlways // The new entry is initialized below.
		} else if dj.obj.attr&(AttrReadOnly|AttrDirectory) != 0 {
			fr = frDenied
		} else if mode&faCreateNew != 0 {
			fr = frExist
		}
		if fr == frOK && mode&faCreateAlways != 0 {
			tm := fsys.timestamp()
			ent := dj.entry()
			de := dirEntry{data: ent}
			de.setCreatedAt(tm)
			de.setModifiedAt(tm)
			de.setAttributes(AttrArchive)
			cl := fsys.ld_clust(ent)
			fsys.st_clust(ent, 0)
			de.setSize(0)
			fsys.wflag = 1
			if cl != 0 {
				// Release the chain of the truncated file.
				sc := fsys.winsect
				if fr = fsys.remove_chain(cl, 0); fr == frOK {
					fr = fsys.move_window(sc)
					fsys.last_clst = cl - 1 // Reuse the cluster hole.
				}
			}
		}
	} else if fr == frOK {
		if dj.obj.attr&AttrDirectory != 0 {
			fr = frDenied
		} else if mode&faWrite != 0 && dj.obj.attr&AttrReadOnly != 0 {
			fr = frDenied
		}
	}
	if fr != frOK {
		return fr
	}
	if mode&faCreateAlways != 0 {
		mode |= faModified
	}
	ent := dj.entry()
	de := dirEntry{data: ent}
	*fp = File{
		obj: objid{
			fs:      fsys,
			id:      fsys.id,
			attr:    de.attributes(),
			objsize: int64(de.size()),
			sclust:  fsys.ld_clust(ent),
		},
		flag:     mode,
		dir_sect: fsys.winsect,
		dir_ofs:  fsys.modSS(dj.dptr),
		name:     fp.name,
		buf:      fp.buf,
	}
	if len(fp.buf) != int(fsys.ssize) {
		fp.buf = make([]byte, fsys.ssize)
	}
	if fsys.open == nil {
		fsys.open = make(map[*File]struct{})
	}
	fsys.open[fp] = struct{}{}
	if mode&faSeekEnd != 0 && fp.obj.objsize > 0 {
		if fr = fp.lseek(fp.obj.objsize); fr != frOK {
			delete(fsys.open, fp)
			return fr
		}
	}
	fsys.debug("f_open", slog.String("path", path), slog.Uint64("sclust", uint64(fp.obj.sclust)), slog.Int64("size", fp.obj.objsize))
	return frOK
}

// abort records fr as the sticky error of the file.
func (fp *File) abort(fr fileResult) fileResult {
	fp.err = fr
	return fr
}

// flush writes the private sector buffer back if dirty.
func (fp *File) flush() fileResult {
	if fp.flag&faDirty == 0 {
		return frOK
	}
	if dr := fp.obj.fs.disk_write(fp.buf, fp.sect, 1); dr != drOK {
		return fp.abort(dr.fr())
	}
	fp.flag &^= faDirty
	return frOK
}

// f_read reads from the current position. It returns 0 bytes at the end of
// file and while the position lies beyond it.
func (fp *File) f_read(buff []byte) (int, fileResult) {
	fsys := fp.obj.fs
	if fp.err != frOK {
		return 0, fp.err
	}
	if fp.flag&faRead == 0 {
		return 0, frDenied
	}
	if fp.gap > 0 {
		return 0, frOK
	}
	remain := fp.obj.objsize - fp.fptr
	if int64(len(buff)) > remain {
		buff = buff[:remain]
	}
	ss := int64(fsys.ssize)
	csize := uint32(fsys.csize)
	br := 0
	for len(buff) > 0 {
		var rcnt int
		if fsys.blk.off(fp.fptr) == 0 {
			// Sector boundary.
			csect := uint32(fsys.blk.idx(fp.fptr)) & (csize - 1)
			if csect == 0 {
				// Cluster boundary.
				clst := fp.obj.sclust
				if fp.fptr != 0 {
					var fr fileResult
					clst, fr = fsys.get_fat(fp.clust)
					if fr != frOK {
						return br, fp.abort(fr)
					}
				}
				if clst < 2 || clst >= fsys.n_fatent {
					fsys.logerror("f_read:chain", slog.Uint64("clust", uint64(fp.clust)), slog.Int64("fptr", fp.fptr))
					return br, fp.abort(frIntErr)
				}
				fp.clust = clst
			}
			sect := fsys.clusterToSector(fp.clust, csect*uint32(ss))
			if sect == 0 {
				return br, fp.abort(frIntErr)
			}
			cc := uint32(int64(len(buff)) / ss)
			if cc > 0 {
				// Read whole sectors straight into the destination.
				if csect+cc > csize {
					cc = csize - csect
				}
				if dr := fsys.disk_read(buff, sect, int(cc)); dr != drOK {
					return br, fp.abort(dr.fr())
				}
				if fp.flag&faDirty != 0 && fp.sect-sect < lba(cc) {
					// Replace the stale copy with the buffered sector.
					copy(buff[int64(fp.sect-sect)*ss:], fp.buf)
				}
				rcnt = int(cc) * int(ss)
			} else {
				if fp.sect != sect {
					if fr := fp.flush(); fr != frOK {
						return br, fr
					}
					if dr := fsys.disk_read(fp.buf, sect, 1); dr != drOK {
						return br, fp.abort(dr.fr())
					}
				}
				fp.sect = sect
			}
		}
		if rcnt == 0 {
			off := fsys.blk.off(fp.fptr)
			rcnt = copy(buff, fp.buf[off:])
		}
		buff = buff[rcnt:]
		fp.fptr += int64(rcnt)
		br += rcnt
	}
	return br, frOK
}

// f_write writes at the current position, zero filling any gap between the
// end of file and the position first. A full volume results in a short
// write and frDiskFull.
func (fp *File) f_write(buff []byte) (int, fileResult) {
	if fp.err != frOK {
		return 0, fp.err
	}
	if fp.flag&faWrite == 0 {
		return 0, frDenied
	}
	if fr := fp.fill_gap(); fr != frOK {
		return 0, fr
	}
	return fp.write_data(buff)
}

func (fp *File) write_data(buff []byte) (int, fileResult) {
	fsys := fp.obj.fs
	if room := maxFileSize - fp.fptr; int64(len(buff)) > room {
		buff = buff[:room] // File size cannot reach 4GiB.
	}
	ss := int64(fsys.ssize)
	csize := uint32(fsys.csize)
	bw := 0
	fr := frOK
	for len(buff) > 0 {
		var wcnt int
		if fsys.blk.off(fp.fptr) == 0 {
			csect := uint32(fsys.blk.idx(fp.fptr)) & (csize - 1)
			if csect == 0 {
				var clst uint32
				var cfr fileResult
				if fp.fptr == 0 {
					clst = fp.obj.sclust
					if clst == 0 {
						clst, cfr = fsys.allocateChain(1) // Create a new chain.
					}
				} else {
					clst, cfr = fp.nextCluster()
				}
				if cfr == frDiskFull {
					fr = frDiskFull
					break
				}
				if cfr != frOK {
					return bw, fp.abort(cfr)
				}
				fp.clust = clst
				if fp.obj.sclust == 0 {
					fp.obj.sclust = clst // First cluster of a new file.
					fp.flag |= faModified
				}
			}
			if rfr := fp.flush(); rfr != frOK {
				return bw, rfr
			}
			sect := fsys.clusterToSector(fp.clust, csect*uint32(ss))
			if sect == 0 {
				return bw, fp.abort(frIntErr)
			}
			cc := uint32(int64(len(buff)) / ss)
			if cc > 0 {
				if csect+cc > csize {
					cc = csize - csect
				}
				if dr := fsys.disk_write(buff, sect, int(cc)); dr != drOK {
					return bw, fp.abort(dr.fr())
				}
				if fp.sect-sect < lba(cc) {
					// Refill the buffer with the sector just written.
					copy(fp.buf, buff[int64(fp.sect-sect)*ss:])
					fp.flag &^= faDirty
				}
				wcnt = int(cc) * int(ss)
			} else {
				if fp.sect != sect && fp.fptr < fp.obj.objsize {
					// Partial sector write inside the file.
					if dr := fsys.disk_read(fp.buf, sect, 1); dr != drOK {
						return bw, fp.abort(dr.fr())
					}
				}
				fp.sect = sect
			}
		}
		if wcnt == 0 {
			off := fsys.blk.off(fp.fptr)
			wcnt = copy(fp.buf[off:], buff)
			fp.flag |= faDirty
		}
		buff = buff[wcnt:]
		fp.fptr += int64(wcnt)
		bw += wcnt
		fp.flag |= faModified
		if fp.fptr > fp.obj.objsize {
			fp.obj.objsize = fp.fptr
		}
	}
	return bw, fr
}

// nextCluster returns the cluster following fp.clust, appending one to the
// chain when fp.clust is its last cluster.
func (fp *File) nextCluster() (uint32, fileResult) {
	fsys := fp.obj.fs
	clst, fr := fsys.get_fat(fp.clust)
	switch {
	case fr != frOK:
		return 0, fr
	case clst < 2:
		return 0, frIntErr
	case clst >= fsys.n_fatent:
		return fsys.extendChain(fp.clust, 1)
	}
	return clst, frOK
}

// fill_gap zero fills the region between the end of file and the logical
// position, leaving the file pointer at the logical position.
func (fp *File) fill_gap() fileResult {
	var zeros [minSS]byte
	for fp.gap > 0 {
		n := int(min(fp.gap, int64(len(zeros))))
		w, fr := fp.write_data(zeros[:n])
		fp.gap -= int64(w)
		if fr != frOK {
			return fr
		}
		if w < n {
			return frDiskFull
		}
	}
	return frOK
}

// lseek moves the file pointer to ofs, which must not exceed the file size.
func (fp *File) lseek(ofs int64) fileResult {
	fsys := fp.obj.fs
	if fp.err != frOK {
		return fp.err
	}
	if ofs > fp.obj.objsize {
		ofs = fp.obj.objsize
	}
	ifptr := fp.fptr
	fp.fptr = 0
	var nsect lba
	if ofs > 0 {
		bcs := int64(fsys.csize) * int64(fsys.ssize)
		var clst uint32
		if ifptr > 0 && (ofs-1)/bcs >= (ifptr-1)/bcs {
			// Seek forward from the current cluster.
			fp.fptr = (ifptr - 1) &^ (bcs - 1)
			ofs -= fp.fptr
			clst = fp.clust
		} else {
			clst = fp.obj.sclust
			fp.clust = clst
		}
		if clst != 0 {
			for ofs > bcs {
				ofs -= bcs
				fp.fptr += bcs
				var fr fileResult
				clst, fr = fsys.get_fat(clst)
				if fr != frOK {
					return fp.abort(fr)
				}
				if clst < 2 || clst >= fsys.n_fatent {
					fsys.logerror("lseek:chain", slog.Uint64("clust", uint64(fp.clust)), slog.Int64("fptr", fp.fptr))
					return fp.abort(frIntErr)
				}
				fp.clust = clst
			}
			fp.fptr += ofs
			if fsys.blk.off(ofs) != 0 {
				nsect = fsys.clusterToSector(clst, uint32(ofs))
				if nsect == 0 {
					return fp.abort(frIntErr)
				}
			}
		}
	}
	if fsys.blk.off(fp.fptr) != 0 && nsect != fp.sect {
		// Load the sector holding the new position.
		if fr := fp.flush(); fr != frOK {
			return fr
		}
		if dr := fsys.disk_read(fp.buf, nsect, 1); dr != drOK {
			return fp.abort(dr.fr())
		}
		fp.sect = nsect
	}
	return frOK
}

// seek sets the logical position. Positions beyond the end of file leave
// the file pointer at the end and record the distance as a gap.
func (fp *File) seek(pos int64) fileResult {
	if pos > fp.obj.objsize {
		if fr := fp.lseek(fp.obj.objsize); fr != frOK {
			return fr
		}
		fp.gap = pos - fp.obj.objsize
		return frOK
	}
	fp.gap = 0
	return fp.lseek(pos)
}

// f_truncate cuts the file at the file pointer, freeing the clusters past it.
func (fp *File) f_truncate() fileResult {
	fsys := fp.obj.fs
	if fp.err != frOK {
		return fp.err
	}
	if fp.flag&faWrite == 0 {
		return frDenied
	}
	if fp.fptr >= fp.obj.objsize {
		return frOK
	}
	fr := frOK
	if fp.fptr == 0 {
		fr = fsys.remove_chain(fp.obj.sclust, 0)
		fp.obj.sclust = 0
	} else {
		ncl, gfr := fsys.get_fat(fp.clust)
		fr = gfr
		if fr == frOK && ncl < 2 {
			fr = frIntErr
		}
		if fr == frOK && ncl < fsys.n_fatent {
			fr = fsys.remove_chain(ncl, fp.clust)
		}
	}
	fp.obj.objsize = fp.fptr
	fp.flag |= faModified
	if fr == frOK {
		fr = fp.flush()
	}
	if fr != frOK {
		return fp.abort(fr)
	}
	return frOK
}

// truncate changes the file size. Growing zero fills the new region. The
// logical position is left unchanged.
func (fp *File) truncate(size int64) fileResult {
	if size < 0 || size > maxFileSize {
		return frInvalidParameter
	}
	pos := fp.fptr + fp.gap
	switch {
	case size < fp.obj.objsize:
		fp.gap = 0
		if fr := fp.lseek(size); fr != frOK {
			return fr
		}
		if fr := fp.f_truncate(); fr != frOK {
			return fr
		}
	case size > fp.obj.objsize:
		if fp.flag&faWrite == 0 {
			return frDenied
		}
		if fr := fp.seek(size); fr != frOK {
			return fr
		}
		if fr := fp.fill_gap(); fr != frOK {
			return fr
		}
	}
	return fp.seek(pos)
}

// f_sync writes buffered data and the directory entry of the file back.
func (fp *File) f_sync() fileResult {
	fsys := fp.obj.fs
	if fp.flag&faModified == 0 {
		return frOK
	}
	// A failed flush still records the size and chain in the entry.
	ffr := fp.flush()
	if !fp.detached {
		if fr := fsys.move_window(fp.dir_sect); fr != frOK {
			return fr
		}
		ent := fsys.win[fp.dir_ofs : fp.dir_ofs+sizeDirEntry]
		de := dirEntry{data: ent}
		de.setAttributes(de.attributes() | AttrArchive)
		fsys.st_clust(ent, fp.obj.sclust)
		de.setSize(uint32(fp.obj.objsize))
		de.setModifiedAt(fsys.timestamp())
		fsys.wflag = 1
	}
	if fr := fsys.sync_fs(); fr != frOK {
		return fr
	}
	if ffr != frOK {
		return ffr
	}
	fp.flag &^= faModified
	return frOK
}

// commit syncs the file and returns its sticky error if it has one.
func (fp *File) commit() fileResult {
	fr := fp.f_sync()
	if fp.err != frOK {
		return fp.err
	}
	return fr
}

// f_close flushes the file and invalidates the handle. The handle is
// released even if flushing fails.
func (fp *File) f_close() fileResult {
	fsys := fp.obj.fs
	fr := fp.commit()
	delete(fsys.open, fp)
	fp.obj.fs = nil
	return fr
}

// detachOpen marks open files whose directory entry is at sect and ofs as
// detached from the directory.
func (fsys *FS) detachOpen(sect lba, ofs uint32) {
	for fp := range fsys.open {
		if fp.dir_sect == sect && fp.dir_ofs == ofs {
			fp.detached = true
			fsys.debug("detachOpen", slog.String("name", fp.name))
		}
	}
}

// moveOpen points open files at a relocated directory entry.
func (fsys *FS) moveOpen(osect lba, oofs uint32, nsect lba, nofs uint32) {
	for fp := range fsys.open {
		if !fp.detached && fp.dir_sect == osect && fp.dir_ofs == oofs {
			fp.dir_sect, fp.dir_ofs = nsect, nofs
		}
	}
}
