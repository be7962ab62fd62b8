package fat

import "log/slog"

// create_chain stretches the chain ending at clst by one cluster, or
// starts a new chain when clst is 0. If clst already has a successor the
// successor is returned and nothing is allocated.
func (fsys *FS) create_chain(clst uint32) (uint32, fileResult) {
	var scl uint32
	if clst == 0 {
		// Start from the allocation cursor.
		scl = fsys.last_clst
		if scl == 0 || scl >= fsys.n_fatent {
			scl = 1
		}
	} else {
		cs, fr := fsys.get_fat(clst)
		if fr != frOK {
			return 0, fr
		}
		if cs < 2 {
			return 0, frIntErr
		}
		if cs < fsys.n_fatent {
			return cs, frOK // Already followed by a cluster.
		}
		scl = clst
	}
	if fsys.free_clst == 0 {
		return 0, frDiskFull
	}

	var ncl uint32
	if scl == clst {
		// Stretching a chain: try the contiguous cluster first.
		ncl = scl + 1
		if ncl >= fsys.n_fatent {
			ncl = 2
		}
		cs, fr := fsys.get_fat(ncl)
		if fr != frOK {
			return 0, fr
		}
		if cs != 0 {
			cs = fsys.last_clst
			if cs >= 2 && cs < fsys.n_fatent {
				scl = cs
			}
			ncl = 0
		}
	}
	if ncl == 0 {
		ncl = scl
		for {
			ncl++
			if ncl >= fsys.n_fatent {
				ncl = 2
				if ncl > scl {
					return 0, frDiskFull
				}
			}
			cs, fr := fsys.get_fat(ncl)
			if fr != frOK {
				return 0, fr
			}
			if cs == 0 {
				break
			}
			if ncl == scl {
				return 0, frDiskFull
			}
		}
	}

	fr := fsys.put_fat(ncl, fsys.eoc())
	if fr == frOK && clst != 0 {
		fr = fsys.put_fat(clst, ncl)
	}
	if fr != frOK {
		return 0, fr
	}
	fsys.last_clst = ncl
	if fsys.free_clst <= fsys.n_fatent-2 {
		fsys.free_clst--
	}
	fsys.fsi_flag |= 1
	return ncl, frOK
}

// allocateChain allocates a new chain of n clusters and returns its first
// cluster. Free space is checked up front so a failed allocation leaves the
// FAT untouched.
func (fsys *FS) allocateChain(n uint32) (uint32, fileResult) {
	if n == 0 {
		return 0, frInvalidParameter
	}
	nfree, fr := fsys.getfree()
	if fr != frOK {
		return 0, fr
	}
	if n > nfree {
		return 0, frDiskFull
	}
	var first, last uint32
	for i := uint32(0); i < n; i++ {
		ncl, fr := fsys.create_chain(last)
		if fr != frOK {
			if first != 0 {
				fsys.remove_chain(first, 0)
			}
			return 0, fr
		}
		if first == 0 {
			first = ncl
		}
		last = ncl
	}
	return first, frOK
}

// extendChain appends n clusters to the chain whose last cluster is last.
// It returns the last cluster of the extended chain.
func (fsys *FS) extendChain(last, n uint32) (uint32, fileResult) {
	nxt, fr := fsys.get_fat(last)
	if fr != frOK {
		return 0, fr
	}
	if nxt == 0 || nxt < fsys.n_fatent {
		return 0, frInvalidParameter // Not the end of a chain.
	}
	nfree, fr := fsys.getfree()
	if fr != frOK {
		return 0, fr
	}
	if n > nfree {
		return 0, frDiskFull
	}
	var added uint32
	tail := last
	for i := uint32(0); i < n; i++ {
		ncl, fr := fsys.create_chain(tail)
		if fr != frOK {
			if added != 0 {
				fsys.remove_chain(added, last)
			}
			return 0, fr
		}
		if added == 0 {
			added = ncl
		}
		tail = ncl
	}
	return tail, frOK
}

// remove_chain frees the chain starting at clst. If pclst is not zero it is
// the previous cluster of the chain and becomes its new end.
func (fsys *FS) remove_chain(clst, pclst uint32) fileResult {
	if clst < 2 || clst >= fsys.n_fatent {
		return frIntErr
	}
	if pclst != 0 {
		if fr := fsys.put_fat(pclst, fsys.eoc()); fr != frOK {
			return fr
		}
	}
	scl, ecl := clst, clst
	limit := fsys.n_fatent - 2
	for steps := uint32(0); ; steps++ {
		if steps >= limit {
			fsys.logerror("remove_chain:loop", slog.Uint64("clst", uint64(clst)))
			return frChainLoop
		}
		nxt, fr := fsys.get_fat(clst)
		if fr != frOK {
			return fr
		}
		if nxt == 0 {
			if steps == 0 {
				break // Already free.
			}
			fsys.logerror("remove_chain:free-link", slog.Uint64("clst", uint64(clst)))
			fsys.trim(scl, ecl)
			return frChainLoop
		}
		if nxt == 1 {
			return frIntErr
		}
		if fr = fsys.put_fat(clst, 0); fr != frOK {
			return fr
		}
		if fsys.free_clst < fsys.n_fatent-2 {
			fsys.free_clst++
			fsys.fsi_flag |= 1
		}
		if ecl+1 == nxt {
			ecl = nxt
		} else {
			fsys.trim(scl, ecl)
			scl, ecl = nxt, nxt
		}
		clst = nxt
		if clst >= fsys.n_fatent {
			break
		}
	}
	return frOK
}

// chainLength counts the clusters of the chain starting at clst.
func (fsys *FS) chainLength(clst uint32) (uint32, fileResult) {
	if clst == 0 {
		return 0, frOK
	}
	limit := fsys.n_fatent - 2
	var n uint32
	for clst < fsys.n_fatent {
		if clst < 2 {
			return n, frIntErr
		}
		n++
		if n > limit {
			return n, frChainLoop
		}
		nxt, fr := fsys.get_fat(clst)
		if fr != frOK {
			return n, fr
		}
		if nxt == 0 {
			return n, frChainLoop
		}
		clst = nxt
	}
	return n, frOK
}

// clusterToSector returns the sector holding the byte at offset within
// the cluster, or 0 for an invalid cluster.
func (fsys *FS) clusterToSector(clst, offset uint32) lba {
	sect := fsys.clst2sect(clst)
	if sect == 0 {
		return 0
	}
	return sect + lba(fsys.divSS(offset))
}
