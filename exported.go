package fat

import (
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/text/encoding/charmap"
)

// Mode represents the file access mode used in Open.
type Mode uint8

// File access modes for calling Open.
const (
	ModeRead  Mode = Mode(faRead)
	ModeWrite Mode = Mode(faWrite)
	ModeRW    Mode = ModeRead | ModeWrite

	ModeOpenExisting Mode = Mode(faOpenExisting)
	// ModeCreateNew creates a new file and fails if it exists.
	ModeCreateNew Mode = Mode(faCreateNew)
	// ModeCreateAlways creates a new file, truncating an existing one.
	ModeCreateAlways Mode = Mode(faCreateAlways)
	// ModeOpenAlways opens the file, creating it if missing.
	ModeOpenAlways Mode = Mode(faOpenAlways)
	// ModeOpenAppend is ModeOpenAlways with the position set to the end of file.
	ModeOpenAppend Mode = Mode(faOpenAppend)

	allowedModes = ModeRead | ModeWrite | ModeCreateNew | ModeCreateAlways | ModeOpenAlways | ModeOpenAppend
	createModes  = ModeCreateNew | ModeCreateAlways | ModeOpenAlways
)

// Dir represents an open FAT directory.
type Dir struct {
	dir
	inlineInfo FileInfo
}

// FileInfo describes a directory entry. It implements [fs.FileInfo].
type FileInfo struct {
	name    string
	altname string
	size    int64
	attr    Attr
	modtime time.Time
	crttime time.Time
	acctime time.Time
	sclust  uint32
}

// VolumeStat holds the space usage of a mounted volume.
type VolumeStat struct {
	TotalClusters uint32
	FreeClusters  uint32
	ClusterSize   uint32 // In bytes.
	SectorSize    uint16
}

// TotalBytes returns the size of the data region in bytes.
func (vs VolumeStat) TotalBytes() int64 { return int64(vs.TotalClusters) * int64(vs.ClusterSize) }

// FreeBytes returns the free space in bytes.
func (vs VolumeStat) FreeBytes() int64 { return int64(vs.FreeClusters) * int64(vs.ClusterSize) }

// Mount mounts the FAT volume found on the block device, looking for it in
// the boot sector and then in the MBR or GPT partition tables.
// Mode should be ModeRead, ModeWrite, or both.
func (fsys *FS) Mount(bd BlockDevice, mode Mode) error {
	return fsys.MountPartition(bd, 0, mode)
}

// MountPartition mounts the FAT volume in the part'th partition of the
// block device, counting from 1. Partition 0 selects the first FAT volume found.
func (fsys *FS) MountPartition(bd BlockDevice, part int, mode Mode) error {
	if mode&^ModeRW != 0 || mode == 0 || part < 0 || bd == nil {
		return frInvalidParameter
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if fsys.fstype != fstypeUnknown {
		return frAlreadyMounted
	}
	fr := fsys.mount_volume(bd, part, mode)
	if fr != frOK {
		fsys.warn("mount:fail", slog.String("err", fr.Error()))
		fsys.device = nil
	}
	return fr.err()
}

// Unmount flushes every open file and the volume state, then detaches the
// volume from its device. Open files and directories become invalid. The
// volume is unmounted even if flushing fails.
func (fsys *FS) Unmount() error {
	if fr := fsys.lockMounted(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	var err error
	for fp := range fsys.open {
		err = multierr.Append(err, fp.commit().err())
	}
	if fsys.perm&ModeWrite != 0 {
		err = multierr.Append(err, fsys.sync_fs().err())
	}
	fsys.open = nil
	fsys.fstype = fstypeUnknown
	fsys.id++
	fsys.device = nil
	fsys.invalidate_window()
	fsys.info("unmount", slog.Bool("clean", err == nil))
	return err
}

// OpenFile opens the named file for reading or writing, depending on the mode.
// Paths are rooted at the volume root. Both '/' and '\\' separate path
// elements and "." and ".." elements are not allowed.
func (fsys *FS) OpenFile(fp *File, path string, mode Mode) error {
	if mode&^allowedModes != 0 || mode&ModeRW == 0 || fp == nil {
		return frInvalidParameter
	}
	var fr fileResult
	if mode&(ModeWrite|createModes) != 0 {
		fr = fsys.lockWritable()
	} else {
		fr = fsys.lockMounted()
	}
	if fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	if mode&ModeRead != 0 && fsys.perm&ModeRead == 0 {
		return frDenied
	}
	fp.name = baseName(path)
	return fsys.f_open(fp, path, uint8(mode)).err()
}

// Read reads up to len(buf) bytes from the File. It implements the [io.Reader] interface.
func (fp *File) Read(buf []byte) (int, error) {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return 0, fr
	}
	defer fsys.mu.Unlock()
	br, fr := fp.f_read(buf)
	if fr != frOK {
		return br, fr
	} else if br == 0 && len(buf) > 0 {
		return 0, io.EOF
	}
	return br, nil
}

// Write writes len(buf) bytes to the File. It implements the [io.Writer] interface.
// Writing at a position beyond the end of file zero fills the gap.
func (fp *File) Write(buf []byte) (int, error) {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return 0, fr
	}
	defer fsys.mu.Unlock()
	bw, fr := fp.f_write(buf)
	if fr != frOK {
		return bw, fr
	}
	if bw < len(buf) {
		return bw, frDiskFull // Hit the 4GiB file size limit.
	}
	return bw, nil
}

// WriteString is like Write but writes the contents of string s.
func (fp *File) WriteString(s string) (int, error) {
	return fp.Write([]byte(s))
}

// Seek sets the position for the next Read or Write. It implements the
// [io.Seeker] interface. Positions past the end of file are allowed.
func (fp *File) Seek(offset int64, whence int) (int64, error) {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return 0, fr
	}
	defer fsys.mu.Unlock()
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = fp.fptr + fp.gap + offset
	case io.SeekEnd:
		pos = fp.obj.objsize + offset
	default:
		return fp.fptr + fp.gap, frInvalidParameter
	}
	if pos < 0 || pos > maxFileSize {
		return fp.fptr + fp.gap, frInvalidParameter
	}
	if fr = fp.seek(pos); fr != frOK {
		return fp.fptr + fp.gap, fr
	}
	return pos, nil
}

// Truncate changes the size of the file. Growing the file fills the new
// region with zeros. The file position is not changed.
func (fp *File) Truncate(size int64) error {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	if fp.flag&faWrite == 0 {
		return frDenied
	}
	return fp.truncate(size).err()
}

// Close closes the file and syncs any unwritten data to the underlying device.
func (fp *File) Close() error {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fp.f_close().err()
}

// Sync commits the current contents of the file to the filesystem immediately.
func (fp *File) Sync() error {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fp.commit().err()
}

// Size returns the current size of the file in bytes.
func (fp *File) Size() int64 {
	if fsys, fr := fp.obj.lock(); fr == frOK {
		defer fsys.mu.Unlock()
	}
	return fp.obj.objsize
}

// Mode returns the lowest 2 bits of the file's permission (read, write or both).
func (fp *File) Mode() Mode {
	return Mode(fp.flag & 3)
}

// Name returns the base name of the file as given to OpenFile.
func (fp *File) Name() string {
	return fp.name
}

// Stat returns the file's information, including unsynced size changes.
func (fp *File) Stat() (*FileInfo, error) {
	fsys, fr := fp.obj.lock()
	if fr != frOK {
		return nil, fr
	}
	defer fsys.mu.Unlock()
	fi := &FileInfo{
		name: fp.name,
		size: fp.obj.objsize,
		attr: fp.obj.attr,
	}
	if !fp.detached {
		if fr = fsys.move_window(fp.dir_sect); fr != frOK {
			return nil, fr
		}
		de := dirEntry{data: fsys.win[fp.dir_ofs : fp.dir_ofs+sizeDirEntry]}
		fi.attr = de.attributes() & attrMask
		fi.modtime = de.modifiedAt().Time()
		fi.crttime = de.createdAt().Time()
		fi.acctime = de.accessedAt().Time()
		fi.altname = fsys.sfnString(de.data, false)
	}
	fi.sclust = fp.obj.sclust
	return fi, nil
}

// OpenDir opens the named directory for reading.
func (fsys *FS) OpenDir(dp *Dir, path string) error {
	if fr := fsys.lockMounted(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	if fsys.perm&ModeRead == 0 {
		return frDenied
	}
	return fsys.f_opendir(&dp.dir, path).err()
}

// Next returns the next entry of the directory, or io.EOF when all entries
// have been read.
func (dp *Dir) Next() (*FileInfo, error) {
	fsys, fr := dp.obj.lock()
	if fr != frOK {
		return nil, fr
	}
	defer fsys.mu.Unlock()
	fi := new(FileInfo)
	if fr = dp.f_readdir(fi); fr != frOK {
		return nil, fr
	}
	if fi.name == "" {
		return nil, io.EOF
	}
	return fi, nil
}

// Rewind resets the read position to the first entry.
func (dp *Dir) Rewind() error {
	fsys, fr := dp.obj.lock()
	if fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return dp.sdi(0).err()
}

// Tell returns the current position within the directory. The value can be
// passed to SeekEntry to resume the enumeration.
func (dp *Dir) Tell() int64 {
	if fsys, fr := dp.obj.lock(); fr == frOK {
		defer fsys.mu.Unlock()
	}
	if dp.sect == 0 {
		return -1 // End of directory.
	}
	return int64(dp.dptr)
}

// SeekEntry restores a position returned by Tell.
func (dp *Dir) SeekEntry(pos int64) error {
	fsys, fr := dp.obj.lock()
	if fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	if pos == -1 {
		dp.sect = 0
		return nil
	}
	if pos < 0 || pos >= maxDIR || pos%sizeDirEntry != 0 {
		return frInvalidParameter
	}
	return dp.sdi(uint32(pos)).err()
}

// ForEachFile calls the callback function for each file in the directory.
// The volume is not locked while the callback runs, so it may use the
// filesystem, including modifying the directory being listed.
func (dp *Dir) ForEachFile(callback func(*FileInfo) error) error {
	fsys, fr := dp.obj.lock()
	if fr != frOK {
		return fr
	}
	fr = dp.sdi(0) // Rewind directory.
	fsys.mu.Unlock()
	if fr != frOK {
		return fr
	}
	for {
		fsys, fr = dp.obj.lock()
		if fr != frOK {
			return fr
		}
		fr = dp.f_readdir(&dp.inlineInfo)
		fsys.mu.Unlock()
		if fr != frOK {
			return fr
		} else if dp.inlineInfo.name == "" {
			return nil // End of directory.
		}
		err := callback(&dp.inlineInfo)
		if err != nil {
			return err
		}
	}
}

// Close invalidates the directory handle.
func (dp *Dir) Close() error {
	fsys, fr := dp.obj.lock()
	if fr != frOK {
		return fr
	}
	dp.obj.fs = nil
	fsys.mu.Unlock()
	return nil
}

// Mkdir creates a new directory.
func (fsys *FS) Mkdir(path string) error {
	if fr := fsys.lockWritable(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fsys.f_mkdir(path).err()
}

// Remove removes a file or an empty directory. Open handles of a removed
// file stay usable but no longer update any directory entry, and the
// clusters they reference may be reused.
func (fsys *FS) Remove(path string) error {
	if fr := fsys.lockWritable(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fsys.f_unlink(path).err()
}

// Rename renames or moves a file or directory. The destination must not exist.
func (fsys *FS) Rename(oldpath, newpath string) error {
	if fr := fsys.lockWritable(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fsys.f_rename(oldpath, newpath).err()
}

// Stat returns information on the named file or directory. The size of a
// directory is the size of its cluster chain.
func (fsys *FS) Stat(path string) (*FileInfo, error) {
	if fr := fsys.lockMounted(); fr != frOK {
		return nil, fr
	}
	defer fsys.mu.Unlock()
	fi := new(FileInfo)
	if fr := fsys.f_stat(path, fi); fr != frOK {
		return nil, fr
	}
	return fi, nil
}

// Chmod changes the attribute bits of path selected by mask. Only the
// read-only, hidden, system and archive bits can be changed.
func (fsys *FS) Chmod(path string, attr, mask Attr) error {
	if fr := fsys.lockWritable(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fsys.f_chmod(path, attr, mask).err()
}

// Chtimes sets the modification time of path.
func (fsys *FS) Chtimes(path string, mtime time.Time) error {
	if fr := fsys.lockWritable(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	return fsys.f_utime(path, mtime).err()
}

// Sync flushes every open file and the volume metadata to the device.
func (fsys *FS) Sync() error {
	if fr := fsys.lockMounted(); fr != frOK {
		return fr
	}
	defer fsys.mu.Unlock()
	if fsys.perm&ModeWrite == 0 {
		return nil
	}
	var err error
	for fp := range fsys.open {
		err = multierr.Append(err, fp.commit().err())
	}
	return multierr.Append(err, fsys.sync_fs().err())
}

// StatVolume returns the cluster usage of the volume. The first call after
// mount may scan the whole FAT.
func (fsys *FS) StatVolume() (VolumeStat, error) {
	if fr := fsys.lockMounted(); fr != frOK {
		return VolumeStat{}, fr
	}
	defer fsys.mu.Unlock()
	nfree, fr := fsys.getfree()
	if fr != frOK {
		return VolumeStat{}, fr
	}
	return VolumeStat{
		TotalClusters: fsys.n_fatent - 2,
		FreeClusters:  nfree,
		ClusterSize:   uint32(fsys.csize) * uint32(fsys.ssize),
		SectorSize:    fsys.ssize,
	}, nil
}

// Geometry returns the layout of the mounted volume.
func (fsys *FS) Geometry() (Geometry, error) {
	if fr := fsys.lockMounted(); fr != frOK {
		return Geometry{}, fr
	}
	defer fsys.mu.Unlock()
	return fsys.geometry(), nil
}

// Label returns the volume label, or an empty string if the volume has none.
func (fsys *FS) Label() (string, error) {
	if fr := fsys.lockMounted(); fr != frOK {
		return "", fr
	}
	defer fsys.mu.Unlock()
	label, fr := fsys.f_getlabel()
	return label, fr.err()
}

// BootRecord returns a human readable dump of the volume boot record.
func (fsys *FS) BootRecord() (string, error) {
	if fr := fsys.lockMounted(); fr != frOK {
		return "", fr
	}
	defer fsys.mu.Unlock()
	if fr := fsys.move_window(fsys.volbase); fr != frOK {
		return "", fr
	}
	bp := decodeBootParams(fsys.win)
	return bp.String(), nil
}

// SetLogger sets the logger used for diagnostics. A nil logger disables logging.
func (fsys *FS) SetLogger(log *slog.Logger) {
	fsys.mu.Lock()
	fsys.log = log
	fsys.mu.Unlock()
}

// SetClock sets the time source for directory entry timestamps. A nil
// function selects time.Now.
func (fsys *FS) SetClock(now func() time.Time) {
	fsys.mu.Lock()
	fsys.now = now
	fsys.mu.Unlock()
}

// SetCodePage sets the OEM code page of short names. Nil selects code page 437.
func (fsys *FS) SetCodePage(cp *charmap.Charmap) {
	fsys.mu.Lock()
	fsys.codepage = cp
	fsys.mu.Unlock()
}

// AlternateName returns the short 8.3 name of an entry that has a long name.
func (finfo *FileInfo) AlternateName() string {
	return finfo.altname
}

// Name returns the name of the file.
func (finfo *FileInfo) Name() string {
	return finfo.name
}

// Size returns the size of the file in bytes.
func (finfo *FileInfo) Size() int64 {
	return finfo.size
}

// Attributes returns the FAT attribute bits of the entry.
func (finfo *FileInfo) Attributes() Attr {
	return finfo.attr
}

// Mode maps the attributes to file mode bits. Read-only entries lose their write bits.
func (finfo *FileInfo) Mode() fs.FileMode {
	mode := fs.FileMode(0o666)
	if finfo.attr&AttrReadOnly != 0 {
		mode = 0o444
	}
	if finfo.IsDir() {
		mode |= fs.ModeDir | 0o111
	}
	return mode
}

// ModTime returns the modification time of the file.
func (finfo *FileInfo) ModTime() time.Time {
	return finfo.modtime
}

// CreatedAt returns the creation time of the file.
func (finfo *FileInfo) CreatedAt() time.Time {
	return finfo.crttime
}

// AccessedAt returns the last access date of the file. FAT keeps no time
// of day for accesses.
func (finfo *FileInfo) AccessedAt() time.Time {
	return finfo.acctime
}

// IsDir returns true if the file is a directory.
func (finfo *FileInfo) IsDir() bool {
	return finfo.attr&AttrDirectory != 0
}

// Sys returns the FAT attributes.
func (finfo *FileInfo) Sys() any {
	return finfo.attr
}

func baseName(path string) string {
	path = strings.TrimRight(path, "/\\")
	if i := strings.LastIndexAny(path, "/\\"); i >= 0 {
		path = path[i+1:]
	}
	return path
}
