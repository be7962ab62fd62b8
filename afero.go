package fat

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/spf13/afero"
)

// AferoFs exposes a mounted volume as an [afero.Fs]. Permission bits map to
// the read-only attribute, ownership is not supported and access times are
// not stored.
type AferoFs struct {
	fsys *FS
}

var (
	_ afero.Fs   = (*AferoFs)(nil)
	_ afero.File = (*aferoFile)(nil)
)

// NewAferoFs returns an afero filesystem backed by the mounted volume fsys.
func NewAferoFs(fsys *FS) *AferoFs {
	return &AferoFs{fsys: fsys}
}

// Name returns the name of the filesystem implementation.
func (afs *AferoFs) Name() string { return "fatfs" }

func (afs *AferoFs) Create(name string) (afero.File, error) {
	return afs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (afs *AferoFs) Open(name string) (afero.File, error) {
	return afs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens name with the os package flags. Directories can only be
// opened read-only.
func (afs *AferoFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	name = cleanPath(name)
	var mode Mode
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		mode = ModeRead
	case os.O_WRONLY:
		mode = ModeWrite
	case os.O_RDWR:
		mode = ModeRW
	default:
		return nil, pathErr("open", name, frInvalidParameter)
	}
	switch {
	case flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		mode |= ModeCreateNew
	case flag&os.O_CREATE != 0 && flag&os.O_TRUNC != 0:
		mode |= ModeCreateAlways
	case flag&os.O_CREATE != 0:
		mode |= ModeOpenAlways
	}
	if mode == ModeRead {
		fi, err := afs.fsys.Stat(name)
		if err != nil {
			return nil, pathErr("open", name, err)
		}
		if fi.IsDir() {
			af := &aferoFile{afs: afs, name: name, dir: new(Dir)}
			if err := afs.fsys.OpenDir(af.dir, name); err != nil {
				return nil, pathErr("open", name, err)
			}
			return af, nil
		}
	}
	af := &aferoFile{afs: afs, name: name, file: new(File), append: flag&os.O_APPEND != 0}
	if err := afs.fsys.OpenFile(af.file, name, mode); err != nil {
		return nil, pathErr("open", name, err)
	}
	if flag&os.O_TRUNC != 0 && mode&ModeCreateAlways == 0 && mode&ModeWrite != 0 {
		if err := af.file.Truncate(0); err != nil {
			af.file.Close()
			return nil, pathErr("truncate", name, err)
		}
	}
	if mode&ModeCreateNew != 0 && perm&0200 == 0 {
		// The entry exists now, the attribute applies to the next open.
		if err := afs.fsys.Chmod(name, AttrReadOnly, AttrReadOnly); err != nil {
			af.file.Close()
			return nil, pathErr("chmod", name, err)
		}
	}
	return af, nil
}

func (afs *AferoFs) Mkdir(name string, perm os.FileMode) error {
	name = cleanPath(name)
	if err := afs.fsys.Mkdir(name); err != nil {
		return pathErr("mkdir", name, err)
	}
	return nil
}

// MkdirAll creates name and any missing parents. Existing directories are
// not an error.
func (afs *AferoFs) MkdirAll(name string, perm os.FileMode) error {
	name = cleanPath(name)
	if name == "/" {
		return nil
	}
	fi, err := afs.fsys.Stat(name)
	if err == nil {
		if !fi.IsDir() {
			return pathErr("mkdir", name, frNotADirectory)
		}
		return nil
	}
	if err := afs.MkdirAll(path.Dir(name), perm); err != nil {
		return err
	}
	err = afs.fsys.Mkdir(name)
	if err != nil && !errors.Is(err, ErrAlreadyExists) {
		return pathErr("mkdir", name, err)
	}
	return nil
}

func (afs *AferoFs) Remove(name string) error {
	name = cleanPath(name)
	if err := afs.fsys.Remove(name); err != nil {
		return pathErr("remove", name, err)
	}
	return nil
}

// RemoveAll removes name and, for a directory, everything below it.
// A missing name is not an error.
func (afs *AferoFs) RemoveAll(name string) error {
	name = cleanPath(name)
	fi, err := afs.fsys.Stat(name)
	if errors.Is(err, ErrNotFound) {
		return nil
	} else if err != nil {
		return pathErr("removeall", name, err)
	}
	if fi.IsDir() {
		var children []string
		var dp Dir
		if err := afs.fsys.OpenDir(&dp, name); err != nil {
			return pathErr("removeall", name, err)
		}
		err = dp.ForEachFile(func(fi *FileInfo) error {
			children = append(children, path.Join(name, fi.Name()))
			return nil
		})
		dp.Close()
		if err != nil {
			return pathErr("removeall", name, err)
		}
		for _, child := range children {
			if err := afs.RemoveAll(child); err != nil {
				return err
			}
		}
	}
	if name == "/" {
		return nil
	}
	if fi.Attributes().IsReadonly() {
		if err := afs.fsys.Chmod(name, 0, AttrReadOnly); err != nil {
			return pathErr("removeall", name, err)
		}
	}
	return afs.Remove(name)
}

func (afs *AferoFs) Rename(oldname, newname string) error {
	oldname, newname = cleanPath(oldname), cleanPath(newname)
	if err := afs.fsys.Rename(oldname, newname); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: osErr(err)}
	}
	return nil
}

func (afs *AferoFs) Stat(name string) (os.FileInfo, error) {
	name = cleanPath(name)
	fi, err := afs.fsys.Stat(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	return fi, nil
}

// Chmod sets or clears the read-only attribute from the owner write bit.
func (afs *AferoFs) Chmod(name string, mode os.FileMode) error {
	name = cleanPath(name)
	var attr Attr
	if mode&0200 == 0 {
		attr = AttrReadOnly
	}
	if err := afs.fsys.Chmod(name, attr, AttrReadOnly); err != nil {
		return pathErr("chmod", name, err)
	}
	return nil
}

func (afs *AferoFs) Chown(name string, uid, gid int) error {
	return pathErr("chown", cleanPath(name), frUnsupported)
}

// Chtimes sets the modification time. The access time is ignored.
func (afs *AferoFs) Chtimes(name string, atime, mtime time.Time) error {
	name = cleanPath(name)
	if err := afs.fsys.Chtimes(name, mtime); err != nil {
		return pathErr("chtimes", name, err)
	}
	return nil
}

// aferoFile is an open file or directory. Exactly one of file and dir is set.
type aferoFile struct {
	afs    *AferoFs
	name   string
	file   *File
	dir    *Dir
	append bool
}

func (af *aferoFile) Name() string { return af.name }

func (af *aferoFile) Close() error {
	var err error
	if af.dir != nil {
		err = af.dir.Close()
	} else {
		err = af.file.Close()
	}
	if err != nil {
		return pathErr("close", af.name, err)
	}
	return nil
}

func (af *aferoFile) Read(p []byte) (int, error) {
	if af.dir != nil {
		return 0, pathErr("read", af.name, frDenied)
	}
	n, err := af.file.Read(p)
	if err != nil && err != io.EOF {
		err = pathErr("read", af.name, err)
	}
	return n, err
}

// ReadAt reads at off without moving the file position.
func (af *aferoFile) ReadAt(p []byte, off int64) (int, error) {
	if af.dir != nil {
		return 0, pathErr("read", af.name, frDenied)
	}
	if off < 0 {
		return 0, pathErr("readat", af.name, frInvalidParameter)
	}
	pos, err := af.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, pathErr("readat", af.name, err)
	}
	defer af.file.Seek(pos, io.SeekStart)
	if _, err = af.file.Seek(off, io.SeekStart); err != nil {
		return 0, pathErr("readat", af.name, err)
	}
	n, err := io.ReadFull(af.file, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	} else if err != nil && err != io.EOF {
		err = pathErr("readat", af.name, err)
	}
	return n, err
}

func (af *aferoFile) Seek(offset int64, whence int) (int64, error) {
	if af.dir != nil {
		if offset != 0 || whence != io.SeekStart {
			return 0, pathErr("seek", af.name, frInvalidParameter)
		}
		if err := af.dir.Rewind(); err != nil {
			return 0, pathErr("seek", af.name, err)
		}
		return 0, nil
	}
	pos, err := af.file.Seek(offset, whence)
	if err != nil {
		return pos, pathErr("seek", af.name, err)
	}
	return pos, nil
}

func (af *aferoFile) Write(p []byte) (int, error) {
	if af.dir != nil {
		return 0, pathErr("write", af.name, frDenied)
	}
	if af.append {
		if _, err := af.file.Seek(0, io.SeekEnd); err != nil {
			return 0, pathErr("write", af.name, err)
		}
	}
	n, err := af.file.Write(p)
	if err != nil {
		return n, pathErr("write", af.name, err)
	}
	return n, nil
}

// WriteAt writes at off without moving the file position.
func (af *aferoFile) WriteAt(p []byte, off int64) (int, error) {
	if af.dir != nil {
		return 0, pathErr("write", af.name, frDenied)
	}
	if af.append {
		return 0, pathErr("writeat", af.name, errors.New("fat: WriteAt on file opened with O_APPEND"))
	}
	pos, err := af.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, pathErr("writeat", af.name, err)
	}
	defer af.file.Seek(pos, io.SeekStart)
	if _, err = af.file.Seek(off, io.SeekStart); err != nil {
		return 0, pathErr("writeat", af.name, err)
	}
	n, err := af.file.Write(p)
	if err != nil {
		return n, pathErr("writeat", af.name, err)
	}
	return n, nil
}

func (af *aferoFile) WriteString(s string) (int, error) {
	return af.Write([]byte(s))
}

// Readdir returns up to count entries, or all remaining entries when
// count <= 0. With count > 0 an exhausted directory returns io.EOF.
func (af *aferoFile) Readdir(count int) ([]os.FileInfo, error) {
	if af.dir == nil {
		return nil, pathErr("readdir", af.name, frNotADirectory)
	}
	var infos []os.FileInfo
	for count <= 0 || len(infos) < count {
		fi, err := af.dir.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return infos, pathErr("readdir", af.name, err)
		}
		infos = append(infos, fi)
	}
	if count > 0 && len(infos) == 0 {
		return nil, io.EOF
	}
	return infos, nil
}

func (af *aferoFile) Readdirnames(count int) ([]string, error) {
	infos, err := af.Readdir(count)
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Name()
	}
	return names, err
}

func (af *aferoFile) Stat() (os.FileInfo, error) {
	if af.dir != nil {
		return af.afs.Stat(af.name)
	}
	fi, err := af.file.Stat()
	if err != nil {
		return nil, pathErr("stat", af.name, err)
	}
	return fi, nil
}

func (af *aferoFile) Sync() error {
	if af.dir != nil {
		return nil
	}
	if err := af.file.Sync(); err != nil {
		return pathErr("sync", af.name, err)
	}
	return nil
}

func (af *aferoFile) Truncate(size int64) error {
	if af.dir != nil {
		return pathErr("truncate", af.name, frDenied)
	}
	if err := af.file.Truncate(size); err != nil {
		return pathErr("truncate", af.name, err)
	}
	return nil
}

// cleanPath returns the rooted, cleaned form of name. The root is "/".
func cleanPath(name string) string {
	return path.Clean("/" + name)
}

func pathErr(op, name string, err error) error {
	return &os.PathError{Op: op, Path: name, Err: osErr(err)}
}

// osErr replaces errors the os.IsExist family checks for with the fs
// sentinels, since those helpers compare by identity.
func osErr(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fs.ErrNotExist
	case errors.Is(err, fs.ErrExist):
		return fs.ErrExist
	case errors.Is(err, fs.ErrPermission):
		return fs.ErrPermission
	}
	return err
}
