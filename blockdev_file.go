package fat

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// FileBlocks is a disk image stored in a regular file.
type FileBlocks struct {
	f        *os.File
	blk      blkIdxer
	nsect    int64
	readonly bool
	status   DiskStatus
}

var _ BlockDevice = (*FileBlocks)(nil)

// OpenImage opens an existing disk image made of sectors of sectorSize bytes.
func OpenImage(path string, sectorSize int, readonly bool) (*FileBlocks, error) {
	flag := os.O_RDWR
	if readonly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	fb, err := newFileBlocks(f, sectorSize, readonly)
	if err != nil {
		f.Close()
		return nil, err
	}
	return fb, nil
}

// CreateImage creates or truncates a disk image of size bytes. The size is
// rounded down to a whole number of sectors.
func CreateImage(path string, sectorSize int, size int64) (*FileBlocks, error) {
	blk, err := makeBlockIndexer(sectorSize)
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	size -= blk.off(size)
	if size <= 0 {
		return nil, errors.Errorf("create image: size %d smaller than a sector", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	if err = f.Truncate(size); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "create image %s", path)
	}
	return newFileBlocks(f, sectorSize, false)
}

func newFileBlocks(f *os.File, sectorSize int, readonly bool) (*FileBlocks, error) {
	blk, err := makeBlockIndexer(sectorSize)
	if err != nil {
		return nil, errors.Wrap(err, "image sector size")
	}
	st, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat image")
	}
	status := StatusNoInit
	if readonly {
		status |= StatusProtect
	}
	return &FileBlocks{
		f:        f,
		blk:      blk,
		nsect:    blk.idx(st.Size()),
		readonly: readonly,
		status:   status,
	}, nil
}

func (fb *FileBlocks) Status() DiskStatus { return fb.status }

func (fb *FileBlocks) Initialize() DiskStatus {
	if fb.f != nil {
		fb.status &^= StatusNoInit
	}
	return fb.status
}

func (fb *FileBlocks) check(n int, startSector int64) error {
	if fb.status&StatusNoInit != 0 {
		return ErrNotReady
	}
	if fb.blk.off(int64(n)) != 0 || startSector < 0 || startSector+fb.blk.idx(int64(n)) > fb.nsect {
		return errors.Wrapf(ErrInvalidParameter, "access of %d bytes at sector %d", n, startSector)
	}
	return nil
}

func (fb *FileBlocks) ReadSectors(dst []byte, startSector int64) error {
	if err := fb.check(len(dst), startSector); err != nil {
		return err
	}
	_, err := fb.f.ReadAt(dst, startSector*fb.blk.size())
	if err == io.EOF {
		err = nil
	}
	return errors.Wrapf(err, "read sector %d", startSector)
}

func (fb *FileBlocks) WriteSectors(data []byte, startSector int64) error {
	if err := fb.check(len(data), startSector); err != nil {
		return err
	}
	if fb.readonly {
		return ErrWriteProtected
	}
	_, err := fb.f.WriteAt(data, startSector*fb.blk.size())
	return errors.Wrapf(err, "write sector %d", startSector)
}

func (fb *FileBlocks) Ioctl(cmd IoctlCommand, arg []int64) error {
	if fb.status&StatusNoInit != 0 {
		return ErrNotReady
	}
	switch cmd {
	case IoctlSync:
		if fb.readonly {
			return nil
		}
		return errors.Wrap(fb.f.Sync(), "sync image")
	case IoctlTrim:
		// Sparse files are not punched; the data stays in place.
		return nil
	}
	if len(arg) < 1 {
		return errors.Wrapf(ErrInvalidParameter, "ioctl %s: missing argument", cmd)
	}
	switch cmd {
	case IoctlSectorCount:
		arg[0] = fb.nsect
	case IoctlSectorSize:
		arg[0] = fb.blk.size()
	case IoctlBlockSize:
		arg[0] = 1
	default:
		return errors.Wrapf(ErrInvalidParameter, "ioctl %s", cmd)
	}
	return nil
}

// Close syncs and closes the image file.
func (fb *FileBlocks) Close() error {
	if fb.f == nil {
		return nil
	}
	var err error
	if !fb.readonly {
		err = fb.f.Sync()
	}
	if cerr := fb.f.Close(); err == nil {
		err = cerr
	}
	fb.f = nil
	fb.status |= StatusNoInit | StatusNoDisk
	return errors.Wrap(err, "close image")
}
