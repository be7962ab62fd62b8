package fat

import (
	"github.com/pkg/errors"
)

// BytesBlocks is a RAM disk backed by a byte slice.
type BytesBlocks struct {
	blk    blkIdxer
	buf    []byte
	status DiskStatus
}

var _ BlockDevice = (*BytesBlocks)(nil)

// NewBytesBlocks returns a RAM disk of numBlocks sectors of blockSize bytes.
// blockSize must be a power of two.
func NewBytesBlocks(blockSize, numBlocks int) (*BytesBlocks, error) {
	blk, err := makeBlockIndexer(blockSize)
	if err != nil {
		return nil, errors.Wrap(err, "new RAM disk")
	}
	if numBlocks <= 0 {
		return nil, errors.Errorf("new RAM disk: invalid block count %d", numBlocks)
	}
	return &BytesBlocks{
		blk:    blk,
		buf:    make([]byte, blockSize*numBlocks),
		status: StatusNoInit,
	}, nil
}

// DefaultByteBlocks returns a RAM disk of numBlocks 512 byte sectors.
func DefaultByteBlocks(numBlocks int) *BytesBlocks {
	const defaultBlockSize = 512
	b, err := NewBytesBlocks(defaultBlockSize, numBlocks)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *BytesBlocks) Status() DiskStatus { return b.status }

func (b *BytesBlocks) Initialize() DiskStatus {
	b.status &^= StatusNoInit
	return b.status
}

// SetWriteProtect sets or clears the write protection of the disk.
func (b *BytesBlocks) SetWriteProtect(protect bool) {
	if protect {
		b.status |= StatusProtect
	} else {
		b.status &^= StatusProtect
	}
}

func (b *BytesBlocks) span(n int, startBlock int64) (start, end int64, err error) {
	if b.blk.off(int64(n)) != 0 {
		return 0, 0, errors.Wrapf(ErrInvalidParameter, "length %d not multiple of block size", n)
	} else if startBlock < 0 {
		return 0, 0, errors.Wrapf(ErrInvalidParameter, "invalid startBlock %d", startBlock)
	}
	start = startBlock * b.blk.size()
	end = start + int64(n)
	if end > int64(len(b.buf)) {
		return 0, 0, errors.Wrapf(ErrInvalidParameter, "access past end of disk: %d > %d", end, len(b.buf))
	}
	return start, end, nil
}

func (b *BytesBlocks) ReadSectors(dst []byte, startBlock int64) error {
	if b.status&StatusNoInit != 0 {
		return ErrNotReady
	}
	off, end, err := b.span(len(dst), startBlock)
	if err != nil {
		return errors.WithMessage(err, "read")
	}
	copy(dst, b.buf[off:end])
	return nil
}

func (b *BytesBlocks) WriteSectors(data []byte, startBlock int64) error {
	if b.status&StatusNoInit != 0 {
		return ErrNotReady
	} else if b.status&StatusProtect != 0 {
		return ErrWriteProtected
	}
	off, end, err := b.span(len(data), startBlock)
	if err != nil {
		return errors.WithMessage(err, "write")
	}
	copy(b.buf[off:end], data)
	return nil
}

func (b *BytesBlocks) Ioctl(cmd IoctlCommand, arg []int64) error {
	switch cmd {
	case IoctlSync:
		return nil
	case IoctlTrim:
		if len(arg) < 2 || arg[1] < arg[0] {
			return errors.Wrap(ErrInvalidParameter, "trim range")
		}
		start, end, err := b.span(int(arg[1]-arg[0]+1)*int(b.blk.size()), arg[0])
		if err != nil {
			return errors.WithMessage(err, "trim")
		}
		clear(b.buf[start:end])
		return nil
	}
	if len(arg) < 1 {
		return errors.Wrapf(ErrInvalidParameter, "ioctl %s: missing argument", cmd)
	}
	switch cmd {
	case IoctlSectorCount:
		arg[0] = b.blk.idx(int64(len(b.buf)))
	case IoctlSectorSize:
		arg[0] = b.blk.size()
	case IoctlBlockSize:
		arg[0] = 1
	default:
		return errors.Wrapf(ErrInvalidParameter, "ioctl %s", cmd)
	}
	return nil
}

// Bytes returns the underlying disk contents.
func (b *BytesBlocks) Bytes() []byte { return b.buf }

// Size returns the size of the disk in bytes.
func (b *BytesBlocks) Size() int64 {
	return int64(len(b.buf))
}
