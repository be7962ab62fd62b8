package fat

import (
	"errors"
	"log/slog"
)

// BlockDevice is the storage a FAT volume lives on. Sector addresses are
// absolute and transfers always cover whole sectors: the number of sectors
// moved by ReadSectors and WriteSectors is len(buffer)/SectorSize.
//
// Implementations report failures by returning errors that match
// [ErrWriteProtected], [ErrNotReady] or [ErrInvalidParameter] with
// errors.Is. Any other error is treated as an I/O error.
//
// Generated mock using mockgen:
//
//	mockgen -source=blockdev.go -destination=blockdev_mock_test.go -package fat
type BlockDevice interface {
	// Status returns the current device status without side effects.
	Status() DiskStatus
	// Initialize prepares the device for use and returns its status.
	Initialize() DiskStatus
	ReadSectors(dst []byte, startSector int64) error
	WriteSectors(data []byte, startSector int64) error
	// Ioctl performs a control command. Commands that return a value
	// store it in arg[0].
	Ioctl(cmd IoctlCommand, arg []int64) error
}

// DiskStatus is a bit set describing the state of a [BlockDevice].
type DiskStatus uint8

const (
	// StatusNoInit is set while the device has not been initialized.
	StatusNoInit DiskStatus = 1 << iota
	// StatusNoDisk is set when no medium is present.
	StatusNoDisk
	// StatusProtect is set when the medium is write protected.
	StatusProtect
)

// IoctlCommand selects a [BlockDevice.Ioctl] operation.
type IoctlCommand uint8

const (
	// IoctlSync flushes pending writes to the medium.
	IoctlSync IoctlCommand = iota
	// IoctlSectorCount stores the number of sectors on the device in arg[0].
	IoctlSectorCount
	// IoctlSectorSize stores the sector size in bytes in arg[0]. Devices that
	// return an ErrInvalidParameter error are assumed to have 512 byte sectors.
	IoctlSectorSize
	// IoctlBlockSize stores the erase block size in sectors in arg[0].
	IoctlBlockSize
	// IoctlTrim informs the device that sectors arg[0] through arg[1]
	// (inclusive) no longer hold data.
	IoctlTrim
)

func (cmd IoctlCommand) String() string {
	switch cmd {
	case IoctlSync:
		return "sync"
	case IoctlSectorCount:
		return "sector-count"
	case IoctlSectorSize:
		return "sector-size"
	case IoctlBlockSize:
		return "block-size"
	case IoctlTrim:
		return "trim"
	}
	return "unknown"
}

func toDiskresult(err error) diskresult {
	switch {
	case err == nil:
		return drOK
	case errors.Is(err, ErrWriteProtected):
		return drWriteProtected
	case errors.Is(err, ErrNotReady):
		return drNotReady
	case errors.Is(err, ErrInvalidParameter):
		return drParError
	}
	return drError
}

func (fsys *FS) disk_status() DiskStatus {
	return fsys.device.Status()
}

func (fsys *FS) disk_read(dst []byte, sector lba, numsectors int) diskresult {
	n := numsectors * int(fsys.ssize)
	err := fsys.device.ReadSectors(dst[:n], int64(sector))
	if err != nil {
		fsys.logerror("disk_read", slog.Uint64("sect", uint64(sector)), slog.Int("n", numsectors), slog.String("err", err.Error()))
		return toDiskresult(err)
	}
	return drOK
}

func (fsys *FS) disk_write(src []byte, sector lba, numsectors int) diskresult {
	n := numsectors * int(fsys.ssize)
	err := fsys.device.WriteSectors(src[:n], int64(sector))
	if err != nil {
		fsys.logerror("disk_write", slog.Uint64("sect", uint64(sector)), slog.Int("n", numsectors), slog.String("err", err.Error()))
		return toDiskresult(err)
	}
	return drOK
}

func (fsys *FS) disk_ioctl(cmd IoctlCommand, arg []int64) diskresult {
	err := fsys.device.Ioctl(cmd, arg)
	if err != nil {
		dr := toDiskresult(err)
		if dr != drParError {
			fsys.logerror("disk_ioctl", slog.String("cmd", cmd.String()), slog.String("err", err.Error()))
		}
		return dr
	}
	return drOK
}

// trim informs the device that the clusters scl through ecl hold no data.
// Failures are not reported since trimming is advisory.
func (fsys *FS) trim(scl, ecl uint32) {
	first := fsys.clst2sect(scl)
	last := fsys.clst2sect(ecl)
	if first == 0 || last == 0 {
		return
	}
	rt := [2]int64{int64(first), int64(last) + int64(fsys.csize) - 1}
	fsys.disk_ioctl(IoctlTrim, rt[:])
}
