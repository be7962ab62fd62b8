package fat

import (
	"log/slog"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Drives maps logical drive numbers to mounted volumes. At most one volume
// is mounted per drive number. The zero value is ready to use.
type Drives struct {
	// Logger is handed to volumes mounted after it is set.
	Logger *slog.Logger

	mu   sync.Mutex
	vols map[int]*FS
}

// Mount mounts the volume on bd as drive number drv.
func (d *Drives) Mount(drv int, bd BlockDevice, mode Mode) (*FS, error) {
	if drv < 0 {
		return nil, frInvalidDrive
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.vols[drv]; ok {
		return nil, frAlreadyMounted
	}
	fsys := &FS{log: d.Logger}
	if err := fsys.Mount(bd, mode); err != nil {
		return nil, err
	}
	if d.vols == nil {
		d.vols = make(map[int]*FS)
	}
	d.vols[drv] = fsys
	return fsys, nil
}

// FS returns the volume mounted as drv.
func (d *Drives) FS(drv int) (*FS, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fsys, ok := d.vols[drv]
	if !ok {
		return nil, frNotReady
	}
	return fsys, nil
}

// Unmount flushes and unmounts drive drv. The drive number is released even
// if flushing fails.
func (d *Drives) Unmount(drv int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fsys, ok := d.vols[drv]
	if !ok {
		return frNotReady
	}
	delete(d.vols, drv)
	return fsys.Unmount()
}

// UnmountAll unmounts every drive, combining the errors.
func (d *Drives) UnmountAll() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	drvs := make([]int, 0, len(d.vols))
	for drv := range d.vols {
		drvs = append(drvs, drv)
	}
	sort.Ints(drvs)
	var err error
	for _, drv := range drvs {
		err = multierr.Append(err, d.vols[drv].Unmount())
		delete(d.vols, drv)
	}
	return err
}

// Format creates a filesystem on bd for drive number drv, which must not
// be mounted.
func (d *Drives) Format(drv int, bd BlockDevice, cfg FormatConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.vols[drv]; ok {
		return frAlreadyMounted
	}
	f := Formatter{log: d.Logger}
	return f.Format(bd, cfg)
}

// StatVolume returns the cluster usage of drive drv.
func (d *Drives) StatVolume(drv int) (VolumeStat, error) {
	fsys, err := d.FS(drv)
	if err != nil {
		return VolumeStat{}, err
	}
	return fsys.StatVolume()
}
