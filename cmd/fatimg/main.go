// Command fatimg creates and edits FAT disk images.
package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/pkg/errors"
	fat "github.com/soypat/fatfs"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	flagSectorSize int
	flagPartition  int
	flagVerbose    bool
)

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "fatimg",
		Short:        "create and edit FAT12/16/32 disk images",
		SilenceUsage: true,
	}
	cmd.AddCommand(formatCmd())
	cmd.AddCommand(lsCmd())
	cmd.AddCommand(catCmd())
	cmd.AddCommand(putCmd())
	cmd.AddCommand(mkdirCmd())
	cmd.AddCommand(rmCmd())
	cmd.AddCommand(mvCmd())
	cmd.AddCommand(dfCmd())

	cmd.PersistentFlags().IntVar(&flagSectorSize, "sector-size", 512, "Sector size of the image in bytes")
	cmd.PersistentFlags().IntVarP(&flagPartition, "partition", "p", 0, "Partition number to mount, 0 picks the first FAT volume")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Log filesystem activity to stderr")
	return cmd
}

func logger() *slog.Logger {
	if !flagVerbose {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withVolume mounts the image at path and calls fn with the mounted volume.
// The volume is unmounted and the image closed afterwards.
func withVolume(path string, mode fat.Mode, fn func(fsys *fat.FS) error) (err error) {
	img, err := fat.OpenImage(path, flagSectorSize, mode&fat.ModeWrite == 0)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, img.Close()) }()
	var fsys fat.FS
	fsys.SetLogger(logger())
	if err := fsys.MountPartition(img, flagPartition, mode); err != nil {
		return errors.Wrapf(err, "mount %s", path)
	}
	err = fn(&fsys)
	return multierr.Append(err, errors.Wrap(fsys.Unmount(), "unmount"))
}

func parseFormat(s string) (fat.Format, error) {
	for _, f := range []fat.Format{fat.FormatAuto, fat.FormatFAT12, fat.FormatFAT16, fat.FormatFAT32} {
		if strings.EqualFold(s, f.String()) {
			return f, nil
		}
	}
	return 0, errors.Errorf("unknown format %q", s)
}
