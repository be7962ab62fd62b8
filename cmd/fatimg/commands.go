package main

import (
	"fmt"
	"io"
	"os"
	"path"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	fat "github.com/soypat/fatfs"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func formatCmd() *cobra.Command {
	var (
		size        string
		format      string
		clusterSize string
		label       string
		nfats       uint8
		rootEntries uint16
		partition   bool
	)
	cmd := &cobra.Command{
		Use:   "format IMAGE",
		Short: "create an empty FAT filesystem",
		Long: `Create an empty FAT filesystem on IMAGE. If --size is given the image
is created or truncated to that size, otherwise the existing image is formatted in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg := fat.FormatConfig{
				Label:        label,
				NumberOfFATs: nfats,
				RootEntries:  rootEntries,
				Partition:    partition,
			}
			if cfg.Format, err = parseFormat(format); err != nil {
				return err
			}
			if clusterSize != "" {
				csize, err := humanize.ParseBytes(clusterSize)
				if err != nil {
					return errors.Wrap(err, "cluster size")
				}
				cfg.ClusterSize = int(csize)
			}
			var img *fat.FileBlocks
			if size != "" {
				sz, err := humanize.ParseBytes(size)
				if err != nil {
					return errors.Wrap(err, "image size")
				}
				img, err = fat.CreateImage(args[0], flagSectorSize, int64(sz))
				if err != nil {
					return err
				}
			} else {
				img, err = fat.OpenImage(args[0], flagSectorSize, false)
				if err != nil {
					return err
				}
			}
			defer func() {
				if cerr := img.Close(); err == nil {
					err = cerr
				}
			}()
			var f fat.Formatter
			f.SetLogger(logger())
			if err = f.Format(img, cfg); err != nil {
				return errors.Wrapf(err, "format %s", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&size, "size", "s", "", "Create the image with this size, e.g. 64MiB")
	cmd.Flags().StringVarP(&format, "type", "t", "auto", "Filesystem type: auto, fat12, fat16 or fat32")
	cmd.Flags().StringVarP(&clusterSize, "cluster-size", "c", "", "Cluster size, e.g. 4KiB. Picked from the volume size if empty")
	cmd.Flags().StringVarP(&label, "label", "L", "", "Volume label")
	cmd.Flags().Uint8Var(&nfats, "fats", 2, "Number of FAT copies, 1 or 2")
	cmd.Flags().Uint16Var(&rootEntries, "root-entries", 512, "Root directory entries of FAT12/16 volumes")
	cmd.Flags().BoolVar(&partition, "mbr", false, "Write an MBR and place the volume in its first partition")
	return cmd
}

func lsCmd() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "ls IMAGE [PATH]",
		Short: "list a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dirpath := "/"
			if len(args) == 2 {
				dirpath = args[1]
			}
			return withVolume(args[0], fat.ModeRead, func(fsys *fat.FS) error {
				var dp fat.Dir
				if err := fsys.OpenDir(&dp, dirpath); err != nil {
					return errors.Wrapf(err, "open %s", dirpath)
				}
				defer dp.Close()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				err := dp.ForEachFile(func(fi *fat.FileInfo) error {
					name := fi.Name()
					if fi.IsDir() {
						name += "/"
					}
					if !long {
						_, err := fmt.Fprintln(w, name)
						return err
					}
					_, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", fi.Mode(), fi.Attributes(),
						humanize.IBytes(uint64(fi.Size())), fi.ModTime().Format("2006-01-02 15:04:05"), name)
					return err
				})
				if err != nil {
					return err
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Show attributes, size and modification time")
	return cmd
}

func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat IMAGE PATH",
		Short: "write a file's contents to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVolume(args[0], fat.ModeRead, func(fsys *fat.FS) error {
				var fp fat.File
				if err := fsys.OpenFile(&fp, args[1], fat.ModeRead); err != nil {
					return errors.Wrapf(err, "open %s", args[1])
				}
				defer fp.Close()
				_, err := io.Copy(cmd.OutOrStdout(), &fp)
				return errors.Wrapf(err, "read %s", args[1])
			})
		},
	}
}

func putCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "put IMAGE LOCALFILE PATH",
		Short: "copy a local file into the image",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer src.Close()
			return withVolume(args[0], fat.ModeRW, func(fsys *fat.FS) error {
				afs := fat.NewAferoFs(fsys)
				if parents {
					if err := afs.MkdirAll(path.Dir(args[2]), 0o755); err != nil {
						return err
					}
				}
				return afero.WriteReader(afs, args[2], src)
			})
		},
	}
	cmd.Flags().BoolVar(&parents, "parents", false, "Create missing parent directories")
	return cmd
}

func mkdirCmd() *cobra.Command {
	var parents bool
	cmd := &cobra.Command{
		Use:   "mkdir IMAGE PATH",
		Short: "create a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVolume(args[0], fat.ModeRW, func(fsys *fat.FS) error {
				afs := fat.NewAferoFs(fsys)
				if parents {
					return afs.MkdirAll(args[1], 0o755)
				}
				return afs.Mkdir(args[1], 0o755)
			})
		},
	}
	cmd.Flags().BoolVar(&parents, "parents", false, "Create missing parent directories")
	return cmd
}

func rmCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "rm IMAGE PATH",
		Short: "remove a file or empty directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVolume(args[0], fat.ModeRW, func(fsys *fat.FS) error {
				afs := fat.NewAferoFs(fsys)
				if recursive {
					return afs.RemoveAll(args[1])
				}
				return afs.Remove(args[1])
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Remove directories and their contents")
	return cmd
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv IMAGE OLDPATH NEWPATH",
		Short: "rename or move a file or directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVolume(args[0], fat.ModeRW, func(fsys *fat.FS) error {
				return errors.Wrapf(fsys.Rename(args[1], args[2]), "rename %s", args[1])
			})
		},
	}
}

func dfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "df IMAGE",
		Short: "show volume geometry and free space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVolume(args[0], fat.ModeRead, func(fsys *fat.FS) error {
				geom, err := fsys.Geometry()
				if err != nil {
					return err
				}
				stat, err := fsys.StatVolume()
				if err != nil {
					return err
				}
				label, err := fsys.Label()
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', 0)
				fmt.Fprintf(w, "type:\t%s\n", geom.Type)
				fmt.Fprintf(w, "label:\t%s\n", label)
				fmt.Fprintf(w, "cluster size:\t%s\n", humanize.IBytes(uint64(stat.ClusterSize)))
				fmt.Fprintf(w, "clusters:\t%d (%d free)\n", stat.TotalClusters, stat.FreeClusters)
				fmt.Fprintf(w, "size:\t%s\n", humanize.IBytes(uint64(stat.TotalBytes())))
				fmt.Fprintf(w, "free:\t%s\n", humanize.IBytes(uint64(stat.FreeBytes())))
				return w.Flush()
			})
		},
	}
}
