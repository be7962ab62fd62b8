package fat

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"
)

// This function is a self contained fuzzing function whose working
// principle is similiar to that of a virtual machine. It takes in
// a series of 64-bit operations and performs them on a FS object
// while keeping a model of every file's contents in memory.
func FuzzFS(f *testing.F) {
	// 64-bit operation definition, starting with least significant bits:
	//
	//  - OP:       First 4 bits are the operation to perform.
	//  - WHO:      Next 4 bits is target of operation.
	//  - PERM:     Next 2 bits are the permission, if applicable.
	//  - RESERVED: Middle bits are reserved.
	//  - DATASIZE: Last 16 bits is the size of the data to read/write or
	//              the position to seek to, if applicable.
	const (
		opChangeDir uint64 = iota
		opCreateFile
		opOpenFile
		opReadFile
		opWriteFile
		opCloseFile
		opSeekFile
		opRemoveFile

		datasizeOff = 48
		whoOff      = 4
		// Bound the data written so the volume never fills up.
		maxWritten = 1 << 20
	)
	type filinfo struct {
		file    File
		ptr     int64
		data    []byte
		name    string
		closed  bool
		removed bool
	}
	genName := func(dir string, who uint8) string {
		if dir == "/" {
			return "/" + string(rune('a'+who))
		}
		return dir + "/" + string(rune('a'+who))
	}
	getWho := func(finfos []filinfo, who uint8) *filinfo {
		if len(finfos) == 0 {
			return nil
		}
		return &finfos[int(who)%len(finfos)]
	}
	byName := func(finfos []filinfo, name string) *filinfo {
		for i := range finfos {
			if finfos[i].name == name {
				return &finfos[i]
			}
		}
		return nil
	}
	writeData := make([]byte, 1<<16)
	readData := make([]byte, 1<<16)
	for i := range writeData {
		writeData[i] = byte(i)
	}
	f.Add(opChangeDir, opCreateFile|3<<8, opWriteFile|(1000<<datasizeOff),
		opCloseFile, opOpenFile|1<<8, opReadFile|(1000<<datasizeOff),
		opChangeDir, opCreateFile|(1<<whoOff)|3<<8, opWriteFile|(1<<whoOff)|(1000<<datasizeOff),
		opCloseFile|(1<<whoOff), opOpenFile|3<<8, opReadFile|(1<<whoOff)|(1001<<datasizeOff),
	)
	f.Add(opCreateFile|3<<8, opSeekFile|(4000<<datasizeOff), opWriteFile|(10<<datasizeOff),
		opSeekFile|(3990<<datasizeOff), opReadFile|(100<<datasizeOff), opCloseFile,
		opOpenFile|2<<8, opSeekFile|(9000<<datasizeOff), opWriteFile, opCloseFile,
		opOpenFile|1<<8, opReadFile|(0xffff<<datasizeOff),
	)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	f.Fuzz(func(t *testing.T, fsop0, fsop1, fsop2, fsop3, fsop4, fsop5, fsop6, fsop7, fsop8, fsop9, fsop10, fsop11 uint64) {
		fsys, dev := newFAT12(t)
		fsys.SetLogger(logger)
		if err := fsys.Mkdir("/rootdir"); err != nil {
			t.Fatal(err)
		}
		fsops := [...]uint64{fsop0, fsop1, fsop2, fsop3, fsop4, fsop5, fsop6, fsop7, fsop8, fsop9, fsop10, fsop11}
		fileinfos := make([]filinfo, 0, len(fsops))
		dir := "/"
		totalWritten := 0
		for _, fsop := range fsops {
			op := fsop & 0xf
			who := byte(fsop) >> 4
			perm := Mode(fsop>>8) & ModeRW
			datasize := uint16(fsop >> datasizeOff)
			switch op {
			case opChangeDir:
				if dir == "/" {
					dir = "/rootdir"
				} else {
					dir = "/"
				}

			case opCreateFile:
				name := genName(dir, who)
				info := byName(fileinfos, name)
				if info != nil && !info.closed {
					break // Truncating would pull clusters from under the open handle.
				}
				isNew := info == nil
				if isNew {
					// Capacity is never exceeded so open handles do not move.
					fileinfos = append(fileinfos, filinfo{name: name, closed: true})
					info = &fileinfos[len(fileinfos)-1]
				}
				err := fsys.OpenFile(&info.file, name, perm|ModeCreateAlways)
				if perm == 0 {
					if err == nil {
						t.Fatal("open with no access mode succeeded")
					}
					if isNew {
						fileinfos = fileinfos[:len(fileinfos)-1]
					}
					break
				} else if err != nil {
					t.Fatal(err)
				}
				info.closed = false
				info.removed = false
				info.ptr = 0
				info.data = info.data[:0]

			case opOpenFile:
				info := getWho(fileinfos, who)
				if info == nil || !info.closed || info.removed {
					break
				}
				err := fsys.OpenFile(&info.file, info.name, perm|ModeOpenExisting)
				if err == nil {
					info.closed = false
					info.ptr = 0
				} else if perm != 0 {
					t.Fatal(err)
				}

			case opCloseFile:
				info := getWho(fileinfos, who)
				if info == nil {
					break
				}
				err := info.file.Close()
				if err != nil && !info.closed {
					t.Fatal(err)
				}
				info.ptr = 0
				info.closed = true

			case opSeekFile:
				info := getWho(fileinfos, who)
				if info == nil || info.closed {
					break
				}
				pos, err := info.file.Seek(int64(datasize), io.SeekStart)
				if err != nil {
					t.Fatal(err)
				} else if pos != int64(datasize) {
					t.Fatalf("seek to %d landed at %d", datasize, pos)
				}
				info.ptr = pos

			case opWriteFile:
				info := getWho(fileinfos, who)
				if info == nil || info.closed || totalWritten >= maxWritten {
					break
				}
				n, err := info.file.Write(writeData[:datasize])
				if info.file.Mode()&ModeWrite == 0 {
					if n != 0 || err == nil {
						t.Fatal("forbidden write")
					}
					break
				}
				if err != nil {
					t.Fatal(err)
				} else if n != int(datasize) {
					t.Fatalf("wrote %d, want %d", n, datasize)
				}
				totalWritten += n + int(max(0, info.ptr-int64(len(info.data))))
				end := info.ptr + int64(n)
				for int64(len(info.data)) < end {
					info.data = append(info.data, 0)
				}
				copy(info.data[info.ptr:], writeData[:n])
				info.ptr = end

			case opReadFile:
				info := getWho(fileinfos, who)
				if info == nil || info.closed {
					break
				}
				n, err := info.file.Read(readData[:datasize])
				if info.file.Mode()&ModeRead == 0 {
					if n != 0 || err == nil {
						t.Fatal("forbidden read")
					}
					break
				}
				if err != nil && err != io.EOF {
					t.Fatal(err)
				}
				var want []byte
				if info.ptr < int64(len(info.data)) {
					want = info.data[info.ptr:min(info.ptr+int64(datasize), int64(len(info.data)))]
				}
				if !bytes.Equal(want, readData[:n]) {
					t.Fatalf("%s: read %d bytes at %d, want %d", info.name, n, info.ptr, len(want))
				}
				info.ptr += int64(n)

			case opRemoveFile:
				info := getWho(fileinfos, who)
				if info == nil || info.removed || !info.closed {
					break
				}
				if err := fsys.Remove(info.name); err != nil {
					t.Fatal(err)
				}
				info.removed = true
			}
		}

		for i := range fileinfos {
			if !fileinfos[i].closed {
				if err := fileinfos[i].file.Close(); err != nil {
					t.Fatal(err)
				}
			}
		}
		free := freeClusters(t, fsys)
		if err := fsys.Unmount(); err != nil {
			t.Fatal(err)
		}
		fsys = mountTestDevice(t, dev)
		for _, info := range fileinfos {
			fi, err := fsys.Stat(info.name)
			if info.removed {
				if err == nil {
					t.Fatalf("%s: removed file still present", info.name)
				}
				continue
			}
			if err != nil {
				t.Fatal(err)
			} else if fi.Size() != int64(len(info.data)) {
				t.Fatalf("%s: size %d after remount, want %d", info.name, fi.Size(), len(info.data))
			}
			if got := readTestFile(t, fsys, info.name); !bytes.Equal(got, info.data) {
				t.Fatalf("%s: content mismatch after remount", info.name)
			}
		}
		if rescan := freeClusters(t, fsys); rescan != free {
			t.Fatalf("free cluster count %d disagrees with FAT scan %d", free, rescan)
		}
	})
}
