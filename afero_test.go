package fat

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAfero(t *testing.T) (*AferoFs, *FS) {
	fsys, _ := newFAT12(t)
	return NewAferoFs(fsys), fsys
}

func TestAferoReadWrite(t *testing.T) {
	afs, _ := newTestAfero(t)
	require.NoError(t, afs.MkdirAll("/docs/notes", 0755))
	require.NoError(t, afs.MkdirAll("docs/notes", 0755), "existing directories are fine")

	data := testData(5000)
	require.NoError(t, afero.WriteFile(afs, "/docs/notes/big file.bin", data, 0644))
	got, err := afero.ReadFile(afs, "docs/notes/big file.bin")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := afero.Exists(afs, "/docs/notes/big file.bin")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = afero.DirExists(afs, "/docs")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = afero.Exists(afs, "/missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = afs.Open("/missing")
	assert.True(t, os.IsNotExist(err))
	err = afs.Mkdir("/docs", 0755)
	assert.True(t, os.IsExist(err))
	assert.Error(t, afs.MkdirAll("/docs/notes/big file.bin/sub", 0755))
	assert.Equal(t, "fatfs", afs.Name())
}

func TestAferoAppendAndAt(t *testing.T) {
	afs, _ := newTestAfero(t)
	require.NoError(t, afero.WriteFile(afs, "log.txt", []byte("one\n"), 0644))
	f, err := afs.OpenFile("log.txt", os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.WriteString("two\n")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("x"), 0)
	assert.Error(t, err)
	require.NoError(t, f.Close())

	f, err = afs.OpenFile("log.txt", os.O_RDWR, 0)
	require.NoError(t, err)
	n, err := f.WriteAt([]byte("ONE"), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	buf := make([]byte, 3)
	n, err = f.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "two", string(buf[:n]))
	// The position did not move.
	pos, err := f.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
	_, err = f.ReadAt(buf, 7)
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, f.Truncate(3))
	fi, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(3), fi.Size())
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	got, err := afero.ReadFile(afs, "log.txt")
	require.NoError(t, err)
	assert.Equal(t, "ONE", string(got))

	// O_TRUNC without O_CREATE empties an existing file.
	f, err = afs.OpenFile("log.txt", os.O_WRONLY|os.O_TRUNC, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	fi, err = afs.Stat("log.txt")
	require.NoError(t, err)
	assert.Zero(t, fi.Size())

	_, err = afs.OpenFile("log.txt", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	assert.True(t, os.IsExist(err))
}

func TestAferoWalkAndReadDir(t *testing.T) {
	afs, _ := newTestAfero(t)
	for _, name := range []string{"/a/1.txt", "/a/b/2.txt", "/c/3.txt", "/top.txt"} {
		require.NoError(t, afs.MkdirAll(filepath.Dir(name), 0755))
		require.NoError(t, afero.WriteFile(afs, name, []byte(name), 0644))
	}
	var walked []string
	err := afero.Walk(afs, "/", func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		walked = append(walked, path)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/a", "/a/1.txt", "/a/b", "/a/b/2.txt", "/c", "/c/3.txt", "/top.txt"}, walked)

	infos, err := afero.ReadDir(afs, "/a")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "1.txt", infos[0].Name())
	assert.False(t, infos[0].IsDir())
	assert.True(t, infos[1].IsDir())

	d, err := afs.Open("/a")
	require.NoError(t, err)
	names, err := d.Readdirnames(1)
	require.NoError(t, err)
	assert.Len(t, names, 1)
	names, err = d.Readdirnames(5)
	require.NoError(t, err)
	assert.Len(t, names, 1)
	_, err = d.Readdirnames(1)
	assert.ErrorIs(t, err, io.EOF)
	_, err = d.Seek(0, io.SeekStart)
	require.NoError(t, err)
	names, err = d.Readdirnames(-1)
	require.NoError(t, err)
	assert.Len(t, names, 2)
	_, err = d.Read(make([]byte, 1))
	assert.Error(t, err)
	require.NoError(t, d.Close())

	require.NoError(t, afs.RemoveAll("/a"))
	ok, err := afero.Exists(afs, "/a")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, afs.RemoveAll("/a"), "missing paths are not an error")
	require.NoError(t, afs.RemoveAll("/"))
	infos, err = afero.ReadDir(afs, "/")
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestAferoPermissionsAndRename(t *testing.T) {
	afs, fsys := newTestAfero(t)
	f, err := afs.OpenFile("ro.txt", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0444)
	require.NoError(t, err)
	_, err = f.WriteString("locked")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fi, err := afs.Stat("ro.txt")
	require.NoError(t, err)
	assert.Zero(t, fi.Mode()&0200)
	_, err = afs.OpenFile("ro.txt", os.O_WRONLY, 0)
	assert.True(t, os.IsPermission(err))
	assert.True(t, os.IsPermission(afs.Remove("ro.txt")))

	require.NoError(t, afs.Chmod("ro.txt", 0644))
	fi, err = afs.Stat("ro.txt")
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&0200)
	assert.Error(t, afs.Chown("ro.txt", 0, 0))

	mtime := testTime.Add(-48 * 3600e9)
	require.NoError(t, afs.Chtimes("ro.txt", mtime, mtime))
	fi, err = afs.Stat("ro.txt")
	require.NoError(t, err)
	assert.Equal(t, mtime, fi.ModTime())

	require.NoError(t, afs.Rename("ro.txt", "renamed.txt"))
	err = afs.Rename("ro.txt", "other.txt")
	var linkErr *os.LinkError
	require.ErrorAs(t, err, &linkErr)
	assert.True(t, os.IsNotExist(linkErr.Err))
	assert.Equal(t, []string{"renamed.txt"}, listNames(t, fsys, "/"))

	require.NoError(t, afs.Chmod("renamed.txt", 0444))
	require.NoError(t, afs.RemoveAll("renamed.txt"), "read-only files are removed")
}
