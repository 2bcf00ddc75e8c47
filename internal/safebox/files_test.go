package safebox_test

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultedge/internal/safebox"
	"vaultedge/internal/testutil"
)

func upload(t *testing.T, m *safebox.Manager, user, box, rel, content string) string {
	t.Helper()
	p, err := m.SaveFile(user, box, rel, strings.NewReader(content), int64(len(content)), nil)
	require.NoError(t, err)
	return p
}

func ptr[T any](v T) *T { return &v }

func TestSaveFile(t *testing.T) {
	f := newFixture(t, safebox.Options{})

	p, err := f.m.SaveFile("alice", "Docs", "reports/q1.txt", strings.NewReader("numbers"), 7, ptr(int64(1700000000000)))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.root, "alice", "Docs", "reports", "q1.txt"), p)
	assert.Equal(t, "numbers", testutil.ReadFile(t, p))
	assert.Equal(t, "1700000000000", testutil.ReadFile(t, p+safebox.SidecarSuffix))

	info, err := os.Stat(p)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(f.clock.Now()))

	boxLog := testutil.ReadFile(t, filepath.Join(f.root, "alice", "Docs.log"))
	assert.Contains(t, boxLog, "UPLOAD_FILE reports/q1.txt")
}

func TestSaveFile_OverwritesAndSkipsZeroOriginalDate(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "a.txt", "first")

	p, err := f.m.SaveFile("alice", "Docs", "a.txt", strings.NewReader("second"), 6, ptr(int64(0)))
	require.NoError(t, err)
	assert.Equal(t, "second", testutil.ReadFile(t, p))
	assert.False(t, testutil.Exists(p+safebox.SidecarSuffix))
}

func TestSaveFile_Rejections(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	_, err := f.m.CreateSubfolder("alice", "Docs", "folder")
	require.NoError(t, err)

	tests := []struct {
		name string
		rel  string
		size int64
		want error
	}{
		{"escape", "../../etc/passwd", 1, safebox.ErrSecurityViolation},
		{"sibling safebox", "../Photos/x.txt", 1, safebox.ErrSecurityViolation},
		{"root", "", 1, safebox.ErrInvalidArgument},
		{"sidecar name", "a.txt.orig", 1, safebox.ErrInvalidArgument},
		{"temp name", ".upload-123", 1, safebox.ErrInvalidArgument},
		{"negative size", "a.txt", -1, safebox.ErrInvalidArgument},
		{"folder in the way", "folder", 1, safebox.ErrInvalidArgument},
		{"too large", "big.bin", 2*safebox.GiB + 1, safebox.ErrPayloadTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = testutil.UnreadableReader{T: t}
			_, err := f.m.SaveFile("alice", "Docs", tt.rel, body, tt.size, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.NoDirExists(t, filepath.Join(f.root, "alice", "Photos"))
}

func TestSaveFile_SizeMismatchLeavesNothing(t *testing.T) {
	f := newFixture(t, safebox.Options{})

	_, err := f.m.SaveFile("alice", "Docs", "a.txt", strings.NewReader("short"), 10, nil)
	assert.ErrorIs(t, err, safebox.ErrInvalidArgument)
	_, err = f.m.SaveFile("alice", "Docs", "b.txt", strings.NewReader("much too long"), 4, nil)
	assert.ErrorIs(t, err, safebox.ErrInvalidArgument)

	entries, err := os.ReadDir(filepath.Join(f.root, "alice", "Docs"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial or temp files may remain")
}

func TestSaveFile_QuotaCheckedBeforeReading(t *testing.T) {
	// "f" is a 1 GiB safebox; raise the upload limit so the quota is what trips.
	f := newFixture(t, safebox.Options{MaxUploadBytes: 4 * safebox.GiB})

	_, err := f.m.SaveFile("alice", "f", "movie.mkv", testutil.UnreadableReader{T: t}, safebox.GiB+safebox.GiB/2, nil)

	var e *safebox.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, safebox.KindQuotaExceeded, e.Kind)
	assert.Contains(t, e.Message, "1.0 GiB")

	u, err := f.m.Usage("alice", "f")
	require.NoError(t, err)
	assert.Zero(t, u.UsedBytes)
}

func TestSaveFile_QuotaCountsExistingContent(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	box := filepath.Join(f.root, "alice", "f")
	testutil.SparseFile(t, filepath.Join(box, "big.bin"), safebox.GiB-5)

	_, err := f.m.SaveFile("alice", "f", "x.txt", testutil.UnreadableReader{T: t}, 6, nil)
	assert.ErrorIs(t, err, safebox.ErrQuotaExceeded)

	upload(t, f.m, "alice", "f", "x.txt", "12345")
	u, err := f.m.Usage("alice", "f")
	require.NoError(t, err)
	assert.Equal(t, safebox.GiB, u.UsedBytes)
	assert.Zero(t, u.Remaining())
}

func TestSaveFile_ConcurrentUploadsRespectQuota(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	testutil.SparseFile(t, filepath.Join(f.root, "alice", "f", "big.bin"), safebox.GiB-100)

	const uploads = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := range uploads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := string(rune('a'+i)) + ".bin"
			_, err := f.m.SaveFile("alice", "f", name, strings.NewReader(strings.Repeat("x", 20)), 20, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case safebox.KindOf(err) == safebox.KindQuotaExceeded:
				rejected++
			default:
				t.Errorf("SaveFile(%s) error = %v", name, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 5, rejected)
	u, err := f.m.Usage("alice", "f")
	require.NoError(t, err)
	assert.Equal(t, safebox.GiB, u.UsedBytes)
}

func TestReadFile(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "notes/todo.txt", "buy milk\n")

	fc, err := f.m.ReadFile("alice", "Docs", "notes/todo.txt")
	require.NoError(t, err)
	defer fc.Reader.Close()

	assert.Equal(t, "todo.txt", fc.Name)
	assert.Equal(t, int64(9), fc.Size)
	assert.Equal(t, "text/plain; charset=utf-8", fc.ContentType)
	data, err := io.ReadAll(fc.Reader)
	require.NoError(t, err)
	assert.Equal(t, "buy milk\n", string(data), "content type sniffing must not consume the body")
}

func TestReadFile_Errors(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "a.txt", "x")
	testutil.WriteFile(t, filepath.Join(f.root, "alice", "Docs", "a.txt.orig"), "1")

	_, err := f.m.ReadFile("alice", "Nope", "a.txt")
	assert.ErrorIs(t, err, safebox.ErrNotFound)
	_, err = f.m.ReadFile("alice", "Docs", "missing.txt")
	assert.ErrorIs(t, err, safebox.ErrNotFound)
	_, err = f.m.ReadFile("alice", "Docs", "")
	assert.ErrorIs(t, err, safebox.ErrNotFound)
	_, err = f.m.ReadFile("alice", "Docs", "a.txt.orig")
	assert.ErrorIs(t, err, safebox.ErrNotFound)
	_, err = f.m.ReadFile("alice", "Docs", "../Docs.log")
	assert.ErrorIs(t, err, safebox.ErrSecurityViolation)
}

func TestDeleteFile(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	p, err := f.m.SaveFile("alice", "Docs", "a.txt", strings.NewReader("x"), 1, ptr(int64(42)))
	require.NoError(t, err)
	_, err = f.m.CreateSubfolder("alice", "Docs", "dir")
	require.NoError(t, err)

	require.NoError(t, f.m.DeleteFile("alice", "Docs", "a.txt"))
	assert.False(t, testutil.Exists(p))
	assert.False(t, testutil.Exists(p+safebox.SidecarSuffix))

	assert.ErrorIs(t, f.m.DeleteFile("alice", "Docs", "a.txt"), safebox.ErrNotFound)
	assert.ErrorIs(t, f.m.DeleteFile("alice", "Docs", "dir"), safebox.ErrInvalidArgument)
	assert.ErrorIs(t, f.m.DeleteFile("alice", "Docs", ""), safebox.ErrInvalidArgument)
	assert.ErrorIs(t, f.m.DeleteFile("alice", "Docs", "../Docs.log"), safebox.ErrSecurityViolation)

	boxLog := testutil.ReadFile(t, filepath.Join(f.root, "alice", "Docs.log"))
	assert.Contains(t, boxLog, "DELETE_FILE a.txt")
}

func TestDeleteFolder(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "trip/day1/a.jpg", "aaa")
	upload(t, f.m, "alice", "Docs", "trip/day2/b.jpg", "bbb")
	upload(t, f.m, "alice", "Docs", "keep.txt", "k")

	require.NoError(t, f.m.DeleteFolder("alice", "Docs", "trip"))
	assert.NoDirExists(t, filepath.Join(f.root, "alice", "Docs", "trip"))
	assert.FileExists(t, filepath.Join(f.root, "alice", "Docs", "keep.txt"))

	assert.ErrorIs(t, f.m.DeleteFolder("alice", "Docs", "trip"), safebox.ErrNotFound)
	assert.ErrorIs(t, f.m.DeleteFolder("alice", "Docs", "keep.txt"), safebox.ErrInvalidArgument)
	assert.ErrorIs(t, f.m.DeleteFolder("alice", "Docs", ""), safebox.ErrInvalidArgument)
	assert.ErrorIs(t, f.m.DeleteFolder("alice", "Docs", ".."), safebox.ErrSecurityViolation)
}

func TestRenameFile(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	_, err := f.m.SaveFile("alice", "Docs", "sub/old.txt", strings.NewReader("x"), 1, ptr(int64(42)))
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	require.NoError(t, f.m.RenameFile("alice", "Docs", "sub/old.txt", "new.txt"))

	dest := filepath.Join(f.root, "alice", "Docs", "sub", "new.txt")
	assert.Equal(t, "x", testutil.ReadFile(t, dest))
	assert.Equal(t, "42", testutil.ReadFile(t, dest+safebox.SidecarSuffix))
	assert.False(t, testutil.Exists(filepath.Join(f.root, "alice", "Docs", "sub", "old.txt.orig")))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(f.clock.Now()))

	boxLog := testutil.ReadFile(t, filepath.Join(f.root, "alice", "Docs.log"))
	assert.Contains(t, boxLog, "RENAME_FILE sub/old.txt -> sub/new.txt")
}

func TestRename_Errors(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "a.txt", "a")
	upload(t, f.m, "alice", "Docs", "b.txt", "b")
	_, err := f.m.CreateSubfolder("alice", "Docs", "dir")
	require.NoError(t, err)

	tests := []struct {
		name    string
		folder  bool
		rel     string
		newName string
		want    error
	}{
		{"collision", false, "a.txt", "b.txt", safebox.ErrAlreadyExists},
		{"same name", false, "a.txt", "a.txt", safebox.ErrAlreadyExists},
		{"missing", false, "nope.txt", "c.txt", safebox.ErrNotFound},
		{"file as folder", true, "a.txt", "c", safebox.ErrNotFound},
		{"folder as file", false, "dir", "c", safebox.ErrNotFound},
		{"blank name", false, "a.txt", "  ", safebox.ErrInvalidArgument},
		{"root", true, "", "x", safebox.ErrInvalidArgument},
		{"escape", false, "a.txt", "../../x.txt", safebox.ErrSecurityViolation},
		{"reserved", false, "a.txt", "b.txt.orig", safebox.ErrInvalidArgument},
		{"folder collision", true, "dir", "a.txt", safebox.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rename := f.m.RenameFile
			if tt.folder {
				rename = f.m.RenameFolder
			}
			assert.ErrorIs(t, rename("alice", "Docs", tt.rel, tt.newName), tt.want)
		})
	}
	assert.Equal(t, "a", testutil.ReadFile(t, filepath.Join(f.root, "alice", "Docs", "a.txt")))
}

func TestRenameFolder(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "2023/a.txt", "a")

	require.NoError(t, f.m.RenameFolder("alice", "Docs", "2023", "archive"))
	assert.FileExists(t, filepath.Join(f.root, "alice", "Docs", "archive", "a.txt"))
	assert.NoDirExists(t, filepath.Join(f.root, "alice", "Docs", "2023"))
}
