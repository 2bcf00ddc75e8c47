package migration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultedge/internal/audit"
	"vaultedge/internal/mapping"
	"vaultedge/internal/safebox"
	"vaultedge/internal/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *mapping.FileStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := mapping.NewFileStore(root)
	require.NoError(t, err)
	return New(root, store, safebox.NewNopLogger()), store, root
}

func TestMigrateUser_MissingUserIsNoOp(t *testing.T) {
	e, store, root := newTestEngine(t)

	res, err := e.MigrateUser("ghost")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	_, ok := store.Get("ghost")
	assert.False(t, ok)
	assert.NoFileExists(t, filepath.Join(root, mapping.FileName))
}

func TestMigrateUser_InvalidUserID(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.MigrateUser("../etc")
	assert.Error(t, err)
}

func TestMigrateUser_MovesSafeBoxes(t *testing.T) {
	e, store, root := newTestEngine(t)
	plain := filepath.Join(root, "alice")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "a.txt"), "alpha")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "a.txt.orig"), "1700000000000")
	testutil.WriteFile(t, filepath.Join(plain, "Photos", "2024", "b.jpg"), "bravo")
	testutil.WriteFile(t, filepath.Join(plain, "Docs.log"), "2024-01-15T10:30:00.000Z CREATE_SAFEBOX\n")
	testutil.WriteFile(t, filepath.Join(plain, audit.UserLogName), "2024-01-15T10:30:00.000Z Docs: CREATE_SAFEBOX\n")
	testutil.WriteFile(t, filepath.Join(plain, "Docs.retention"), "14")

	res, err := e.MigrateUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "YWxpY2U", res.MaskedUserID)
	assert.Equal(t, []string{"Docs", "Photos"}, res.Moved)
	assert.Empty(t, res.Merged)

	um, ok := store.Get("alice")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"Docs": "YWxpY2U6RG9j", "Photos": "YWxpY2U6UGhv"}, um.SafeBoxes)

	vault := filepath.Join(root, "YWxpY2U", safebox.RootVaultDir)
	assert.Equal(t, "alpha", testutil.ReadFile(t, filepath.Join(vault, "YWxpY2U6RG9j", "a.txt")))
	assert.Equal(t, "1700000000000", testutil.ReadFile(t, filepath.Join(vault, "YWxpY2U6RG9j", "a.txt.orig")))
	assert.Equal(t, "bravo", testutil.ReadFile(t, filepath.Join(vault, "YWxpY2U6UGhv", "2024", "b.jpg")))

	masked := filepath.Join(root, "YWxpY2U")
	assert.Equal(t, "14", testutil.ReadFile(t, filepath.Join(masked, "Docs.retention")))
	assert.Contains(t, testutil.ReadFile(t, filepath.Join(masked, "Docs.log")), "CREATE_SAFEBOX")
	assert.Contains(t, testutil.ReadFile(t, filepath.Join(masked, audit.UserLogName)), "Docs: CREATE_SAFEBOX")

	assert.NoDirExists(t, plain, "an emptied plaintext directory is removed")

	reloaded, err := mapping.NewFileStore(root)
	require.NoError(t, err)
	um, ok = reloaded.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "YWxpY2U", um.MaskedUserID)
}

func TestMigrateUser_SkipsNonSafeBoxEntries(t *testing.T) {
	e, store, root := newTestEngine(t)
	plain := filepath.Join(root, "alice")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "a.txt"), "a")
	testutil.WriteFile(t, filepath.Join(plain, ".cache", "x"), "x")
	testutil.WriteFile(t, filepath.Join(plain, "weird.log", "y"), "y")
	testutil.WriteFile(t, filepath.Join(plain, "old.retention", "z"), "z")
	testutil.WriteFile(t, filepath.Join(plain, "notes.txt"), "loose file")

	res, err := e.MigrateUser("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Docs"}, res.Moved)

	um, _ := store.Get("alice")
	assert.Len(t, um.SafeBoxes, 1)
	assert.DirExists(t, filepath.Join(plain, ".cache"))
	assert.DirExists(t, filepath.Join(plain, "weird.log"))
	assert.FileExists(t, filepath.Join(plain, "notes.txt"))
}

func TestMigrateUser_RerunMergesLeftovers(t *testing.T) {
	e, _, root := newTestEngine(t)
	plain := filepath.Join(root, "alice")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "a.txt"), "v1")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "keep.txt"), "keep")

	_, err := e.MigrateUser("alice")
	require.NoError(t, err)

	// Simulate content that a crashed run left behind.
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "a.txt"), "v2")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "new", "c.txt"), "charlie")

	res, err := e.MigrateUser("alice")
	require.NoError(t, err)
	assert.Empty(t, res.Moved)
	assert.Equal(t, []string{"Docs"}, res.Merged)

	dest := filepath.Join(root, "YWxpY2U", safebox.RootVaultDir, "YWxpY2U6RG9j")
	assert.Equal(t, "v2", testutil.ReadFile(t, filepath.Join(dest, "a.txt")), "last write wins")
	assert.Equal(t, "keep", testutil.ReadFile(t, filepath.Join(dest, "keep.txt")))
	assert.Equal(t, "charlie", testutil.ReadFile(t, filepath.Join(dest, "new", "c.txt")))
	assert.NoDirExists(t, plain)

	// A third run has nothing left to do.
	res, err = e.MigrateUser("alice")
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, "YWxpY2U", res.MaskedUserID)
}

func TestMigrateUser_KeepsExistingMaskedID(t *testing.T) {
	e, store, root := newTestEngine(t)
	store.Put("alice", &safebox.UserMapping{MaskedUserID: "custom1", SafeBoxes: map[string]string{"Docs": "box1"}})
	testutil.WriteFile(t, filepath.Join(root, "alice", "Docs", "a.txt"), "a")

	res, err := e.MigrateUser("alice")
	require.NoError(t, err)
	assert.Equal(t, "custom1", res.MaskedUserID)
	assert.FileExists(t, filepath.Join(root, "custom1", safebox.RootVaultDir, "box1", "a.txt"))
}

func TestMigrateUser_TruncatedMasksDoNotCollide(t *testing.T) {
	e, store, root := newTestEngine(t)
	plain := filepath.Join(root, "alice@example.com")
	testutil.WriteFile(t, filepath.Join(plain, "Docs", "d.txt"), "docs")
	testutil.WriteFile(t, filepath.Join(plain, "Photos", "p.txt"), "photos")

	_, err := e.MigrateUser("alice@example.com")
	require.NoError(t, err)

	um, _ := store.Get("alice@example.com")
	assert.Equal(t, "YWxpY2VAZXhh", um.SafeBoxes["Docs"])
	assert.Equal(t, "YWxpY2VAZXhh-2", um.SafeBoxes["Photos"])

	vault := filepath.Join(root, um.MaskedUserID, safebox.RootVaultDir)
	assert.Equal(t, "docs", testutil.ReadFile(t, filepath.Join(vault, "YWxpY2VAZXhh", "d.txt")))
	assert.Equal(t, "photos", testutil.ReadFile(t, filepath.Join(vault, "YWxpY2VAZXhh-2", "p.txt")))
}

func TestMigrateUser_ManagerSeesMigratedLayout(t *testing.T) {
	e, store, root := newTestEngine(t)
	clock := testutil.FixedClock()
	logger := safebox.NewNopLogger()
	m, err := safebox.NewManager(root, store, audit.New(clock, logger), safebox.Options{}, logger, clock)
	require.NoError(t, err)

	_, err = m.SaveFile("bob", "Photos", "beach.jpg", strings.NewReader("sand"), 4, nil)
	require.NoError(t, err)
	before, err := m.Tree("bob", "Photos")
	require.NoError(t, err)

	_, err = e.MigrateUser("bob")
	require.NoError(t, err)

	names, err := m.ListSafeBoxes("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"Photos"}, names)

	after, err := m.Tree("bob", "Photos")
	require.NoError(t, err)
	assert.Equal(t, len(before.Children), len(after.Children))

	fc, err := m.ReadFile("bob", "Photos", "beach.jpg")
	require.NoError(t, err)
	fc.Reader.Close()
	assert.Equal(t, int64(4), fc.Size)

	entries, err := m.ReadAudit("bob", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "audit history follows the user")

	_, err = os.Stat(filepath.Join(root, "Ym9i", safebox.RootVaultDir, "Ym9iOlBob3Rv", "beach.jpg"))
	assert.NoError(t, err)
}

func TestMigrateUser_ManagerBoxesSurviveSkipRule(t *testing.T) {
	e, store, root := newTestEngine(t)
	clock := testutil.FixedClock()
	logger := safebox.NewNopLogger()
	m, err := safebox.NewManager(root, store, audit.New(clock, logger), safebox.Options{}, logger, clock)
	require.NoError(t, err)

	for _, box := range []string{"notes.log", "x.retention", ".hidden"} {
		_, err := m.SaveFile("bob", box, "a.txt", strings.NewReader("a"), 1, nil)
		assert.ErrorIs(t, err, safebox.ErrInvalidArgument, "SaveFile(%q)", box)
	}
	for _, box := range []string{"Photos", "notes_log"} {
		_, err := m.CreateSafeBox("bob", box)
		require.NoError(t, err)
	}

	before, err := m.ListSafeBoxes("bob")
	require.NoError(t, err)
	_, err = e.MigrateUser("bob")
	require.NoError(t, err)
	after, err := m.ListSafeBoxes("bob")
	require.NoError(t, err)

	assert.Equal(t, []string{"Photos", "notes_log"}, before)
	assert.Equal(t, before, after, "every box the manager accepts must survive migration")
}
