package safebox_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultedge/internal/safebox"
)

func childNames(n *safebox.Node) []string {
	names := make([]string, 0, len(n.Children))
	for _, c := range n.Children {
		names = append(names, c.Name)
	}
	return names
}

func TestTree(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "b.txt", "bb")
	upload(t, f.m, "alice", "Docs", "A.txt", "a")
	upload(t, f.m, "alice", "Docs", "docs/inner/c.txt", "ccc")
	_, err := f.m.CreateSubfolder("alice", "Docs", "zeta")
	require.NoError(t, err)
	_, err = f.m.CreateSubfolder("alice", "Docs", "Alpha")
	require.NoError(t, err)
	_, err = f.m.SaveFile("alice", "Docs", "docs/photo.jpg", stringsReader("jpg"), 3, ptr(int64(1700000000000)))
	require.NoError(t, err)

	root, err := f.m.Tree("alice", "Docs")
	require.NoError(t, err)

	assert.Equal(t, "Docs", root.Name)
	assert.Equal(t, "", root.Path)
	assert.Equal(t, safebox.NodeFolder, root.Type)
	assert.Equal(t, []string{"A.txt", "b.txt", "Alpha", "docs", "zeta"}, childNames(root))

	docs := root.Children[3]
	assert.Equal(t, "docs", docs.Path)
	assert.Equal(t, []string{"photo.jpg", "inner"}, childNames(docs))

	photo := docs.Children[0]
	assert.Equal(t, "docs/photo.jpg", photo.Path)
	require.NotNil(t, photo.Size)
	assert.Equal(t, int64(3), *photo.Size)
	require.NotNil(t, photo.OriginalDate)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), *photo.OriginalDate)
	require.NotNil(t, photo.ModifiedAt)
	assert.NotNil(t, photo.CreatedAt)

	inner := docs.Children[1]
	assert.Equal(t, "docs/inner", inner.Path)
	assert.Equal(t, []string{"c.txt"}, childNames(inner))
	assert.Nil(t, inner.Size)

	zeta := root.Children[4]
	assert.NotNil(t, zeta.Children)
	assert.Empty(t, zeta.Children)
}

func TestTree_HidesBookkeepingFiles(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	upload(t, f.m, "alice", "Docs", "a.txt", "a")
	dir := filepath.Join(f.root, "alice", "Docs")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt.orig"), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".upload-123"), []byte("partial"), 0644))

	root, err := f.m.Tree("alice", "Docs")
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, childNames(root))
	assert.Nil(t, root.Children[0].OriginalDate, "malformed sidecars are ignored")
}

func TestTree_EmptySafeBox(t *testing.T) {
	f := newFixture(t, safebox.Options{})
	root, err := f.m.Tree("alice", "Empty")
	require.NoError(t, err)
	assert.Equal(t, "Empty", root.Name)
	assert.Empty(t, root.Children)
}
