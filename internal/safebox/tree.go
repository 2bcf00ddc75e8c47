package safebox

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Tree returns the safebox's folder hierarchy. The root node is named after
// the safebox and has an empty path.
func (m *Manager) Tree(userID, box string) (*Node, error) {
	const op = "Tree"
	_, base, err := m.resolveSafeBox(op, userID, box, true)
	if err != nil {
		return nil, err
	}
	root, err := buildTree(base, box)
	if err != nil {
		return nil, ioError(op, "", err)
	}
	return root, nil
}

// treeBuilder assembles nodes from a walk whose entries may arrive before
// their ancestors have been attached.
type treeBuilder struct {
	root    *Node
	folders map[string]*Node // slash-joined relative path -> folder node
}

func newTreeBuilder(name string) *treeBuilder {
	root := &Node{Type: NodeFolder, Name: name, Path: "", Children: []*Node{}}
	return &treeBuilder{root: root, folders: map[string]*Node{"": root}}
}

// folder returns the folder node at rel, creating it and any missing
// ancestors.
func (b *treeBuilder) folder(rel string) *Node {
	if n, ok := b.folders[rel]; ok {
		return n
	}
	parent := b.folder(parentOf(rel))
	n := &Node{Type: NodeFolder, Name: path.Base(rel), Path: rel, Children: []*Node{}}
	parent.Children = append(parent.Children, n)
	b.folders[rel] = n
	return n
}

func (b *treeBuilder) addFile(n *Node) {
	parent := b.folder(parentOf(n.Path))
	parent.Children = append(parent.Children, n)
}

func parentOf(rel string) string {
	if i := strings.LastIndexByte(rel, '/'); i >= 0 {
		return rel[:i]
	}
	return ""
}

// sort orders every folder's children by type, then case-folded name.
func (b *treeBuilder) sort() {
	fold := cases.Fold()
	for _, n := range b.folders {
		slices.SortFunc(n.Children, func(x, y *Node) int {
			return cmp.Or(
				cmp.Compare(x.Type, y.Type),
				strings.Compare(fold.String(x.Name), fold.String(y.Name)),
				strings.Compare(x.Name, y.Name),
			)
		})
	}
}

func buildTree(base, name string) (*Node, error) {
	b := newTreeBuilder(name)

	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries removed mid-walk are skipped.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if p == base {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			b.folder(rel)
			return nil
		}
		if !d.Type().IsRegular() || isHidden(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		size := info.Size()
		mod := info.ModTime()
		n := &Node{
			Type:         NodeFile,
			Name:         d.Name(),
			Path:         rel,
			Size:         &size,
			ModifiedAt:   &mod,
			CreatedAt:    birthTime(info),
			OriginalDate: readOriginalDate(p + SidecarSuffix),
		}
		b.addFile(n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.sort()
	return b.root, nil
}

// readOriginalDate parses a sidecar's epoch milliseconds. Missing or
// malformed sidecars yield nil.
func readOriginalDate(sidecar string) *time.Time {
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return nil
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
