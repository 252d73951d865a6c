package tilestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

const (
	metadataFile = "wmts.json"
	infoSuffix   = ".inf"
	docSuffix    = ".xml"
	tilesDir     = "tiles"
	docsDir      = "docs"
	dirPerm      = 0o750
	filePerm     = 0o640
)

// FS keeps the cache on a filesystem:
//
//	<root>/wmts.json                  layout metadata
//	<root>/<id>.inf                   project name
//	<root>/<id>/tiles/<layer>/<digest>/<layout path>
//	<root>/<id>/docs/<document id>.xml
type FS struct {
	bfs    billy.Filesystem
	layout Layout
}

// OpenFS roots an FS at dir on the local disk.
func OpenFS(dir string, layout Layout) (*FS, error) {
	if dir == "" {
		return nil, errors.New("tilestore: cache root dir is required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("tilestore: create root %q: %w", dir, err)
	}
	return NewFS(osfs.New(dir), layout)
}

// NewFS uses bfs as the cache root. A root that already carries wmts.json
// keeps its recorded layout; otherwise layout is recorded there.
func NewFS(bfs billy.Filesystem, layout Layout) (*FS, error) {
	type meta struct {
		Layout Layout `json:"layout"`
	}
	if b, err := util.ReadFile(bfs, metadataFile); err == nil {
		var m meta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("tilestore: decode metadata: %w", err)
		}
		existing, err := ParseLayout(string(m.Layout))
		if err != nil {
			return nil, fmt.Errorf("tilestore: metadata: %w", err)
		}
		return &FS{bfs: bfs, layout: existing}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("tilestore: read metadata: %w", err)
	}

	b, err := json.Marshal(meta{Layout: layout})
	if err != nil {
		return nil, fmt.Errorf("tilestore: encode metadata: %w", err)
	}
	if err := util.WriteFile(bfs, metadataFile, b, filePerm); err != nil {
		return nil, fmt.Errorf("tilestore: write metadata: %w", err)
	}
	return &FS{bfs: bfs, layout: layout}, nil
}

func (f *FS) Layout() Layout { return f.layout }

// TilePath returns where t is stored for project, relative to the root.
func (f *FS) TilePath(project string, t Tile) (string, error) {
	if !validName(t.Layer) || !validName(t.Matrix) {
		return "", fmt.Errorf("%w: layer=%q matrix=%q", ErrInvalidName, t.Layer, t.Matrix)
	}
	ext, err := t.Ext()
	if err != nil {
		return "", err
	}
	digest := fmt.Sprintf("%016x", xxhash.Sum64String(
		strings.Join([]string{strings.TrimSpace(project), t.Layer, t.MatrixSet, t.Style}, "\x00")))
	id := model.CollectionID(project)
	return path.Join(id, tilesDir, t.Layer, digest, f.layout.Path(t.Row, t.Col, t.Matrix, ext)), nil
}

func (f *FS) PutTile(ctx context.Context, project string, t Tile, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := f.TilePath(project, t)
	if err != nil {
		return err
	}
	if err := f.writeInfo(project); err != nil {
		return err
	}
	if err := f.write(p, data); err != nil {
		return unavailable("put_tile", err)
	}
	return nil
}

func (f *FS) PutDocument(ctx context.Context, project, doc string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(doc) == "" {
		return fmt.Errorf("%w: empty document", ErrInvalidName)
	}
	if err := f.writeInfo(project); err != nil {
		return err
	}
	p := path.Join(model.CollectionID(project), docsDir, model.DocumentID(doc)+docSuffix)
	if err := f.write(p, data); err != nil {
		return unavailable("put_document", err)
	}
	return nil
}

func (f *FS) DeleteLayerTiles(ctx context.Context, id, layer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validName(layer) {
		// never written, nothing to delete
		return nil
	}
	if err := util.RemoveAll(f.bfs, path.Join(id, tilesDir, layer)); err != nil {
		return unavailable("delete_layer", err)
	}
	return nil
}

func (f *FS) DeleteAllDocuments(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := util.RemoveAll(f.bfs, path.Join(id, docsDir)); err != nil {
		return unavailable("delete_documents", err)
	}
	return nil
}

func (f *FS) DeleteCollection(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := util.RemoveAll(f.bfs, id); err != nil {
		return unavailable("delete_collection", err)
	}
	if err := f.bfs.Remove(id + infoSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable("delete_collection", err)
	}
	return nil
}

// Scan walks the cache root. Collections are those with an .inf file; a
// directory without one is ignored.
func (f *FS) Scan(ctx context.Context) ([]Scanned, error) {
	entries, err := f.readDir("/")
	if err != nil {
		return nil, unavailable("scan", err)
	}

	var out []Scanned
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), infoSuffix) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), infoSuffix)
		project, err := util.ReadFile(f.bfs, e.Name())
		if err != nil {
			return nil, unavailable("scan", err)
		}
		sc := Scanned{ID: id, Project: strings.TrimSpace(string(project))}

		layers, err := f.readDir(path.Join(id, tilesDir))
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, l := range layers {
			if !l.IsDir() {
				continue
			}
			n, err := f.countFiles(path.Join(id, tilesDir, l.Name()))
			if err != nil {
				return nil, unavailable("scan", err)
			}
			sc.Layers = append(sc.Layers, model.Layer{ID: l.Name(), Tiles: n})
		}

		docs, err := f.readDir(path.Join(id, docsDir))
		if err != nil {
			return nil, unavailable("scan", err)
		}
		for _, d := range docs {
			if !d.IsDir() && strings.HasSuffix(d.Name(), docSuffix) {
				sc.Documents = append(sc.Documents, strings.TrimSuffix(d.Name(), docSuffix))
			}
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *FS) writeInfo(project string) error {
	name := model.CollectionID(project) + infoSuffix
	if _, err := f.bfs.Stat(name); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return unavailable("write_info", err)
	}
	if err := util.WriteFile(f.bfs, name, []byte(strings.TrimSpace(project)), filePerm); err != nil {
		return unavailable("write_info", err)
	}
	return nil
}

func (f *FS) write(p string, data []byte) error {
	if err := f.bfs.MkdirAll(path.Dir(p), dirPerm); err != nil {
		return fmt.Errorf("mkdir %q: %w", path.Dir(p), err)
	}
	if err := util.WriteFile(f.bfs, p, data, filePerm); err != nil {
		return fmt.Errorf("write %q: %w", p, err)
	}
	return nil
}

// readDir returns entries sorted by name; a missing directory is empty.
func (f *FS) readDir(p string) ([]fs.FileInfo, error) {
	infos, err := f.bfs.ReadDir(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readdir %q: %w", p, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (f *FS) countFiles(root string) (int64, error) {
	var n int64
	err := util.Walk(f.bfs, root, func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %q: %w", root, err)
	}
	return n, nil
}
