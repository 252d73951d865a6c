package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-git/go-billy/v5/memfs"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/invalidation"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/keylock"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/registry"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/store"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/tilestore"
)

type env struct {
	srv   *httptest.Server
	reg   *registry.Registry
	tiles *tilestore.FS
}

func newEnv(t *testing.T) env {
	t.Helper()
	tiles, err := tilestore.NewFS(memfs.New(), tilestore.LayoutTC)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	s := store.NewMemory()
	locks := keylock.New()
	reg := registry.New(s, locks, nil)
	eng := invalidation.New(s, tiles, tiles, invalidation.WithLocks(locks))

	r := chi.NewRouter()
	New(reg, eng, nil, string(tilestore.LayoutTC)).Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return env{srv: srv, reg: reg, tiles: tiles}
}

func do(t *testing.T, method, url string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func decode[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	return v
}

type collectionView struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	Documents int    `json:"documents"`
	Layers    []struct {
		ID string `json:"id"`
	} `json:"layers"`
}

func (c collectionView) layerIDs() []string {
	out := []string{}
	for _, l := range c.Layers {
		out = append(out, l.ID)
	}
	return out
}

func seedAlpha(t *testing.T, e env) string {
	t.Helper()
	ctx := context.Background()
	for _, l := range []string{"l1", "l2"} {
		if err := e.tiles.PutTile(ctx, "alpha", tilestore.Tile{Layer: l, Matrix: "3", Row: 1, Col: 2}, []byte("png")); err != nil {
			t.Fatalf("PutTile: %v", err)
		}
		if _, err := e.reg.RecordTile(ctx, "alpha", l, 1); err != nil {
			t.Fatalf("RecordTile: %v", err)
		}
	}
	for i := range 3 {
		doc := fmt.Sprintf("GetCapabilities&n=%d", i)
		_ = e.tiles.PutDocument(ctx, "alpha", doc, []byte("<Capabilities/>"))
		if _, err := e.reg.RecordDocument(ctx, "alpha", doc); err != nil {
			t.Fatalf("RecordDocument: %v", err)
		}
	}
	return model.CollectionID("alpha")
}

func TestAlphaScenario(t *testing.T) {
	e := newEnv(t)
	id := seedAlpha(t, e)
	base := e.srv.URL + "/collections/" + id

	code, body := do(t, http.MethodDelete, base+"/layers/l1")
	if code != http.StatusOK {
		t.Fatalf("delete l1: %d %s", code, body)
	}
	_, body = do(t, http.MethodGet, base)
	c := decode[collectionView](t, body)
	if got := c.layerIDs(); len(got) != 1 || got[0] != "l2" || c.Documents != 3 {
		t.Fatalf("after layer delete: layers=%v docs=%d", got, c.Documents)
	}

	if code, body = do(t, http.MethodDelete, base+"/layers"); code != http.StatusOK {
		t.Fatalf("delete layers: %d %s", code, body)
	}
	_, body = do(t, http.MethodGet, base)
	if c = decode[collectionView](t, body); len(c.Layers) != 0 || c.Documents != 3 {
		t.Fatalf("after layers delete: %+v", c)
	}

	if code, body = do(t, http.MethodDelete, base+"/docs"); code != http.StatusOK {
		t.Fatalf("delete docs: %d %s", code, body)
	}
	_, body = do(t, http.MethodGet, base+"/docs")
	if d := decode[struct{ Documents int }](t, body); d.Documents != 0 {
		t.Fatalf("documents=%d", d.Documents)
	}

	code, body = do(t, http.MethodDelete, base)
	if code != http.StatusOK {
		t.Fatalf("delete project: %d %s", code, body)
	}
	if res := decode[model.CascadeResult](t, body); !res.CollectionRemoved {
		t.Fatalf("result=%+v", res)
	}

	code, body = do(t, http.MethodGet, base)
	if code != http.StatusNotFound || !strings.Contains(body, collectionNotFound) {
		t.Fatalf("get after delete: %d %q", code, body)
	}
}

func TestRetries(t *testing.T) {
	e := newEnv(t)
	id := seedAlpha(t, e)
	base := e.srv.URL + "/collections/" + id

	for range 2 {
		if code, body := do(t, http.MethodDelete, base+"/layers/l1"); code != http.StatusOK {
			t.Fatalf("delete layer: %d %s", code, body)
		}
		if code, body := do(t, http.MethodDelete, base+"/layers"); code != http.StatusOK {
			t.Fatalf("delete layers: %d %s", code, body)
		}
	}
	for range 2 {
		if code, body := do(t, http.MethodDelete, base); code != http.StatusOK {
			t.Fatalf("delete project: %d %s", code, body)
		}
	}
	// the project is gone; single-resource removals now report it
	for _, p := range []string{"/layers", "/layers/l2", "/docs"} {
		if code, _ := do(t, http.MethodDelete, base+p); code != http.StatusNotFound {
			t.Fatalf("delete %s on removed project: %d", p, code)
		}
	}
}

func TestReads(t *testing.T) {
	e := newEnv(t)
	id := seedAlpha(t, e)

	code, body := do(t, http.MethodGet, e.srv.URL+"/collections")
	if code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	list := decode[struct {
		Layout      string `json:"cache_layout"`
		Collections []struct {
			ID      string `json:"id"`
			Project string `json:"project"`
			Links   []link `json:"links"`
		} `json:"collections"`
	}](t, body)
	if list.Layout != "tc" || len(list.Collections) != 1 || list.Collections[0].Project != "alpha" {
		t.Fatalf("list=%+v", list)
	}
	if href := list.Collections[0].Links[0].Href; href != "/collections/"+id {
		t.Fatalf("href=%q", href)
	}

	code, body = do(t, http.MethodGet, e.srv.URL+"/collections/"+id+"/layers/l2")
	if code != http.StatusOK || !strings.Contains(body, `"tiles":1`) {
		t.Fatalf("layer: %d %s", code, body)
	}
	code, body = do(t, http.MethodGet, e.srv.URL+"/collections/"+id+"/layers/l9")
	if code != http.StatusNotFound || !strings.Contains(body, layerNotFound) {
		t.Fatalf("missing layer: %d %q", code, body)
	}
	code, body = do(t, http.MethodGet, e.srv.URL+"/collections/nope/docs")
	if code != http.StatusNotFound || !strings.HasPrefix(body, collectionNotFound) {
		t.Fatalf("missing collection docs: %d %q", code, body)
	}
	if code, body = do(t, http.MethodGet, e.srv.URL+"/"); code != http.StatusOK || !strings.Contains(body, "/collections") {
		t.Fatalf("landing: %d %s", code, body)
	}
}

type failingRemover struct {
	Remover
	err error
	res model.CascadeResult
}

func (f failingRemover) RemoveAllLayers(context.Context, string) (model.CascadeResult, error) {
	return f.res, f.err
}

type staticReader struct{ err error }

func (s staticReader) List(context.Context) ([]model.Summary, error) { return nil, s.err }
func (s staticReader) Get(context.Context, string) (model.Collection, error) {
	return model.Collection{}, s.err
}

func TestErrorMapping(t *testing.T) {
	down := fmt.Errorf("store get: %w", model.ErrStorageUnavailable)
	partial := model.CascadeResult{
		Op: invalidation.OpRemoveLayers, ID: "abc", Removed: []string{"l1"},
		Failed: []model.ItemFailure{{Type: model.ItemLayer, ID: "l2", Kind: model.KindStorageUnavailable, Err: down}},
	}

	cases := []struct {
		name   string
		reader Reader
		rm     Remover
		method string
		path   string
		code   int
		want   string
	}{
		{"read storage down", staticReader{err: down}, nil, http.MethodGet, "/collections", http.StatusServiceUnavailable, "storage unavailable"},
		{"partial before sentinel", staticReader{}, failingRemover{err: partial.Err(), res: partial}, http.MethodDelete, "/collections/abc/layers", http.StatusInternalServerError, "layer l2 (storage_unavailable)"},
		{"remove storage down", staticReader{}, failingRemover{err: down}, http.MethodDelete, "/collections/abc/layers", http.StatusServiceUnavailable, "storage unavailable"},
		{"remove missing", staticReader{}, failingRemover{err: model.ErrNotFound}, http.MethodDelete, "/collections/abc/layers", http.StatusNotFound, collectionNotFound},
	}
	for _, tc := range cases {
		r := chi.NewRouter()
		New(tc.reader, tc.rm, nil, "tc").Mount(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if rr.Code != tc.code {
			t.Fatalf("%s: status=%d want %d body=%q", tc.name, rr.Code, tc.code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
			t.Fatalf("%s: content-type=%q", tc.name, ct)
		}
		if !strings.Contains(rr.Body.String(), tc.want) {
			t.Fatalf("%s: body=%q want %q", tc.name, rr.Body.String(), tc.want)
		}
	}
}
