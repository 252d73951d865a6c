package router

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

const (
	collectionNotFound = "Collection was not found"
	layerNotFound      = "Layer was not found"
)

type collectionItem struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	Layers    int    `json:"layers"`
	Documents int    `json:"documents"`
	Links     []link `json:"links"`
}

type layerItem struct {
	ID    string `json:"id"`
	Tiles int64  `json:"tiles"`
	Links []link `json:"links"`
}

func collectionPath(id string) string { return "/collections/" + url.PathEscape(id) }

func (a *API) landing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title": "WMTS Cache Manager",
		"links": []link{
			jsonLink("/", "self", "Landing page"),
			jsonLink("/collections", "data", "WMTS Cache Collections (Projects)"),
		},
	})
}

func (a *API) listCollections(w http.ResponseWriter, r *http.Request) {
	list, err := a.reader.List(r.Context())
	if err != nil {
		a.writeError(w, r, collectionNotFound, err)
		return
	}
	items := make([]collectionItem, 0, len(list))
	for _, s := range list {
		items = append(items, collectionItem{
			ID:        s.ID,
			Project:   s.Project,
			Layers:    s.Layers,
			Documents: s.Documents,
			Links:     []link{jsonLink(collectionPath(s.ID), "item", "Cache collection")},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cache_layout": a.layout,
		"collections":  items,
		"links":        []link{jsonLink("/", "parent", "Landing page")},
	})
}

func (a *API) getCollection(w http.ResponseWriter, r *http.Request) {
	c, err := a.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, collectionNotFound, err)
		return
	}
	base := collectionPath(c.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        c.ID,
		"project":   c.Project,
		"layers":    layerItems(base, c.Layers),
		"documents": c.Documents,
		"links": []link{
			jsonLink(base+"/docs", "item", "Cache collection documents"),
			jsonLink(base+"/layers", "item", "Cache collection layers"),
		},
	})
}

func (a *API) getDocs(w http.ResponseWriter, r *http.Request) {
	c, err := a.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, collectionNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        c.ID,
		"project":   c.Project,
		"documents": c.Documents,
		"links":     []link{jsonLink(collectionPath(c.ID), "parent", "Cache collection")},
	})
}

func (a *API) getLayers(w http.ResponseWriter, r *http.Request) {
	c, err := a.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, collectionNotFound, err)
		return
	}
	base := collectionPath(c.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      c.ID,
		"project": c.Project,
		"layers":  layerItems(base, c.Layers),
		"links":   []link{jsonLink(base, "parent", "Cache collection")},
	})
}

func (a *API) getLayer(w http.ResponseWriter, r *http.Request) {
	c, err := a.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, collectionNotFound, err)
		return
	}
	layer := chi.URLParam(r, "layerId")
	for _, l := range c.Layers {
		if l.ID != layer {
			continue
		}
		base := collectionPath(c.ID)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":      l.ID,
			"project": c.Project,
			"tiles":   l.Tiles,
			"links":   []link{jsonLink(base+"/layers", "parent", "Cache collection layers")},
		})
		return
	}
	http.Error(w, layerNotFound, http.StatusNotFound)
}

func layerItems(base string, layers []model.Layer) []layerItem {
	out := make([]layerItem, 0, len(layers))
	for _, l := range layers {
		out = append(out, layerItem{
			ID:    l.ID,
			Tiles: l.Tiles,
			Links: []link{jsonLink(base+"/layers/"+url.PathEscape(l.ID), "item", "Cache layer")},
		})
	}
	return out
}
