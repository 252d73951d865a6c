package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	mylog "github.com/mohammed-shakir/wmts-cache-manager/internal/logger"
)

// Every removal answers only once the cascade has finished. The body is the
// cascade result; a partial failure answers 500 with the failed items.

func (a *API) removeProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.rm.RemoveProject(mylog.WithProject(r.Context(), id), id)
	a.writeResult(w, r, collectionNotFound, res, err)
}

func (a *API) removeLayers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.rm.RemoveAllLayers(mylog.WithProject(r.Context(), id), id)
	a.writeResult(w, r, collectionNotFound, res, err)
}

func (a *API) removeLayer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.rm.RemoveLayerTiles(mylog.WithProject(r.Context(), id), id, chi.URLParam(r, "layerId"))
	a.writeResult(w, r, collectionNotFound, res, err)
}

func (a *API) removeDocuments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := a.rm.RemoveAllDocuments(mylog.WithProject(r.Context(), id), id)
	a.writeResult(w, r, collectionNotFound, res, err)
}

func (a *API) writeResult(w http.ResponseWriter, r *http.Request, notFound string, res model.CascadeResult, err error) {
	if err != nil {
		a.writeError(w, r, notFound, err)
		return
	}
	if res.Removed == nil {
		res.Removed = []string{}
	}
	writeJSON(w, http.StatusOK, res)
}
