package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
)

// Ops carried by the event stream besides the removal ops.
const (
	OpTileCached     = "tile_cached"
	OpDocumentCached = "document_cached"
)

// Event is one message of the cache event stream. The tile renderer emits
// tile_cached and document_cached as it fills the cache; operators and
// upstream publishers emit the removal ops.
type Event struct {
	Version  int       `json:"version"`
	ID       string    `json:"id"`
	Op       string    `json:"op"`
	Project  string    `json:"project"`
	Layer    string    `json:"layer,omitempty"`
	Document string    `json:"document,omitempty"`
	Tiles    int64     `json:"tiles,omitempty"`
	TS       time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("id is required")
	}
	switch e.Op {
	case OpTileCached, OpDocumentCached,
		OpRemoveLayer, OpRemoveLayers, OpRemoveDocuments, OpRemoveProject:
	default:
		return fmt.Errorf("op must be tile_cached|document_cached|remove_layer|remove_layers|remove_documents|remove_project")
	}
	if strings.TrimSpace(e.Project) == "" {
		return fmt.Errorf("project is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpTileCached, OpRemoveLayer:
		if strings.TrimSpace(e.Layer) == "" {
			return fmt.Errorf("layer is required for %s", e.Op)
		}
	case OpDocumentCached:
		if strings.TrimSpace(e.Document) == "" {
			return fmt.Errorf("document is required for %s", e.Op)
		}
	}
	if e.Tiles < 0 {
		return fmt.Errorf("tiles must not be negative")
	}
	return nil
}

// CollectionID is the id of the collection the event addresses.
func (e Event) CollectionID() string {
	return model.CollectionID(e.Project)
}
