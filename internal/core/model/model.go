// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Error kinds reported per item in a cascade result.
const (
	KindNotFound           = "not_found"
	KindStorageUnavailable = "storage_unavailable"
	KindInternal           = "internal"
)

type Layer struct {
	ID    string `json:"id"`
	Tiles int64  `json:"tiles"`
}

type Collection struct {
	ID        string  `json:"id"`
	Project   string  `json:"project"`
	Layers    []Layer `json:"layers"`
	Documents int     `json:"documents"`
}

type Summary struct {
	ID        string `json:"id"`
	Project   string `json:"project"`
	Layers    int    `json:"layers"`
	Documents int    `json:"documents"`
}

// CollectionID derives the immutable collection id of a project name.
func CollectionID(project string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(project)))
}

// DocumentID derives the id a cached document is stored under. Documents
// are keyed by the request that produced them, so equal requests collapse.
func DocumentID(doc string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.TrimSpace(doc)))
}

// KindOf maps an error onto the kind reported to callers.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrStorageUnavailable):
		return KindStorageUnavailable
	default:
		return KindInternal
	}
}

// Item types a cascade reports on.
const (
	ItemLayer      = "layer"
	ItemDocuments  = "documents"
	ItemCollection = "collection"
)

// ItemFailure names the coordinate that failed and why.
type ItemFailure struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Err  error  `json:"-"`
}

// CascadeResult is the outcome of a removal. Failed is empty on success.
type CascadeResult struct {
	Op                string        `json:"op"`
	ID                string        `json:"id"`
	Project           string        `json:"project,omitempty"`
	Removed           []string      `json:"layers_removed"`
	Failed            []ItemFailure `json:"failed,omitempty"`
	DocumentsCleared  bool          `json:"documents_cleared"`
	CollectionRemoved bool          `json:"collection_removed"`
}

func (r CascadeResult) OK() bool { return len(r.Failed) == 0 }

// Err returns a *PartialFailure when at least one item failed.
func (r CascadeResult) Err() error {
	if r.OK() {
		return nil
	}
	return &PartialFailure{Result: r}
}

// PartialFailure is returned when some items of a cascade failed. The
// succeeded subset has already been applied to the registry.
type PartialFailure struct {
	Result CascadeResult
}

func (e *PartialFailure) Error() string {
	parts := make([]string, 0, len(e.Result.Failed))
	for _, f := range e.Result.Failed {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", f.Type, f.ID, f.Kind))
	}
	return fmt.Sprintf("partial cascade failure: %s collection=%s removed=%d failed=[%s]",
		e.Result.Op, e.Result.ID, len(e.Result.Removed), strings.Join(parts, ", "))
}

// Unwrap exposes the per-item causes to errors.Is.
func (e *PartialFailure) Unwrap() []error {
	out := make([]error, 0, len(e.Result.Failed))
	for _, f := range e.Result.Failed {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}
