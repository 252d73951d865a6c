package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

// Check probes one dependency; nil means healthy.
type Check func(ctx context.Context) error

// Readiness reports ready when every check passes and, when rr is set, the
// event runner holds its partitions.
func Readiness(rr ReadinessReporter, checks map[string]Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type resp struct {
			Status     string   `json:"status"`
			Partitions []int32  `json:"partitions,omitempty"`
			Failing    []string `json:"failing,omitempty"`
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		out := resp{Status: "not_ready"}
		for name, c := range checks {
			if err := c(ctx); err != nil {
				out.Failing = append(out.Failing, name)
			}
		}
		sort.Strings(out.Failing)

		ready := len(out.Failing) == 0
		if rr != nil {
			ok, parts := rr.Readiness()
			if !ok {
				ready = false
				out.Failing = append(out.Failing, "events")
			}
			out.Partitions = parts
		}
		if ready {
			out.Status = "ready"
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
