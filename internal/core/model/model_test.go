package model

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCollectionID_StableAndTrimmed(t *testing.T) {
	a := CollectionID("/srv/projects/france_parts.qgs")
	b := CollectionID("  /srv/projects/france_parts.qgs ")
	if a != b {
		t.Fatalf("id not stable: %q vs %q", a, b)
	}
	if len(a) != 16 {
		t.Fatalf("len=%d want 16", len(a))
	}
	if CollectionID("other.qgs") == a {
		t.Fatalf("distinct projects share an id")
	}
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("get: %w", ErrNotFound), KindNotFound},
		{fmt.Errorf("%w: redis down", ErrStorageUnavailable), KindStorageUnavailable},
		{errors.New("boom"), KindInternal},
	}
	for _, c := range cases {
		if got := KindOf(c.err); got != c.want {
			t.Fatalf("KindOf(%v)=%q want %q", c.err, got, c.want)
		}
	}
}

func TestCascadeResult_ErrCarriesFailures(t *testing.T) {
	ok := CascadeResult{Op: "remove_layers", Project: "p", Removed: []string{"l1"}}
	if ok.Err() != nil {
		t.Fatalf("expected nil error for clean result")
	}

	cause := fmt.Errorf("%w: disk gone", ErrStorageUnavailable)
	res := CascadeResult{
		Op: "remove_layers", Project: "p", Removed: []string{"l1"},
		Failed: []ItemFailure{{Type: ItemLayer, ID: "l2", Kind: KindStorageUnavailable, Err: cause}},
	}
	err := res.Err()
	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("expected *PartialFailure, got %T", err)
	}
	if len(pf.Result.Removed) != 1 || pf.Result.Removed[0] != "l1" {
		t.Fatalf("succeeded subset lost: %+v", pf.Result)
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("cause not reachable through errors.Is")
	}
	if !strings.Contains(err.Error(), "layer l2 (storage_unavailable)") {
		t.Fatalf("message missing failed id: %s", err)
	}
}
