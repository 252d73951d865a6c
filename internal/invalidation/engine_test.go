package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mohammed-shakir/wmts-cache-manager/internal/core/model"
	"github.com/mohammed-shakir/wmts-cache-manager/internal/store"
)

var errOffline = fmt.Errorf("%w: disk offline", model.ErrStorageUnavailable)

type fakeBackend struct {
	mu          sync.Mutex
	failLayers  map[string]bool
	failDocs    bool
	delay       time.Duration
	layerDels   []string
	docDels     int
	collections int
}

func newFake() *fakeBackend { return &fakeBackend{failLayers: map[string]bool{}} }

func (f *fakeBackend) DeleteLayerTiles(_ context.Context, _, layer string) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLayers[layer] {
		return errOffline
	}
	f.layerDels = append(f.layerDels, layer)
	return nil
}

func (f *fakeBackend) DeleteAllDocuments(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDocs {
		return errOffline
	}
	f.docDels++
	return nil
}

func (f *fakeBackend) DeleteCollection(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections++
	return nil
}

func (f *fakeBackend) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLayers = map[string]bool{}
	f.failDocs = false
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []model.CascadeResult
}

func (n *recordingNotifier) Removed(_ context.Context, res model.CascadeResult) {
	n.mu.Lock()
	n.got = append(n.got, res)
	n.mu.Unlock()
}

// tb is the subset of testing.TB that *rapid.T also provides.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

func seed(t tb, s store.Store, project string, layers []string, docs int) string {
	t.Helper()
	ctx := context.Background()
	id := model.CollectionID(project)
	if err := s.EnsureCollection(ctx, id, project); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	for _, l := range layers {
		if err := s.AddTiles(ctx, id, l, 4); err != nil {
			t.Fatalf("AddTiles: %v", err)
		}
	}
	for i := 0; i < docs; i++ {
		if err := s.AddDocument(ctx, id, fmt.Sprintf("doc-%d", i)); err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
	}
	return id
}

func layerIDs(t tb, s store.Store, id string) []string {
	t.Helper()
	c, err := s.GetCollection(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	out := make([]string, 0, len(c.Layers))
	for _, l := range c.Layers {
		out = append(out, l.ID)
	}
	return out
}

func docCount(t tb, s store.Store, id string) int {
	t.Helper()
	c, err := s.GetCollection(context.Background(), id)
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	return c.Documents
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newEngine(s store.Store, b *fakeBackend, opts ...Option) *Engine {
	return New(s, b, b, opts...)
}

func TestEngine_AlphaScenario(t *testing.T) {
	s := store.NewMemory()
	b := newFake()
	e := newEngine(s, b)
	ctx := context.Background()
	id := seed(t, s, "alpha", []string{"l1", "l2"}, 3)

	if _, err := e.RemoveLayerTiles(ctx, id, "l1"); err != nil {
		t.Fatalf("RemoveLayerTiles: %v", err)
	}
	if got := layerIDs(t, s, id); !sameStrings(got, []string{"l2"}) {
		t.Fatalf("layers=%v want [l2]", got)
	}
	if n := docCount(t, s, id); n != 3 {
		t.Fatalf("documents=%d want 3", n)
	}

	if _, err := e.RemoveAllLayers(ctx, id); err != nil {
		t.Fatalf("RemoveAllLayers: %v", err)
	}
	if got := layerIDs(t, s, id); len(got) != 0 {
		t.Fatalf("layers=%v want []", got)
	}

	if _, err := e.RemoveAllDocuments(ctx, id); err != nil {
		t.Fatalf("RemoveAllDocuments: %v", err)
	}
	if n := docCount(t, s, id); n != 0 {
		t.Fatalf("documents=%d want 0", n)
	}

	res, err := e.RemoveProject(ctx, id)
	if err != nil {
		t.Fatalf("RemoveProject: %v", err)
	}
	if !res.CollectionRemoved || res.Project != "alpha" {
		t.Fatalf("result=%+v", res)
	}
	if _, err := s.GetCollection(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetCollection after RemoveProject err=%v", err)
	}
	if b.collections != 2 {
		t.Fatalf("backend DeleteCollection calls=%d want 2 (tiles and docs)", b.collections)
	}
}

func TestEngine_RetriesAreIdempotent(t *testing.T) {
	s := store.NewMemory()
	n := &recordingNotifier{}
	e := newEngine(s, newFake(), WithNotifier(n))
	ctx := context.Background()
	id := seed(t, s, "p", []string{"a", "b"}, 1)

	for i := 0; i < 2; i++ {
		res, err := e.RemoveAllLayers(ctx, id)
		if err != nil {
			t.Fatalf("RemoveAllLayers #%d: %v", i, err)
		}
		if i == 1 && len(res.Removed) != 0 {
			t.Fatalf("second pass removed %v", res.Removed)
		}
	}
	notices := len(n.got)
	for _, layer := range []string{"a", "never-existed"} {
		res, err := e.RemoveLayerTiles(ctx, id, layer)
		if err != nil {
			t.Fatalf("removing absent layer %s: %v", layer, err)
		}
		if len(res.Removed) != 0 {
			t.Fatalf("absent layer %s reported removed: %v", layer, res.Removed)
		}
	}
	if len(n.got) != notices {
		t.Fatalf("absent layers sent %d notices", len(n.got)-notices)
	}
	for i := 0; i < 2; i++ {
		if _, err := e.RemoveAllDocuments(ctx, id); err != nil {
			t.Fatalf("RemoveAllDocuments #%d: %v", i, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, err := e.RemoveProject(ctx, id); err != nil {
			t.Fatalf("RemoveProject #%d: %v", i, err)
		}
	}
}

func TestEngine_SingleResourceOpsOnMissingProject(t *testing.T) {
	e := newEngine(store.NewMemory(), newFake())
	ctx := context.Background()

	if _, err := e.RemoveLayerTiles(ctx, "gone", "l1"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("RemoveLayerTiles err=%v want ErrNotFound", err)
	}
	if _, err := e.RemoveAllLayers(ctx, "gone"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("RemoveAllLayers err=%v want ErrNotFound", err)
	}
	if _, err := e.RemoveAllDocuments(ctx, "gone"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("RemoveAllDocuments err=%v want ErrNotFound", err)
	}
	res, err := e.RemoveProject(ctx, "gone")
	if err != nil {
		t.Fatalf("RemoveProject on missing collection: %v", err)
	}
	if res.CollectionRemoved || len(res.Removed) != 0 {
		t.Fatalf("no-op result reports work: %+v", res)
	}
}

func TestEngine_RemoveAllLayers_PartialFailure(t *testing.T) {
	s := store.NewMemory()
	b := newFake()
	b.failLayers["l2"] = true
	e := newEngine(s, b)
	ctx := context.Background()
	id := seed(t, s, "p", []string{"l1", "l2", "l3"}, 2)

	res, err := e.RemoveAllLayers(ctx, id)
	var pf *model.PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("err=%v want *PartialFailure", err)
	}
	if !sameStrings(res.Removed, []string{"l1", "l3"}) {
		t.Fatalf("removed=%v", res.Removed)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != "l2" ||
		res.Failed[0].Type != model.ItemLayer || res.Failed[0].Kind != model.KindStorageUnavailable {
		t.Fatalf("failed=%+v", res.Failed)
	}
	if got := layerIDs(t, s, id); !sameStrings(got, []string{"l2"}) {
		t.Fatalf("failed layer must stay enumerable, layers=%v", got)
	}

	b.heal()
	res, err = e.RemoveAllLayers(ctx, id)
	if err != nil || !sameStrings(res.Removed, []string{"l2"}) {
		t.Fatalf("retry res=%+v err=%v", res, err)
	}
}

func TestEngine_RemoveLayerTiles_FailurePropagatesDirectly(t *testing.T) {
	s := store.NewMemory()
	b := newFake()
	b.failLayers["l1"] = true
	e := newEngine(s, b)
	id := seed(t, s, "p", []string{"l1"}, 0)

	_, err := e.RemoveLayerTiles(context.Background(), id, "l1")
	if !errors.Is(err, model.ErrStorageUnavailable) {
		t.Fatalf("err=%v want ErrStorageUnavailable", err)
	}
	var pf *model.PartialFailure
	if errors.As(err, &pf) {
		t.Fatalf("single item failure must not be a partial failure")
	}
	if got := layerIDs(t, s, id); !sameStrings(got, []string{"l1"}) {
		t.Fatalf("layers=%v", got)
	}
}

func TestEngine_RemoveProject_KeepsRecordOnFailure(t *testing.T) {
	s := store.NewMemory()
	b := newFake()
	b.failDocs = true
	e := newEngine(s, b)
	ctx := context.Background()
	id := seed(t, s, "p", []string{"l1", "l2"}, 2)

	res, err := e.RemoveProject(ctx, id)
	if err == nil {
		t.Fatalf("expected partial failure")
	}
	if res.CollectionRemoved || res.DocumentsCleared {
		t.Fatalf("result=%+v", res)
	}
	if len(res.Failed) != 1 || res.Failed[0].Type != model.ItemDocuments {
		t.Fatalf("failed=%+v", res.Failed)
	}
	if got := layerIDs(t, s, id); len(got) != 0 {
		t.Fatalf("layers should be gone: %v", got)
	}
	if n := docCount(t, s, id); n != 2 {
		t.Fatalf("documents should stay enumerable: %d", n)
	}

	b.heal()
	res, err = e.RemoveProject(ctx, id)
	if err != nil || !res.CollectionRemoved {
		t.Fatalf("retry res=%+v err=%v", res, err)
	}
	if _, err := s.GetCollection(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("collection still present: %v", err)
	}
}

func TestEngine_IgnoresCallerCancellation(t *testing.T) {
	s := store.NewMemory()
	e := newEngine(s, newFake())
	id := seed(t, s, "p", []string{"l1", "l2"}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.RemoveAllLayers(ctx, id); err != nil {
		t.Fatalf("cancelled caller must not abort the cascade: %v", err)
	}
	if got := layerIDs(t, s, id); len(got) != 0 {
		t.Fatalf("layers=%v", got)
	}
}

func TestEngine_NotifiesOnlyWhenSomethingWasRemoved(t *testing.T) {
	s := store.NewMemory()
	n := &recordingNotifier{}
	e := newEngine(s, newFake(), WithNotifier(n))
	ctx := context.Background()
	id := seed(t, s, "p", []string{"l1"}, 1)

	_, _ = e.RemoveAllLayers(ctx, id)
	_, _ = e.RemoveAllLayers(ctx, id)
	_, _ = e.RemoveProject(ctx, id)
	_, _ = e.RemoveProject(ctx, id)

	if len(n.got) != 2 {
		t.Fatalf("notifications=%d want 2: %+v", len(n.got), n.got)
	}
	if n.got[0].Op != OpRemoveLayers || n.got[1].Op != OpRemoveProject || !n.got[1].CollectionRemoved {
		t.Fatalf("notifications=%+v", n.got)
	}
}

func TestEngine_SpanPerOperationWithItemEvents(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s := store.NewMemory()
	b := newFake()
	b.failLayers["bad"] = true
	e := newEngine(s, b, WithTracer(tp.Tracer("test")))
	id := seed(t, s, "p", []string{"ok", "bad"}, 0)

	_, _ = e.RemoveAllLayers(context.Background(), id)

	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "invalidation.remove_layers" {
		t.Fatalf("spans=%v", spans)
	}
	var names []string
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	want := map[string]bool{"layer.removed": false, "layer.failed": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Fatalf("missing span event %q in %v", n, names)
		}
	}
}

func TestEngine_ConcurrentReadsNeverSeeHalfRemovedLayers(t *testing.T) {
	s := store.NewMemory()
	b := newFake()
	b.delay = time.Millisecond
	e := newEngine(s, b)

	layers := make([]string, 20)
	for i := range layers {
		layers[i] = fmt.Sprintf("l%02d", i)
	}
	id := seed(t, s, "beta", layers, 0)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		if _, err := e.RemoveAllLayers(context.Background(), id); err != nil {
			t.Errorf("RemoveAllLayers: %v", err)
		}
	}()

	// layers go away in order, so every read is a suffix of the original
	for {
		select {
		case <-done:
			wg.Wait()
			if got := layerIDs(t, s, id); len(got) != 0 {
				t.Fatalf("layers left: %v", got)
			}
			return
		default:
		}
		got := layerIDs(t, s, id)
		if !sameStrings(got, layers[len(layers)-len(got):]) {
			t.Fatalf("torn read: %v", got)
		}
	}
}

func TestEngine_SerializesMutationsPerCollection(t *testing.T) {
	s := store.NewMemory()
	b := newFake()
	b.delay = time.Millisecond
	e := newEngine(s, b)
	id := seed(t, s, "gamma", []string{"a", "b", "c", "d"}, 2)

	var wg sync.WaitGroup
	results := make([]model.CascadeResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.RemoveAllLayers(context.Background(), id)
		}(i)
	}
	wg.Wait()

	total := 0
	for _, r := range results {
		total += len(r.Removed)
	}
	if total != 4 {
		t.Fatalf("layers removed %d times in total, want exactly 4", total)
	}
	if len(b.layerDels) != 4 {
		t.Fatalf("backend deletes=%v", b.layerDels)
	}
}
