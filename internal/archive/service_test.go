package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"archive-backend/internal/drawings"
	"archive-backend/internal/lenses"
	"archive-backend/internal/llm"
	"archive-backend/internal/prompts"
	"archive-backend/internal/shared/config"
)

// fakeLLM records calls and answers from canned or computed responses.
type fakeLLM struct {
	mu         sync.Mutex
	imageFn    func(images []llm.Image, prompt string) (string, error)
	textFn     func(prompt string) (string, error)
	imageCalls [][]string // labels per call
	textCalls  []string
}

var _ llm.Client = (*fakeLLM)(nil)

func (f *fakeLLM) CompleteWithImages(_ context.Context, images []llm.Image, prompt string, _ int) (string, error) {
	f.mu.Lock()
	labels := make([]string, len(images))
	for i, img := range images {
		labels[i] = img.Label
	}
	f.imageCalls = append(f.imageCalls, labels)
	f.mu.Unlock()
	return f.imageFn(images, prompt)
}

func (f *fakeLLM) CompleteWithText(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	f.textCalls = append(f.textCalls, prompt)
	f.mu.Unlock()
	return f.textFn(prompt)
}

func (f *fakeLLM) submittedLabels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.imageCalls {
		out = append(out, call...)
	}
	return out
}

// describeAll answers a batch analysis call with one entry per labeled image.
func describeAll(images []llm.Image, _ string) (string, error) {
	entries := make([]map[string]any, 0, len(images))
	for _, img := range images {
		entries = append(entries, map[string]any{
			"filename":    img.Label,
			"description": "a drawing of " + img.Label,
		})
	}
	b, err := json.Marshal(entries)
	return string(b), err
}

type env struct {
	service  *Service
	runs     *MemoryRepo
	drawings *drawings.MemoryRepo
	lenses   *lenses.MemoryRepo
	llm      *fakeLLM
}

func newEnv(t *testing.T, client *fakeLLM) *env {
	t.Helper()
	cfg := config.Config{
		ModelName:                "test-model",
		BatchSize:                2,
		AnnotationBatchSize:      2,
		MaxTokensPerImage:        600,
		MaxTokensLensDiscovery:   8000,
		MaxTokensAnnotationBatch: 2000,
		RelevanceThreshold:       0.4,
	}
	dr := drawings.NewMemoryRepo()
	lr := lenses.NewMemoryRepo(dr)
	runs := NewMemoryRepo()
	svc := NewService(cfg, runs, dr, lr, client, prompts.NewRegistry())
	svc.ReadFile = func(path string) ([]byte, error) {
		return []byte("image bytes for " + path), nil
	}
	return &env{service: svc, runs: runs, drawings: dr, lenses: lr, llm: client}
}

func (e *env) seedDrawings(t *testing.T, userID string, filenames ...string) {
	t.Helper()
	base := time.Date(1995, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, name := range filenames {
		date := base.AddDate(i, 0, 0)
		d := drawings.Drawing{
			ID:        fmt.Sprintf("d%d", i+1),
			UserID:    userID,
			Filename:  name,
			Filepath:  "/archive/" + name,
			FileExt:   "jpg",
			DrawnDate: &date,
		}
		if err := e.drawings.Create(context.Background(), d); err != nil {
			t.Fatal(err)
		}
	}
}

// waitForRun polls until the user's latest run leaves the active states.
func (e *env) waitForRun(t *testing.T, userID string) Run {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		run, err := e.runs.GetLatestForUser(context.Background(), userID)
		if err == nil && !run.Active() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return Run{}
}

func discoveryResponse() (string, error) {
	return `{
		"lenses": [
			{
				"name": "Houses over time",
				"description": "How dwellings change across the years.",
				"drawing_relevance": {"a.jpg": 0.9, "b.jpg": 1.7, "ghost.jpg": 0.8}
			},
			{
				"name": "Empty scenes",
				"description": "Drawings without people.",
				"drawing_relevance": {"c.jpg": -0.2}
			}
		]
	}`, nil
}

func TestPipelineHappyPath(t *testing.T) {
	client := &fakeLLM{
		imageFn: describeAll,
		textFn:  func(string) (string, error) { return discoveryResponse() },
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg", "b.jpg", "c.jpg")

	run, err := e.service.Trigger(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if run.Status != StatusPending {
		t.Errorf("trigger status = %s, want pending", run.Status)
	}

	final := e.waitForRun(t, "u1")
	if final.Status != StatusComplete {
		t.Fatalf("status = %s (error %v), want complete", final.Status, final.ErrorMessage)
	}
	if final.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", final.Phase)
	}
	if final.TotalDrawings != 3 || final.AnalyzedCount != 3 {
		t.Errorf("counts = %d/%d, want 3/3", final.AnalyzedCount, final.TotalDrawings)
	}

	// Batch size 2 over 3 drawings means two inference calls.
	if len(client.imageCalls) != 2 {
		t.Errorf("image calls = %d, want 2", len(client.imageCalls))
	}

	analyzed, err := e.drawings.ListAnalyzed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(analyzed) != 3 {
		t.Fatalf("analyzed = %d, want 3", len(analyzed))
	}

	lensList, err := e.lenses.ListByUser(context.Background(), "u1", 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if len(lensList) != 2 {
		t.Fatalf("lenses = %d, want 2", len(lensList))
	}
	if lensList[0].Name != "Houses over time" || lensList[0].SortOrder != 0 {
		t.Errorf("first lens = %+v, want Houses over time at sort 0", lensList[0])
	}

	// The hallucinated ghost.jpg must not be linked; out-of-range scores
	// are clamped into [0, 1].
	linked, err := e.lenses.ListDrawingsForLens(context.Background(), lensList[0].ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 2 {
		t.Fatalf("links = %d, want 2", len(linked))
	}
	for _, ld := range linked {
		if ld.RelevanceScore < 0 || ld.RelevanceScore > 1 {
			t.Errorf("score %f out of range", ld.RelevanceScore)
		}
		if ld.Filename == "b.jpg" && ld.RelevanceScore != 1 {
			t.Errorf("b.jpg score = %f, want clamped to 1", ld.RelevanceScore)
		}
	}
}

func TestTriggerRejectsConcurrentRun(t *testing.T) {
	e := newEnv(t, &fakeLLM{})
	err := e.runs.CreatePending(context.Background(), Run{ID: "r1", UserID: "u1", StartedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.service.Trigger(context.Background(), "u1")
	if !errors.Is(err, ErrRunActive) {
		t.Fatalf("got %v, want ErrRunActive", err)
	}

	// A different user is unaffected.
	e.seedDrawings(t, "u2", "x.jpg")
	e.llm.imageFn = describeAll
	e.llm.textFn = func(string) (string, error) { return discoveryResponse() }
	if _, err := e.service.Trigger(context.Background(), "u2"); err != nil {
		t.Fatalf("other user Trigger: %v", err)
	}
	e.waitForRun(t, "u2")
}

func TestPipelineResumesWithoutReanalyzing(t *testing.T) {
	client := &fakeLLM{
		imageFn: describeAll,
		textFn:  func(string) (string, error) { return discoveryResponse() },
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg", "b.jpg", "c.jpg")

	text := "already described"
	if err := e.drawings.MarkAnalyzed(context.Background(), "d1", &text, nil, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	final := e.waitForRun(t, "u1")
	if final.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	if final.AnalyzedCount != 3 {
		t.Errorf("analyzed count = %d, want 3", final.AnalyzedCount)
	}

	for _, label := range client.submittedLabels() {
		if label == "a.jpg" {
			t.Error("a.jpg re-submitted despite existing analysis")
		}
	}

	// The pre-existing analysis text survives the run.
	d, err := e.drawings.GetByID(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if d.AnalysisText == nil || *d.AnalysisText != text {
		t.Errorf("existing analysis was overwritten")
	}
}

func TestPipelineFailureRecordsTruncatedError(t *testing.T) {
	longMsg := strings.Repeat("provider exploded ", 60)
	client := &fakeLLM{
		imageFn: describeAll,
		textFn:  func(string) (string, error) { return "", errors.New(longMsg) },
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg")

	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	final := e.waitForRun(t, "u1")
	if final.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.ErrorMessage == nil {
		t.Fatal("no error message recorded")
	}
	if len(*final.ErrorMessage) > maxStoredErrorLen {
		t.Errorf("error message length = %d, want <= %d", len(*final.ErrorMessage), maxStoredErrorLen)
	}

	// A failed run no longer blocks retries.
	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	e.waitForRun(t, "u1")
}

func TestFailedGroupSkippedRunStillCompletes(t *testing.T) {
	calls := 0
	client := &fakeLLM{
		imageFn: func(images []llm.Image, prompt string) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("timeout")
			}
			return describeAll(images, prompt)
		},
		textFn: func(string) (string, error) { return discoveryResponse() },
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg", "b.jpg", "c.jpg")

	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	final := e.waitForRun(t, "u1")
	if final.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	// First group (a, b) failed and stays pending for a later run.
	if final.AnalyzedCount != 1 {
		t.Errorf("analyzed count = %d, want 1", final.AnalyzedCount)
	}
	pending, err := e.drawings.ListUnanalyzed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
}

func TestUnparseableDiscoveryResponseStillCompletesRun(t *testing.T) {
	client := &fakeLLM{
		imageFn: describeAll,
		textFn:  func(string) (string, error) { return "not json at all", nil },
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg", "b.jpg")

	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	final := e.waitForRun(t, "u1")
	if final.Status != StatusComplete {
		t.Fatalf("status = %s (error %v), want complete", final.Status, final.ErrorMessage)
	}
	if final.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", final.Phase)
	}
	if final.AnalyzedCount != 2 {
		t.Errorf("analyzed count = %d, want 2", final.AnalyzedCount)
	}

	// Garbage discovery output yields no lenses, not a failed run.
	lensList, err := e.lenses.ListByUser(context.Background(), "u1", 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if len(lensList) != 0 {
		t.Errorf("lenses = %d, want 0", len(lensList))
	}
}

func TestUnreadableDrawingMarkedAnalyzedWithoutText(t *testing.T) {
	client := &fakeLLM{
		imageFn: describeAll,
		textFn:  func(string) (string, error) { return discoveryResponse() },
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg", "b.jpg", "c.jpg")

	defaultRead := e.service.ReadFile
	e.service.ReadFile = func(path string) ([]byte, error) {
		if strings.HasSuffix(path, "b.jpg") {
			return nil, errors.New("no such file")
		}
		return defaultRead(path)
	}

	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	final := e.waitForRun(t, "u1")
	if final.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}
	if final.AnalyzedCount != 3 {
		t.Errorf("analyzed count = %d, want 3", final.AnalyzedCount)
	}

	// The missing file never reached the provider.
	for _, label := range e.llm.submittedLabels() {
		if label == "b.jpg" {
			t.Error("unreadable b.jpg submitted for inference")
		}
	}

	// Marked analyzed without text so a future run does not retry it.
	d, err := e.drawings.GetByID(context.Background(), "d2")
	if err != nil {
		t.Fatal(err)
	}
	if d.AnalyzedAt == nil {
		t.Error("unreadable drawing left unanalyzed")
	}
	if d.AnalysisText != nil {
		t.Errorf("unreadable drawing has analysis text %q", *d.AnalysisText)
	}
	pending, err := e.drawings.ListUnanalyzed(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestUnnamedLensDescriptorGetsFallbackName(t *testing.T) {
	client := &fakeLLM{
		imageFn: describeAll,
		textFn: func(string) (string, error) {
			return `{
				"lenses": [
					{"name": "", "description": "first", "drawing_relevance": {"a.jpg": 0.9}},
					{"description": "second", "drawing_relevance": {"a.jpg": 0.5}}
				]
			}`, nil
		},
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg")

	if _, err := e.service.Trigger(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	final := e.waitForRun(t, "u1")
	if final.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", final.Status)
	}

	lensList, err := e.lenses.ListByUser(context.Background(), "u1", 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if len(lensList) != 2 {
		t.Fatalf("lenses = %d, want 2", len(lensList))
	}
	if lensList[0].Name != "Lens 1" || lensList[1].Name != "Lens 2" {
		t.Errorf("names = %q, %q, want Lens 1 and Lens 2", lensList[0].Name, lensList[1].Name)
	}
}

func TestGenerateAnnotations(t *testing.T) {
	client := &fakeLLM{
		textFn: func(prompt string) (string, error) {
			return `[
				{"filename": "a.jpg", "annotation": "an early, careful house"},
				{"filename": "b.jpg", "annotation": "the same house, looser now"}
			]`, nil
		},
	}
	e := newEnv(t, client)
	e.seedDrawings(t, "u1", "a.jpg", "b.jpg", "c.jpg")
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		text := "a drawing"
		if err := e.drawings.MarkAnalyzed(ctx, id, &text, nil, time.Now().UTC()); err != nil {
			t.Fatal(err)
		}
	}
	lensID, err := e.lenses.CreateOrGet(ctx, lenses.Lens{ID: "l1", UserID: "u1", Name: "Houses"})
	if err != nil {
		t.Fatal(err)
	}
	links := map[string]float64{"d1": 0.9, "d2": 0.8, "d3": 0.1}
	for id, score := range links {
		if err := e.lenses.CreateLink(ctx, lenses.Link{LensID: lensID, DrawingID: id, RelevanceScore: score}, false); err != nil {
			t.Fatal(err)
		}
	}

	if err := e.service.GenerateAnnotations(ctx, lensID, "u1"); err != nil {
		t.Fatalf("GenerateAnnotations: %v", err)
	}

	progress, err := e.lenses.AnnotationCounts(ctx, lensID, 0.4)
	if err != nil {
		t.Fatal(err)
	}
	if progress.Total != 2 || progress.Ready != 2 {
		t.Fatalf("progress = %+v, want 2/2", progress)
	}

	// Below-threshold d3 never reached the provider.
	if len(client.textCalls) != 1 {
		t.Fatalf("text calls = %d, want 1", len(client.textCalls))
	}
	if strings.Contains(client.textCalls[0], "c.jpg") {
		t.Error("below-threshold drawing included in annotation prompt")
	}

	// A second pass has nothing left to do.
	if err := e.service.GenerateAnnotations(ctx, lensID, "u1"); err != nil {
		t.Fatal(err)
	}
	if len(client.textCalls) != 1 {
		t.Errorf("re-run made %d extra calls", len(client.textCalls)-1)
	}
}

func TestGenerateAnnotationsUnknownLens(t *testing.T) {
	e := newEnv(t, &fakeLLM{})
	err := e.service.GenerateAnnotations(context.Background(), "missing", "u1")
	if !errors.Is(err, lenses.ErrNotFound) {
		t.Fatalf("got %v, want lenses.ErrNotFound", err)
	}
}
