package archive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"archive-backend/internal/drawings"
	"archive-backend/internal/imaging"
	"archive-backend/internal/lenses"
	"archive-backend/internal/llm"
	"archive-backend/internal/parser"
	"archive-backend/internal/prompts"
	"archive-backend/internal/shared/config"
	"archive-backend/internal/shared/metrics"
	"archive-backend/internal/shared/telemetry"
)

const maxStoredErrorLen = 500

// Service orchestrates the analysis pipeline: batch image analysis, lens
// discovery, and on-demand lens annotation.
type Service struct {
	Runs     Repo
	Drawings drawings.Repo
	Lenses   lenses.Repo
	LLM      llm.Client
	Prompts  *prompts.Registry
	Model    string

	BatchSize                int
	AnnotationBatchSize      int
	MaxTokensPerImage        int
	MaxTokensLensDiscovery   int
	MaxTokensAnnotationBatch int
	RelevanceThreshold       float64
	LensScoreOverwrite       bool

	// ReadFile loads drawing bytes from disk. Overridable in tests.
	ReadFile func(string) ([]byte, error)

	batchLimiter      *rate.Limiter
	annotationLimiter *rate.Limiter
}

// NewService constructs a Service with pipeline tuning taken from config.
func NewService(cfg config.Config, runs Repo, dr drawings.Repo, lr lenses.Repo, client llm.Client, registry *prompts.Registry) *Service {
	svc := &Service{
		Runs:     runs,
		Drawings: dr,
		Lenses:   lr,
		LLM:      client,
		Prompts:  registry,
		Model:    cfg.ModelName,

		BatchSize:                cfg.BatchSize,
		AnnotationBatchSize:      cfg.AnnotationBatchSize,
		MaxTokensPerImage:        cfg.MaxTokensPerImage,
		MaxTokensLensDiscovery:   cfg.MaxTokensLensDiscovery,
		MaxTokensAnnotationBatch: cfg.MaxTokensAnnotationBatch,
		RelevanceThreshold:       cfg.RelevanceThreshold,
		LensScoreOverwrite:       cfg.LensScoreOverwrite,

		ReadFile: os.ReadFile,

		batchLimiter:      newPacer(cfg.BatchPause),
		annotationLimiter: newPacer(cfg.AnnotationPause),
	}
	if svc.BatchSize <= 0 {
		svc.BatchSize = 1
	}
	if svc.AnnotationBatchSize <= 0 {
		svc.AnnotationBatchSize = 1
	}
	return svc
}

// newPacer spaces successive calls by interval. Burst 1 lets the first call
// through immediately, so the delay lands between groups rather than before
// the first or after the last.
func newPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

func pace(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// Trigger starts an analysis run for the user. It returns ErrRunActive when
// one is already pending or running; otherwise the pipeline continues in the
// background and progress is visible through the status endpoint.
func (s *Service) Trigger(ctx context.Context, userID string) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    StatusPending,
		ModelUsed: s.Model,
		StartedAt: time.Now().UTC(),
	}
	if err := s.Runs.CreatePending(ctx, run); err != nil {
		return Run{}, err
	}

	metrics.IncRunStarted()
	telemetry.Info("archive.run_started", map[string]any{
		"runId":  run.ID,
		"userId": run.UserID,
		"model":  run.ModelUsed,
	})

	// The request context ends with the response; the pipeline outlives it.
	go s.runPipeline(context.Background(), run)

	return run, nil
}

// runPipeline is the single error boundary for a run. Any error escaping a
// phase marks the run failed with a sanitized message.
func (s *Service) runPipeline(ctx context.Context, run Run) {
	started := time.Now()
	if err := s.execute(ctx, run); err != nil {
		metrics.IncRunFailed()
		telemetry.Error("archive.run_failed", map[string]any{
			"runId":  run.ID,
			"userId": run.UserID,
			"error":  err.Error(),
		})
		if failErr := s.Runs.Fail(ctx, run.ID, sanitizeError(err)); failErr != nil {
			telemetry.Error("archive.fail_not_recorded", map[string]any{
				"runId": run.ID,
				"error": failErr.Error(),
			})
		}
		return
	}

	metrics.IncRunCompleted()
	metrics.ObserveRunDurationMs(float64(time.Since(started).Milliseconds()))
	telemetry.Info("archive.run_completed", map[string]any{
		"runId":      run.ID,
		"userId":     run.UserID,
		"durationMs": time.Since(started).Milliseconds(),
	})
}

func (s *Service) execute(ctx context.Context, run Run) error {
	total, err := s.Drawings.CountByUser(ctx, run.UserID)
	if err != nil {
		return fmt.Errorf("count drawings: %w", err)
	}
	if err := s.Runs.Start(ctx, run.ID, total); err != nil {
		return fmt.Errorf("start run: %w", err)
	}

	if err := s.analyzeAll(ctx, run, total); err != nil {
		return err
	}

	if err := s.Runs.SetPhase(ctx, run.ID, PhaseLensDiscovery); err != nil {
		return fmt.Errorf("set phase: %w", err)
	}
	if err := s.discoverLenses(ctx, run); err != nil {
		return fmt.Errorf("lens discovery: %w", err)
	}

	if err := s.Runs.Complete(ctx, run.ID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// analyzeAll runs phase one: unanalyzed drawings in fixed-size groups, one
// inference call per group. Already-analyzed drawings are never re-submitted,
// which is what makes interrupted runs resumable.
func (s *Service) analyzeAll(ctx context.Context, run Run, total int) error {
	pending, err := s.Drawings.ListUnanalyzed(ctx, run.UserID)
	if err != nil {
		return fmt.Errorf("list unanalyzed: %w", err)
	}

	done := total - len(pending)
	if err := s.Runs.SetAnalyzedCount(ctx, run.ID, done); err != nil {
		return fmt.Errorf("set analyzed count: %w", err)
	}

	// A broken template is a code defect, not provider flakiness, so it
	// fails the run instead of being absorbed per group.
	prompt, err := s.Prompts.Render(prompts.BatchAnalysisID, nil)
	if err != nil {
		return err
	}

	for start := 0; start < len(pending); start += s.BatchSize {
		end := start + s.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		group := pending[start:end]

		if err := pace(ctx, s.batchLimiter); err != nil {
			return err
		}
		marked, err := s.analyzeGroup(ctx, group, prompt)
		if err != nil {
			// A failed group is skipped; its drawings stay unanalyzed and a
			// later run picks them up.
			telemetry.Warn("archive.group_failed", map[string]any{
				"runId": run.ID,
				"size":  len(group),
				"error": err.Error(),
			})
			continue
		}

		done += marked
		if err := s.Runs.SetAnalyzedCount(ctx, run.ID, done); err != nil {
			return fmt.Errorf("set analyzed count: %w", err)
		}
	}
	return nil
}

// analyzeGroup submits one group of drawings and writes results back. It
// returns how many drawings were marked analyzed.
func (s *Service) analyzeGroup(ctx context.Context, group []drawings.Drawing, prompt string) (int, error) {
	images := make([]llm.Image, 0, len(group))
	loaded := make([]drawings.Drawing, 0, len(group))
	var unloadable []drawings.Drawing
	for _, d := range group {
		raw, err := s.ReadFile(d.Filepath)
		if err != nil {
			telemetry.Warn("archive.drawing_unreadable", map[string]any{
				"drawingId": d.ID,
				"filepath":  d.Filepath,
				"error":     err.Error(),
			})
			unloadable = append(unloadable, d)
			continue
		}
		conditioned, mediaType, err := imaging.Condition(raw, d.MediaType())
		if err != nil {
			telemetry.Warn("archive.drawing_unprocessable", map[string]any{
				"drawingId": d.ID,
				"filename":  d.Filename,
				"error":     err.Error(),
			})
			unloadable = append(unloadable, d)
			continue
		}
		images = append(images, llm.Image{
			Data:      conditioned,
			MediaType: mediaType,
			Label:     d.Filename,
		})
		loaded = append(loaded, d)
	}
	if len(images) == 0 {
		// Nothing to submit; still mark the unloadable drawings so they are
		// not retried forever.
		return s.markUnloadable(ctx, unloadable, 0)
	}

	maxTokens := len(images)*s.MaxTokensPerImage + 500
	raw, err := s.LLM.CompleteWithImages(ctx, images, prompt, maxTokens)
	if err != nil {
		return 0, err
	}

	byFilename := make(map[string]map[string]any)
	for _, entry := range parser.List(raw) {
		if name, ok := entry["filename"].(string); ok {
			byFilename[name] = entry
		}
	}

	now := time.Now().UTC()
	marked := 0
	for _, d := range loaded {
		entry := byFilename[d.Filename]
		var text *string
		if entry != nil {
			if desc, ok := entry["description"].(string); ok && desc != "" {
				text = &desc
			}
		}
		if entry == nil {
			telemetry.Warn("archive.drawing_missing_from_response", map[string]any{
				"drawingId": d.ID,
				"filename":  d.Filename,
			})
		}
		// Mark analyzed even without text so the run does not retry forever;
		// textless drawings are simply invisible to lens discovery.
		if err := s.Drawings.MarkAnalyzed(ctx, d.ID, text, entry, now); err != nil {
			return marked, fmt.Errorf("mark analyzed %s: %w", d.ID, err)
		}
		marked++
	}
	// Unreadable or undecodable drawings are marked once the group's call
	// succeeds; like textless results, they are invisible to lens discovery.
	return s.markUnloadable(ctx, unloadable, marked)
}

func (s *Service) markUnloadable(ctx context.Context, unloadable []drawings.Drawing, marked int) (int, error) {
	now := time.Now().UTC()
	for _, d := range unloadable {
		if err := s.Drawings.MarkAnalyzed(ctx, d.ID, nil, nil, now); err != nil {
			return marked, fmt.Errorf("mark analyzed %s: %w", d.ID, err)
		}
		marked++
	}
	return marked, nil
}

// discoverLenses runs phase two: a single text completion over every
// analysis summary, producing lenses and relevance-scored links.
func (s *Service) discoverLenses(ctx context.Context, run Run) error {
	analyzed, err := s.Drawings.ListAnalyzed(ctx, run.UserID)
	if err != nil {
		return err
	}
	if len(analyzed) == 0 {
		telemetry.Info("archive.no_analyzed_drawings", map[string]any{"runId": run.ID})
		return nil
	}

	prompt, err := s.Prompts.Render(prompts.LensDiscoveryID, map[string]any{
		"year_range":    yearRange(analyzed),
		"total_count":   len(analyzed),
		"all_summaries": summaryBlock(analyzed),
	})
	if err != nil {
		return err
	}

	raw, err := s.LLM.CompleteWithText(ctx, prompt, s.MaxTokensLensDiscovery)
	if err != nil {
		return err
	}

	parsed := parser.Dict(raw)
	descriptors, _ := parsed["lenses"].([]any)
	if len(descriptors) == 0 {
		// An unparseable or empty discovery response degrades to no data;
		// only the inference call itself failing may fail the run.
		telemetry.Warn("archive.lens_discovery_empty", map[string]any{
			"runId":    run.ID,
			"response": logSnippet(raw),
		})
		return nil
	}

	idByFilename := make(map[string]string, len(analyzed))
	for _, d := range analyzed {
		idByFilename[d.Filename] = d.ID
	}

	now := time.Now().UTC()
	for i, item := range descriptors {
		descriptor, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := descriptor["name"].(string)
		if name == "" {
			name = fmt.Sprintf("Lens %d", i+1)
		}
		description, _ := descriptor["description"].(string)

		runID := run.ID
		lensID, err := s.Lenses.CreateOrGet(ctx, lenses.Lens{
			ID:          uuid.NewString(),
			UserID:      run.UserID,
			RunID:       &runID,
			Name:        name,
			Description: description,
			SortOrder:   i,
			RawOutput:   raw,
			CreatedAt:   now,
		})
		if err != nil {
			return fmt.Errorf("create lens %q: %w", name, err)
		}

		relevance, _ := descriptor["drawing_relevance"].(map[string]any)
		for filename, scoreVal := range relevance {
			drawingID, ok := idByFilename[filename]
			if !ok {
				// Hallucinated or renamed filenames are dropped quietly.
				continue
			}
			score, ok := scoreVal.(float64)
			if !ok {
				continue
			}
			link := lenses.Link{
				LensID:         lensID,
				DrawingID:      drawingID,
				RelevanceScore: clampScore(score),
			}
			if err := s.Lenses.CreateLink(ctx, link, s.LensScoreOverwrite); err != nil {
				return fmt.Errorf("link lens %q: %w", name, err)
			}
		}
	}

	telemetry.Info("archive.lenses_discovered", map[string]any{
		"runId": run.ID,
		"count": len(descriptors),
	})
	return nil
}

// GenerateAnnotations runs phase three for one lens: every relevant drawing
// that has analysis text but no annotation yet, in fixed-size groups. Group
// failures are logged and skipped so one bad response cannot stall a lens.
func (s *Service) GenerateAnnotations(ctx context.Context, lensID, userID string) error {
	lens, err := s.Lenses.GetByID(ctx, lensID, userID)
	if err != nil {
		return err
	}
	pending, err := s.Lenses.ListPendingAnnotation(ctx, lensID, s.RelevanceThreshold)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	telemetry.Info("archive.annotation_started", map[string]any{
		"lensId":  lensID,
		"pending": len(pending),
	})

	for start := 0; start < len(pending); start += s.AnnotationBatchSize {
		end := start + s.AnnotationBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := pace(ctx, s.annotationLimiter); err != nil {
			return err
		}
		if err := s.annotateGroup(ctx, lens, pending[start:end]); err != nil {
			telemetry.Warn("archive.annotation_group_failed", map[string]any{
				"lensId": lensID,
				"size":   end - start,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

func (s *Service) annotateGroup(ctx context.Context, lens lenses.Lens, group []lenses.LensDrawing) error {
	var entries strings.Builder
	for _, ld := range group {
		text := ""
		if ld.AnalysisText != nil {
			text = *ld.AnalysisText
		}
		fmt.Fprintf(&entries, "%s (%s): %s\n", ld.Filename, formatDate(ld.DrawnDate), text)
	}

	prompt, err := s.Prompts.Render(prompts.LensAnnotationID, map[string]any{
		"lens_name":        lens.Name,
		"lens_description": lens.Description,
		"drawing_entries":  entries.String(),
	})
	if err != nil {
		return err
	}

	raw, err := s.LLM.CompleteWithText(ctx, prompt, s.MaxTokensAnnotationBatch)
	if err != nil {
		return err
	}

	byFilename := make(map[string]string)
	for _, entry := range parser.List(raw) {
		name, _ := entry["filename"].(string)
		annotation, _ := entry["annotation"].(string)
		if name != "" && annotation != "" {
			byFilename[name] = annotation
		}
	}

	now := time.Now().UTC()
	written := 0
	for _, ld := range group {
		annotation, ok := byFilename[ld.Filename]
		if !ok {
			continue
		}
		if err := s.Lenses.SetAnnotation(ctx, lens.ID, ld.ID, annotation, now); err != nil {
			return err
		}
		written++
	}
	metrics.AddAnnotationsWritten(written)
	return nil
}

// yearRange renders the archive's span for the discovery prompt, e.g.
// "1994-2003".
func yearRange(list []drawings.Drawing) string {
	first, last := 0, 0
	for _, d := range list {
		if d.DrawnDate == nil {
			continue
		}
		year := d.DrawnDate.Year()
		if first == 0 || year < first {
			first = year
		}
		if year > last {
			last = year
		}
	}
	switch {
	case first == 0:
		return "unknown period"
	case first == last:
		return fmt.Sprintf("%d", first)
	default:
		return fmt.Sprintf("%d-%d", first, last)
	}
}

func clampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func summaryBlock(list []drawings.Drawing) string {
	var b strings.Builder
	for _, d := range list {
		text := ""
		if d.AnalysisText != nil {
			text = *d.AnalysisText
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", formatDate(d.DrawnDate), d.Filename, text)
	}
	return b.String()
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "undated"
	}
	return t.Format("2006-01-02")
}

// sanitizeError truncates an error for storage so oversized provider
// responses cannot blow up the run row.
func sanitizeError(err error) string {
	msg := err.Error()
	if len(msg) > maxStoredErrorLen {
		msg = msg[:maxStoredErrorLen]
	}
	return msg
}

func logSnippet(s string) string {
	if len(s) > maxStoredErrorLen {
		return s[:maxStoredErrorLen]
	}
	return s
}
