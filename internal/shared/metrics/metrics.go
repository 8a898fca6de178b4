package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	runStartedTotal        atomic.Uint64
	runCompletedTotal      atomic.Uint64
	runFailedTotal         atomic.Uint64
	inferenceCallsTotal    atomic.Uint64
	inferenceFailuresTotal atomic.Uint64
	annotationsWritten     atomic.Uint64

	runDuration       = newHistogram([]float64{1000, 5000, 15000, 30000, 60000, 120000, 300000, 600000, 1800000})
	inferenceDuration = newHistogram([]float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000})
)

// IncRunStarted increments the started counter.
func IncRunStarted() {
	runStartedTotal.Add(1)
}

// IncRunCompleted increments the completed counter.
func IncRunCompleted() {
	runCompletedTotal.Add(1)
}

// IncRunFailed increments the failed counter.
func IncRunFailed() {
	runFailedTotal.Add(1)
}

// IncInferenceCall increments the inference-call counter.
func IncInferenceCall() {
	inferenceCallsTotal.Add(1)
}

// IncInferenceFailure increments the inference-failure counter.
func IncInferenceFailure() {
	inferenceFailuresTotal.Add(1)
}

// AddAnnotationsWritten adds n to the annotations-written counter.
func AddAnnotationsWritten(n int) {
	if n > 0 {
		annotationsWritten.Add(uint64(n))
	}
}

// ObserveRunDurationMs records a full pipeline run duration in milliseconds.
func ObserveRunDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	runDuration.Observe(value)
}

// ObserveInferenceDurationMs records a single inference call duration in milliseconds.
func ObserveInferenceDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	inferenceDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "archive_run_started_total", "Total pipeline runs started", runStartedTotal.Load())
	writeCounter(&buf, "archive_run_completed_total", "Total pipeline runs completed", runCompletedTotal.Load())
	writeCounter(&buf, "archive_run_failed_total", "Total pipeline runs failed", runFailedTotal.Load())
	writeCounter(&buf, "inference_calls_total", "Total inference service calls", inferenceCallsTotal.Load())
	writeCounter(&buf, "inference_failures_total", "Total failed inference service calls", inferenceFailuresTotal.Load())
	writeCounter(&buf, "annotations_written_total", "Total lens annotations written", annotationsWritten.Load())
	writeHistogram(&buf, "archive_run_duration_ms", "Pipeline run duration in milliseconds", runDuration.Snapshot())
	writeHistogram(&buf, "inference_duration_ms", "Inference call duration in milliseconds", inferenceDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}
