package runtime

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/cidflow/internal/runtime/logging"
	"github.com/drblury/cidflow/internal/runtime/rpc"
)

const (
	metadataKeyQueueDepth = "cidflow_queue_depth"
	metadataKeyEnqueuedAt = "cidflow_enqueued_at"

	latencySampleSize = 256
)

// UnprocessableEventError wraps payloads that cannot be handled no matter how
// often they are retried. The default poison filter routes them to the poison queue.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

// NewUnprocessableEventError wraps err for the message payload.
func NewUnprocessableEventError(payload []byte, err error) *UnprocessableEventError {
	return &UnprocessableEventError{eventMessage: string(payload), err: err}
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error {
	return e.err
}

// HandlerStats is a live view of one router handler.
type HandlerStats struct {
	mu sync.Mutex

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency LatencyMetrics `json:"latency"`
	Errors  ErrorBreakdown `json:"errors"`
	Backlog BacklogMetrics `json:"backlog"`

	latencyWindow *latencyWindow
}

// HandlerInfo describes a registered handler.
type HandlerInfo struct {
	Name         string        `json:"name"`
	ConsumeQueue string        `json:"consume_queue"`
	PublishQueue string        `json:"publish_queue,omitempty"`
	Kind         string        `json:"kind"`
	Stats        *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	LastQueueDepth     int64  `json:"last_queue_depth"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier buckets handler errors for HandlerStats.
type ErrorClassifier func(error) ErrorCategory

func newHandlerStats() *HandlerStats {
	return &HandlerStats{
		latencyWindow: newLatencyWindow(latencySampleSize),
		Backlog: BacklogMetrics{
			LastQueueDepth:     -1,
			EstimatedLagMillis: -1,
		},
	}
}

type handlerInvocationContext struct {
	queueDepth     int64
	queueLagMillis int64
}

func (h *HandlerStats) onMessageStart(msg *message.Message) handlerInvocationContext {
	depth, lag := extractBacklogHints(msg)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.Backlog.InFlight++
	if h.Backlog.InFlight > h.Backlog.MaxInFlight {
		h.Backlog.MaxInFlight = h.Backlog.InFlight
	}

	return handlerInvocationContext{queueDepth: depth, queueLagMillis: lag}
}

func (h *HandlerStats) onMessageFinish(ctx handlerInvocationContext, duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.Backlog.InFlight > 0 {
		h.Backlog.InFlight--
	}
	if ctx.queueDepth >= 0 {
		h.Backlog.LastQueueDepth = ctx.queueDepth
	}
	if ctx.queueLagMillis >= 0 {
		h.Backlog.EstimatedLagMillis = ctx.queueLagMillis
	}

	h.MessagesProcessed++
	if err != nil {
		h.MessagesFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastProcessedAt = time.Now().UTC()

	h.latencyWindow.Add(duration)
	snapshot := h.latencyWindow.Snapshot()
	snapshot.AverageNs = h.TotalProcessingTime / int64(h.MessagesProcessed)
	h.Latency = snapshot

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	h.Errors.Record(classifier(err), err)
}

// StatsSnapshot is a point-in-time copy of HandlerStats.
type StatsSnapshot struct {
	MessagesProcessed   uint64         `json:"messages_processed"`
	MessagesFailed      uint64         `json:"messages_failed"`
	TotalProcessingTime int64          `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time      `json:"last_processed_at"`
	Latency             LatencyMetrics `json:"latency"`
	Errors              ErrorBreakdown `json:"errors"`
	Backlog             BacklogMetrics `json:"backlog"`
}

// Snapshot copies the counters under the lock.
func (h *HandlerStats) Snapshot() StatsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return StatsSnapshot{
		MessagesProcessed:   h.MessagesProcessed,
		MessagesFailed:      h.MessagesFailed,
		TotalProcessingTime: h.TotalProcessingTime,
		LastProcessedAt:     h.LastProcessedAt,
		Latency:             h.Latency,
		Errors:              h.Errors,
		Backlog:             h.Backlog,
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	return jsoncodec.Marshal(h.Snapshot())
}

func extractBacklogHints(msg *message.Message) (int64, int64) {
	if msg == nil {
		return -1, -1
	}
	return parseInt64Metadata(msg.Metadata, metadataKeyQueueDepth), parseLagMetadata(msg.Metadata, metadataKeyEnqueuedAt)
}

func parseInt64Metadata(meta message.Metadata, key string) int64 {
	val := meta.Get(key)
	if val == "" {
		return -1
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return -1
	}
	return parsed
}

func parseLagMetadata(meta message.Metadata, key string) int64 {
	raw := meta.Get(key)
	if raw == "" {
		return -1
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return -1
	}
	return max(time.Since(ts).Milliseconds(), 0)
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := range samples {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

func defaultErrorClassifier(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case isUnprocessable(err):
		return ErrorCategoryValidation
	case errors.Is(err, rpc.ErrConnClosed), errors.Is(err, rpc.ErrClientClosed):
		return ErrorCategoryTransport
	case rpc.IsFailure(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryDownstream
	default:
		return ErrorCategoryOther
	}
}

// Handlers returns the registered handlers in registration order.
func (s *Service) Handlers() []*HandlerInfo {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return append([]*HandlerInfo(nil), s.handlers...)
}

// startStatsServer exposes handler statistics next to /metrics.
func (s *Service) startStatsServer() {
	if s.Conf.MetricsPort <= 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/handlers", http.HandlerFunc(s.handleGetHandlers))
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, s.Handlers()); err != nil {
		s.Logger.Error("Failed to encode handlers", err, loggingpkg.LogFields{"path": r.URL.Path})
	}
}
