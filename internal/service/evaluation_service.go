package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/actiongate/actiongate/internal/domain/policy"
)

// DefaultHistorySize bounds the in-memory evaluation record ring.
const DefaultHistorySize = 1000

// EvaluationResult is the structured outcome returned to transports.
type EvaluationResult struct {
	RequestID string `json:"request_id"`
	Allowed   bool   `json:"allowed"`
	Basis     string `json:"basis"`
	Reason    string `json:"reason"`
	LatencyMs int64  `json:"latency_ms"`
}

// EvaluationRecord is a stored evaluation for status polling and the
// recent-decisions listing.
type EvaluationRecord struct {
	RequestID string    `json:"request_id"`
	Identity  string    `json:"identity"`
	Resource  string    `json:"resource"`
	Channel   string    `json:"channel"`
	Allowed   bool      `json:"allowed"`
	Basis     string    `json:"basis"`
	LatencyMs int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// EvaluationService wraps the policy engine for transports: request IDs,
// latency measurement, tracing, and a bounded history of recent decisions.
// Evaluation itself never fails; the engine always yields a verdict.
type EvaluationService struct {
	engine *policy.Engine
	logger *slog.Logger
	tracer trace.Tracer

	mu      sync.RWMutex
	records map[string]*EvaluationRecord // keyed by request_id
	order   []string                     // FIFO order for eviction
	maxSize int
}

// NewEvaluationService creates an EvaluationService. historySize <= 0 means
// DefaultHistorySize.
func NewEvaluationService(engine *policy.Engine, historySize int, logger *slog.Logger) *EvaluationService {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &EvaluationService{
		engine:  engine,
		logger:  logger,
		tracer:  otel.Tracer("actiongate/evaluation"),
		records: make(map[string]*EvaluationRecord),
		order:   make([]string, 0, historySize),
		maxSize: historySize,
	}
}

// Evaluate resolves one request and records it in the history ring.
func (s *EvaluationService) Evaluate(ctx context.Context, identity, resource, channel string) EvaluationResult {
	requestID := uuid.New().String()
	start := time.Now()

	req := policy.Request{Identity: identity, Resource: resource, Channel: channel}.Normalize()

	_, span := s.tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("policy.channel", req.Channel),
			attribute.String("policy.resource", req.Resource),
		))
	decision := s.engine.Evaluate(req)
	span.SetAttributes(
		attribute.Bool("policy.allowed", decision.Allowed),
		attribute.String("policy.basis", string(decision.Basis)),
	)
	span.End()

	latencyMs := time.Since(start).Milliseconds()

	s.record(&EvaluationRecord{
		RequestID: requestID,
		Identity:  req.Identity,
		Resource:  req.Resource,
		Channel:   req.Channel,
		Allowed:   decision.Allowed,
		Basis:     string(decision.Basis),
		LatencyMs: latencyMs,
		CreatedAt: time.Now().UTC(),
	})

	s.logger.Debug("policy evaluated",
		"request_id", requestID,
		"channel", req.Channel,
		"resource", req.Resource,
		"allowed", decision.Allowed,
		"basis", decision.Basis,
	)

	return EvaluationResult{
		RequestID: requestID,
		Allowed:   decision.Allowed,
		Basis:     string(decision.Basis),
		Reason:    decision.Reason,
		LatencyMs: latencyMs,
	}
}

// Status returns the stored record for a request ID, or nil when it has
// been evicted or never existed.
func (s *EvaluationService) Status(requestID string) *EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[requestID]; ok {
		c := *rec
		return &c
	}
	return nil
}

// Recent returns up to n records, newest first.
func (s *EvaluationService) Recent(n int) []EvaluationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.order) {
		n = len(s.order)
	}
	out := make([]EvaluationRecord, 0, n)
	for i := len(s.order) - 1; i >= len(s.order)-n; i-- {
		out = append(out, *s.records[s.order[i]])
	}
	return out
}

// HistoryDepth returns the number of stored records.
func (s *EvaluationService) HistoryDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// HistoryCapacity returns the configured ring size.
func (s *EvaluationService) HistoryCapacity() int {
	return s.maxSize
}

// record stores an evaluation with bounded FIFO eviction.
func (s *EvaluationService) record(rec *EvaluationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.maxSize {
		oldID := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldID)
	}
	s.records[rec.RequestID] = rec
	s.order = append(s.order, rec.RequestID)
}
