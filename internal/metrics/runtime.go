package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const runtimeMetricsFileName = "runtime_metrics.json"

var latencyBucketUpperBoundsMs = []int64{
	10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000,
}

// RuntimeSnapshot contains aggregated runtime metrics for turns, guards, and tools.
type RuntimeSnapshot struct {
	UpdatedAt time.Time     `json:"updated_at"`
	Turn      TurnStats     `json:"turn"`
	Guard     GuardStats    `json:"guard"`
	Approval  ApprovalStats `json:"approval"`
	Tool      ToolStats     `json:"tool"`
}

// TurnStats tracks turn lifecycle outcomes.
type TurnStats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Blocked   int64 `json:"blocked"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Suspended int64 `json:"suspended"`
}

// BlockRatio returns blocked/started in [0,1].
func (t TurnStats) BlockRatio() float64 {
	if t.Started <= 0 {
		return 0
	}
	return float64(t.Blocked) / float64(t.Started)
}

// ApprovalStats tracks the approval gate lifecycle.
type ApprovalStats struct {
	Requested int64 `json:"requested"`
	Approved  int64 `json:"approved"`
	Rejected  int64 `json:"rejected"`
	Expired   int64 `json:"expired"`
}

// GuardStats tracks guard layer interventions.
type GuardStats struct {
	InputBlocks  int64 `json:"input_blocks"`
	OutputBlocks int64 `json:"output_blocks"`
	Redactions   int64 `json:"redactions"`
}

// ToolStats tracks tool execution metrics.
type ToolStats struct {
	Total             int64 `json:"total"`
	Errors            int64 `json:"errors"`
	Timeouts          int64 `json:"timeouts"`
	TotalLatencyMs    int64 `json:"total_latency_ms"`
	MaxLatencyMs      int64 `json:"max_latency_ms"`
	LastLatencyMs     int64 `json:"last_latency_ms"`
	P95ProxyLatencyMs int64 `json:"p95_proxy_latency_ms"`
}

// ErrorRatio returns errors/total in [0,1].
func (t ToolStats) ErrorRatio() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.Errors) / float64(t.Total)
}

// AvgLatencyMs returns average latency in milliseconds.
func (t ToolStats) AvgLatencyMs() float64 {
	if t.Total <= 0 {
		return 0
	}
	return float64(t.TotalLatencyMs) / float64(t.Total)
}

// HasData reports whether any runtime metrics were recorded.
func (s RuntimeSnapshot) HasData() bool {
	return s.Turn.Started > 0 || s.Tool.Total > 0
}

// TurnOutcome names a terminal turn state for metric recording.
type TurnOutcome string

// ApprovalOutcome names a resolved approval state for metric recording.
type ApprovalOutcome string

const (
	ApprovalApproved ApprovalOutcome = "approved"
	ApprovalRejected ApprovalOutcome = "rejected"
	ApprovalExpired  ApprovalOutcome = "expired"
)

const (
	OutcomeCompleted TurnOutcome = "completed"
	OutcomeBlocked   TurnOutcome = "blocked"
	OutcomeRejected  TurnOutcome = "rejected"
	OutcomeFailed    TurnOutcome = "failed"
	OutcomeCancelled TurnOutcome = "cancelled"
)

// RuntimeMetrics records and persists runtime metrics.
type RuntimeMetrics struct {
	path string

	mu      sync.Mutex
	snap    RuntimeSnapshot
	buckets []int64
}

// NewRuntimeMetrics creates a metrics recorder rooted at <workspace>/state/runtime_metrics.json.
func NewRuntimeMetrics(workspacePath string) *RuntimeMetrics {
	return &RuntimeMetrics{
		path:    runtimeMetricsPath(workspacePath),
		buckets: make([]int64, len(latencyBucketUpperBoundsMs)+1),
	}
}

// Snapshot returns the latest in-memory snapshot.
func (m *RuntimeMetrics) Snapshot() RuntimeSnapshot {
	if m == nil {
		return RuntimeSnapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// RecordTurnStarted bumps the started counter and persists the snapshot.
func (m *RuntimeMetrics) RecordTurnStarted() (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		s.Turn.Started++
	})
}

// RecordTurnSuspended bumps the suspended counter and persists the snapshot.
func (m *RuntimeMetrics) RecordTurnSuspended() (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		s.Turn.Suspended++
	})
}

// RecordTurnOutcome records a terminal turn state and persists the snapshot.
func (m *RuntimeMetrics) RecordTurnOutcome(outcome TurnOutcome) (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		switch outcome {
		case OutcomeCompleted:
			s.Turn.Completed++
		case OutcomeBlocked:
			s.Turn.Blocked++
		case OutcomeRejected:
			s.Turn.Rejected++
		case OutcomeFailed:
			s.Turn.Failed++
		case OutcomeCancelled:
			s.Turn.Cancelled++
		}
	})
}

// RecordApprovalRequested bumps the approval request counter.
func (m *RuntimeMetrics) RecordApprovalRequested() (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		s.Approval.Requested++
	})
}

// RecordApprovalOutcome records a resolved approval request.
func (m *RuntimeMetrics) RecordApprovalOutcome(outcome ApprovalOutcome) (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		switch outcome {
		case ApprovalApproved:
			s.Approval.Approved++
		case ApprovalRejected:
			s.Approval.Rejected++
		case ApprovalExpired:
			s.Approval.Expired++
		}
	})
}

// RecordInputBlock bumps the input guard block counter.
func (m *RuntimeMetrics) RecordInputBlock() (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		s.Guard.InputBlocks++
	})
}

// RecordOutputBlock bumps the output guard block counter.
func (m *RuntimeMetrics) RecordOutputBlock() (RuntimeSnapshot, error) {
	return m.update(func(s *RuntimeSnapshot) {
		s.Guard.OutputBlocks++
	})
}

// RecordRedactions adds to the redaction counter.
func (m *RuntimeMetrics) RecordRedactions(count int) (RuntimeSnapshot, error) {
	if count <= 0 {
		return m.Snapshot(), nil
	}
	return m.update(func(s *RuntimeSnapshot) {
		s.Guard.Redactions += int64(count)
	})
}

func (m *RuntimeMetrics) update(apply func(*RuntimeSnapshot)) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}
	m.mu.Lock()
	m.snap.UpdatedAt = time.Now().UTC()
	apply(&m.snap)
	snapshot := m.snap
	m.mu.Unlock()
	return snapshot, persistRuntimeSnapshot(m.path, snapshot)
}

// RecordToolExecution updates tool metrics and persists the snapshot.
func (m *RuntimeMetrics) RecordToolExecution(duration time.Duration, runErr error) (RuntimeSnapshot, error) {
	if m == nil {
		return RuntimeSnapshot{}, nil
	}

	now := time.Now().UTC()
	latencyMs := duration.Milliseconds()
	if latencyMs < 0 {
		latencyMs = 0
	}

	m.mu.Lock()
	m.snap.UpdatedAt = now
	m.snap.Tool.Total++
	m.snap.Tool.TotalLatencyMs += latencyMs
	m.snap.Tool.LastLatencyMs = latencyMs
	if latencyMs > m.snap.Tool.MaxLatencyMs {
		m.snap.Tool.MaxLatencyMs = latencyMs
	}
	if runErr != nil {
		m.snap.Tool.Errors++
		if isTimeoutError(runErr) {
			m.snap.Tool.Timeouts++
		}
	}

	m.buckets[latencyBucketIndex(latencyMs)]++
	m.snap.Tool.P95ProxyLatencyMs = p95ProxyFromBuckets(m.buckets, m.snap.Tool.Total)

	snapshot := m.snap
	m.mu.Unlock()

	return snapshot, persistRuntimeSnapshot(m.path, snapshot)
}

// ReadRuntimeSnapshot reads the persisted snapshot from workspace state.
// If no file exists yet, it returns a zero-value snapshot and nil error.
func ReadRuntimeSnapshot(workspacePath string) (RuntimeSnapshot, error) {
	path := runtimeMetricsPath(workspacePath)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RuntimeSnapshot{}, nil
		}
		return RuntimeSnapshot{}, fmt.Errorf("read runtime metrics: %w", err)
	}

	var snap RuntimeSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return RuntimeSnapshot{}, fmt.Errorf("decode runtime metrics: %w", err)
	}
	return snap, nil
}

func runtimeMetricsPath(workspacePath string) string {
	return filepath.Join(workspacePath, "state", runtimeMetricsFileName)
}

func persistRuntimeSnapshot(path string, snapshot RuntimeSnapshot) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create runtime metrics dir: %w", err)
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode runtime metrics: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write runtime metrics temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename runtime metrics file: %w", err)
	}
	return nil
}

func latencyBucketIndex(latencyMs int64) int {
	for i, upper := range latencyBucketUpperBoundsMs {
		if latencyMs <= upper {
			return i
		}
	}
	return len(latencyBucketUpperBoundsMs)
}

func p95ProxyFromBuckets(buckets []int64, total int64) int64 {
	if total <= 0 {
		return 0
	}
	target := int64(float64(total) * 0.95)
	if target <= 0 {
		target = 1
	}

	var cumulative int64
	for i, count := range buckets {
		cumulative += count
		if cumulative < target {
			continue
		}
		if i >= len(latencyBucketUpperBoundsMs) {
			return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
		}
		return latencyBucketUpperBoundsMs[i]
	}
	return latencyBucketUpperBoundsMs[len(latencyBucketUpperBoundsMs)-1]
}

func isTimeoutError(runErr error) bool {
	if errors.Is(runErr, context.DeadlineExceeded) {
		return true
	}
	lowered := strings.ToLower(strings.TrimSpace(fmt.Sprint(runErr)))
	if lowered == "<nil>" {
		return false
	}
	return strings.Contains(lowered, "deadline exceeded") ||
		strings.Contains(lowered, "timeout") ||
		strings.Contains(lowered, "timed out")
}
