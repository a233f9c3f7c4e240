package backup

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// MetricsCollector accumulates counters across backup cycles. It is safe
// for concurrent use; the scheduler records into it while commands read
// snapshots out.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics CycleMetrics
}

// CycleMetrics holds the counters accumulated since process start
type CycleMetrics struct {
	CyclesCompleted int64 `json:"cycles_completed"`

	BackupsSucceeded int64 `json:"backups_succeeded"`
	BackupsFailed    int64 `json:"backups_failed"`
	BytesStored      int64 `json:"bytes_stored"`

	ArtifactsPruned   int64 `json:"artifacts_pruned"`
	ArtifactsPromoted int64 `json:"artifacts_promoted"`

	VerificationsRun    int64 `json:"verifications_run"`
	VerificationsFailed int64 `json:"verifications_failed"`

	LastCycleStarted  time.Time     `json:"last_cycle_started"`
	LastCycleDuration time.Duration `json:"last_cycle_duration"`
	LastCycleTargets  int           `json:"last_cycle_targets"`

	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

// NewMetricsCollector creates a collector with a zeroed counter set
func NewMetricsCollector() *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		metrics: CycleMetrics{
			StartTime:  now,
			LastUpdate: now,
		},
	}
}

// RecordBackup counts one completed or failed backup attempt
func (mc *MetricsCollector) RecordBackup(success bool, bytes int64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if success {
		mc.metrics.BackupsSucceeded++
		mc.metrics.BytesStored += bytes
	} else {
		mc.metrics.BackupsFailed++
	}
	mc.metrics.LastUpdate = time.Now()
}

// RecordPrune counts artifacts removed by retention
func (mc *MetricsCollector) RecordPrune(count int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.ArtifactsPruned += int64(count)
	mc.metrics.LastUpdate = time.Now()
}

// RecordPromotion counts artifacts copied into longer-period tiers
func (mc *MetricsCollector) RecordPromotion(count int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.ArtifactsPromoted += int64(count)
	mc.metrics.LastUpdate = time.Now()
}

// RecordVerification counts one verification restore
func (mc *MetricsCollector) RecordVerification(success bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.VerificationsRun++
	if !success {
		mc.metrics.VerificationsFailed++
	}
	mc.metrics.LastUpdate = time.Now()
}

// RecordCycle counts one finished cycle over the given number of targets
func (mc *MetricsCollector) RecordCycle(startedAt time.Time, targets int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.metrics.CyclesCompleted++
	mc.metrics.LastCycleStarted = startedAt
	mc.metrics.LastCycleDuration = time.Since(startedAt)
	mc.metrics.LastCycleTargets = targets
	mc.metrics.LastUpdate = time.Now()
}

// Snapshot returns a copy of the current counters
func (mc *MetricsCollector) Snapshot() CycleMetrics {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.metrics
}

// WriteReport writes the current counters as JSON to the given path
func (mc *MetricsCollector) WriteReport(path string) error {
	snapshot := mc.Snapshot()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return NewStorageError("failed to serialize metrics report", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return NewStorageError("failed to write metrics report", err)
	}
	return nil
}
