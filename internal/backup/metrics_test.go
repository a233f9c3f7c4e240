package backup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_RecordBackup(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordBackup(true, 1024)
	mc.RecordBackup(true, 2048)
	mc.RecordBackup(false, 0)

	snapshot := mc.Snapshot()
	assert.Equal(t, int64(2), snapshot.BackupsSucceeded)
	assert.Equal(t, int64(1), snapshot.BackupsFailed)
	assert.Equal(t, int64(3072), snapshot.BytesStored)
}

func TestMetricsCollector_RecordPruneAndPromotion(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordPrune(3)
	mc.RecordPrune(2)
	mc.RecordPromotion(1)

	snapshot := mc.Snapshot()
	assert.Equal(t, int64(5), snapshot.ArtifactsPruned)
	assert.Equal(t, int64(1), snapshot.ArtifactsPromoted)
}

func TestMetricsCollector_RecordVerification(t *testing.T) {
	mc := NewMetricsCollector()

	mc.RecordVerification(true)
	mc.RecordVerification(false)
	mc.RecordVerification(true)

	snapshot := mc.Snapshot()
	assert.Equal(t, int64(3), snapshot.VerificationsRun)
	assert.Equal(t, int64(1), snapshot.VerificationsFailed)
}

func TestMetricsCollector_RecordCycle(t *testing.T) {
	mc := NewMetricsCollector()

	startedAt := time.Now().Add(-time.Second)
	mc.RecordCycle(startedAt, 4)

	snapshot := mc.Snapshot()
	assert.Equal(t, int64(1), snapshot.CyclesCompleted)
	assert.True(t, snapshot.LastCycleStarted.Equal(startedAt))
	assert.GreaterOrEqual(t, snapshot.LastCycleDuration, time.Second)
	assert.Equal(t, 4, snapshot.LastCycleTargets)
}

func TestMetricsCollector_SnapshotIsACopy(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordBackup(true, 100)

	snapshot := mc.Snapshot()
	snapshot.BackupsSucceeded = 99

	assert.Equal(t, int64(1), mc.Snapshot().BackupsSucceeded)
}

func TestMetricsCollector_ConcurrentRecording(t *testing.T) {
	mc := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				mc.RecordBackup(true, 1)
				mc.RecordPrune(1)
			}
		}()
	}
	wg.Wait()

	snapshot := mc.Snapshot()
	assert.Equal(t, int64(1000), snapshot.BackupsSucceeded)
	assert.Equal(t, int64(1000), snapshot.BytesStored)
	assert.Equal(t, int64(1000), snapshot.ArtifactsPruned)
}

func TestMetricsCollector_WriteReport(t *testing.T) {
	mc := NewMetricsCollector()
	mc.RecordBackup(true, 512)
	mc.RecordCycle(time.Now(), 2)

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, mc.WriteReport(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded CycleMetrics
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, int64(1), loaded.BackupsSucceeded)
	assert.Equal(t, int64(512), loaded.BytesStored)
	assert.Equal(t, int64(1), loaded.CyclesCompleted)
}
