package backup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(kind, severity string) CycleEvent {
	return CycleEvent{
		Kind:      kind,
		Target:    "orders",
		Message:   "backup cycle finished",
		Severity:  severity,
		Timestamp: time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC),
	}
}

func TestNewNotifier_BuildsChannels(t *testing.T) {
	config := NotificationConfig{
		Enabled: true,
		Webhook: &WebhookConfig{URL: "https://example.com/hook"},
		File:    &FileConfig{Path: "/var/log/dumpkeep-events.log"},
	}

	n := NewNotifier(config, nil)
	assert.Len(t, n.channels, 2)
}

func TestNotifier_Broadcast_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	config := NotificationConfig{
		Enabled: true,
		File:    &FileConfig{Path: path, Format: "json"},
	}

	n := NewNotifier(config, nil)
	n.Broadcast(context.Background(), testEvent(EventCycleCompleted, SeverityInfo))
	n.Broadcast(context.Background(), testEvent(EventBackupFailed, SeverityCritical))

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)

	var first CycleEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, EventCycleCompleted, first.Kind)
	assert.Equal(t, "orders", first.Target)
}

func TestNotifier_Broadcast_FileTextFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	config := NotificationConfig{
		Enabled: true,
		File:    &FileConfig{Path: path, Format: "text"},
	}

	n := NewNotifier(config, nil)
	n.Broadcast(context.Background(), testEvent(EventVerificationFailed, SeverityCritical))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "CRITICAL")
	assert.Contains(t, string(content), EventVerificationFailed)
}

func TestNotifier_Broadcast_Webhook(t *testing.T) {
	var received CycleEvent
	var gotMethod, gotContentType, gotAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := NotificationConfig{
		Enabled: true,
		Webhook: &WebhookConfig{
			URL:     server.URL,
			Headers: map[string]string{"Authorization": "Bearer token123"},
		},
	}

	n := NewNotifier(config, nil)
	n.Broadcast(context.Background(), testEvent(EventCycleCompleted, SeverityInfo))

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "Bearer token123", gotAuth)
	assert.Equal(t, EventCycleCompleted, received.Kind)
	assert.Equal(t, "orders", received.Target)
}

func TestNotifier_Broadcast_Disabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	config := NotificationConfig{
		Enabled: false,
		File:    &FileConfig{Path: path},
	}

	n := NewNotifier(config, nil)
	n.Broadcast(context.Background(), testEvent(EventCycleCompleted, SeverityInfo))

	assert.NoFileExists(t, path)
}

func TestNotifier_Broadcast_SeverityFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	config := NotificationConfig{
		Enabled:     true,
		MinSeverity: SeverityWarning,
		File:        &FileConfig{Path: path, Format: "json"},
	}

	n := NewNotifier(config, nil)
	n.Broadcast(context.Background(), testEvent(EventCycleCompleted, SeverityInfo))
	assert.NoFileExists(t, path)

	n.Broadcast(context.Background(), testEvent(EventBackupFailed, SeverityCritical))
	assert.FileExists(t, path)
}

func TestNotifier_Broadcast_ChannelFailureDoesNotStopOthers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "events.log")
	config := NotificationConfig{
		Enabled: true,
		Webhook: &WebhookConfig{URL: server.URL},
		File:    &FileConfig{Path: path, Format: "json"},
	}

	n := NewNotifier(config, nil)
	n.Broadcast(context.Background(), testEvent(EventBackupFailed, SeverityCritical))

	// The webhook failed but the file channel still got the event.
	assert.FileExists(t, path)
}

func TestWebhookChannel_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	wc := NewWebhookChannel(nil, WebhookConfig{URL: server.URL})
	err := wc.Send(context.Background(), testEvent(EventCycleCompleted, SeverityInfo))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned error status")
}

func TestChannelEnablement(t *testing.T) {
	assert.False(t, NewWebhookChannel(nil, WebhookConfig{}).IsEnabled())
	assert.True(t, NewWebhookChannel(nil, WebhookConfig{URL: "https://example.com"}).IsEnabled())
	assert.False(t, NewFileChannel(nil, FileConfig{}).IsEnabled())
	assert.True(t, NewFileChannel(nil, FileConfig{Path: "/tmp/events.log"}).IsEnabled())
}
