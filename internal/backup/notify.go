package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"dumpkeep/internal/logging"
)

// Event severities
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Event kinds
const (
	EventCycleCompleted     = "cycle_completed"
	EventBackupFailed       = "backup_failed"
	EventVerificationFailed = "verification_failed"
)

// CycleEvent is the notification payload emitted at the end of a cycle or
// after a notable failure during one.
type CycleEvent struct {
	Kind      string        `json:"kind"`
	Target    string        `json:"target,omitempty"`
	Message   string        `json:"message"`
	Severity  string        `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
	Metrics   *CycleMetrics `json:"metrics,omitempty"`
}

// NotificationConfig holds configuration for cycle notifications
type NotificationConfig struct {
	Enabled     bool           `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MinSeverity string         `mapstructure:"min_severity" yaml:"min_severity" json:"min_severity"`
	Webhook     *WebhookConfig `mapstructure:"webhook" yaml:"webhook,omitempty" json:"webhook,omitempty"`
	File        *FileConfig    `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// WebhookConfig for webhook notifications
type WebhookConfig struct {
	URL     string            `mapstructure:"url" yaml:"url" json:"url"`
	Method  string            `mapstructure:"method" yaml:"method" json:"method"`
	Headers map[string]string `mapstructure:"headers" yaml:"headers" json:"headers"`
	Timeout time.Duration     `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// FileConfig for file-based notifications
type FileConfig struct {
	Path   string `mapstructure:"path" yaml:"path" json:"path"`
	Format string `mapstructure:"format" yaml:"format" json:"format"` // json, text
}

// NotificationChannel interface for different delivery methods
type NotificationChannel interface {
	Send(ctx context.Context, event CycleEvent) error
	GetType() string
	IsEnabled() bool
}

// Notifier fans cycle events out to the configured channels. Delivery
// failures are logged and never interrupt the cycle that produced them.
type Notifier struct {
	logger   *logging.Logger
	config   NotificationConfig
	channels []NotificationChannel
}

// NewNotifier creates a notifier with channels built from the configuration
func NewNotifier(config NotificationConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	n := &Notifier{
		logger:   logger,
		config:   config,
		channels: make([]NotificationChannel, 0),
	}
	if config.Webhook != nil {
		n.channels = append(n.channels, NewWebhookChannel(logger, *config.Webhook))
	}
	if config.File != nil {
		n.channels = append(n.channels, NewFileChannel(logger, *config.File))
	}
	return n
}

// Broadcast delivers one event through every enabled channel
func (n *Notifier) Broadcast(ctx context.Context, event CycleEvent) {
	if !n.config.Enabled {
		return
	}
	if severityRank(event.Severity) < severityRank(n.config.MinSeverity) {
		n.logger.Debugf("Suppressing %s notification below severity threshold", event.Kind)
		return
	}

	for _, channel := range n.channels {
		if !channel.IsEnabled() {
			continue
		}
		if err := channel.Send(ctx, event); err != nil {
			n.logger.WithFields(map[string]interface{}{
				"channel": channel.GetType(),
				"kind":    event.Kind,
				"error":   err.Error(),
			}).Error("Failed to send notification")
		}
	}
}

func severityRank(severity string) int {
	switch severity {
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 1
	}
}

// WebhookChannel delivers events to an HTTP endpoint
type WebhookChannel struct {
	logger *logging.Logger
	config WebhookConfig
	client *http.Client
}

// NewWebhookChannel creates a new webhook notification channel
func NewWebhookChannel(logger *logging.Logger, config WebhookConfig) *WebhookChannel {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &WebhookChannel{
		logger: logger,
		config: config,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the event as JSON
func (wc *WebhookChannel) Send(ctx context.Context, event CycleEvent) error {
	if wc.config.URL == "" {
		return fmt.Errorf("webhook URL not configured")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := wc.config.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, wc.config.URL, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range wc.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// GetType returns the channel type
func (wc *WebhookChannel) GetType() string {
	return "webhook"
}

// IsEnabled checks if the channel is enabled
func (wc *WebhookChannel) IsEnabled() bool {
	return wc.config.URL != ""
}

// FileChannel appends events to a local file
type FileChannel struct {
	logger *logging.Logger
	config FileConfig
}

// NewFileChannel creates a new file notification channel
func NewFileChannel(logger *logging.Logger, config FileConfig) *FileChannel {
	return &FileChannel{
		logger: logger,
		config: config,
	}
}

// Send appends the event to the configured file, one line per event
func (fc *FileChannel) Send(ctx context.Context, event CycleEvent) error {
	if fc.config.Path == "" {
		return fmt.Errorf("notification file path not configured")
	}

	var content string
	switch fc.config.Format {
	case "json":
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal notification to JSON: %w", err)
		}
		content = string(data) + "\n"
	default:
		content = fmt.Sprintf("[%s] %s %s: %s\n",
			event.Timestamp.Format(time.RFC3339),
			strings.ToUpper(event.Severity),
			event.Kind,
			event.Message)
	}

	file, err := os.OpenFile(fc.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open notification file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		return fmt.Errorf("failed to write notification to file: %w", err)
	}
	return nil
}

// GetType returns the channel type
func (fc *FileChannel) GetType() string {
	return "file"
}

// IsEnabled checks if the channel is enabled
func (fc *FileChannel) IsEnabled() bool {
	return fc.config.Path != ""
}
