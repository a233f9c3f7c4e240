package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"dumpkeep/internal/database"
)

// Tier is a named retention bucket with an independent keep-count
type Tier string

const (
	TierHourly  Tier = "hourly"
	TierDaily   Tier = "daily"
	TierWeekly  Tier = "weekly"
	TierMonthly Tier = "monthly"
	TierYearly  Tier = "yearly"
)

// AllTiers lists every tier from shortest to longest period
var AllTiers = []Tier{TierHourly, TierDaily, TierWeekly, TierMonthly, TierYearly}

// Valid reports whether t is a known tier name
func (t Tier) Valid() bool {
	switch t {
	case TierHourly, TierDaily, TierWeekly, TierMonthly, TierYearly:
		return true
	default:
		return false
	}
}

// RetentionPolicy maps each tier to a keep-count. A count of zero or less
// means the tier is never pruned.
type RetentionPolicy struct {
	Hourly  int `mapstructure:"hourly" yaml:"hourly" json:"hourly"`
	Daily   int `mapstructure:"daily" yaml:"daily" json:"daily"`
	Weekly  int `mapstructure:"weekly" yaml:"weekly" json:"weekly"`
	Monthly int `mapstructure:"monthly" yaml:"monthly" json:"monthly"`
	Yearly  int `mapstructure:"yearly" yaml:"yearly" json:"yearly"`
}

// Keep returns the keep-count for a tier
func (p RetentionPolicy) Keep(tier Tier) int {
	switch tier {
	case TierHourly:
		return p.Hourly
	case TierDaily:
		return p.Daily
	case TierWeekly:
		return p.Weekly
	case TierMonthly:
		return p.Monthly
	case TierYearly:
		return p.Yearly
	default:
		return 0
	}
}

// DefaultRetentionPolicy is applied to targets that declare none
var DefaultRetentionPolicy = RetentionPolicy{
	Hourly:  24,
	Daily:   7,
	Weekly:  4,
	Monthly: 12,
	Yearly:  0,
}

// Target is one database to back up, assembled from configuration and
// immutable for the duration of a cycle.
type Target struct {
	Name        string
	Engine      database.Engine
	Locator     *database.Locator
	Retention   RetentionPolicy
	Compression CompressionType
	Encryption  *EncryptionConfig

	// VerifyHour, when set, is the wall-clock hour at which scheduled cycles
	// run a verification restore against the fresh artifact.
	VerifyHour *int
}

// TimestampLayout is the artifact filename timestamp format, always UTC
const TimestampLayout = "20060102T150405Z"

// SidecarSuffix is appended to an artifact filename to form its metadata
// sidecar name.
const SidecarSuffix = ".meta.json"

// EncryptedSuffix marks an encrypted artifact
const EncryptedSuffix = ".enc"

// Artifact describes one stored backup file. It is also the exact JSON
// document written to the metadata sidecar.
type Artifact struct {
	Target      string          `json:"target"`
	Engine      string          `json:"engine"`
	Tier        Tier            `json:"tier"`
	Filename    string          `json:"filename"`
	CreatedAt   time.Time       `json:"created_at"`
	SizeBytes   int64           `json:"size_bytes"`
	Compressed  bool            `json:"compressed"`
	Compression CompressionType `json:"compression"`
	Encrypted   bool            `json:"encrypted"`
	Recipients  []string        `json:"recipients,omitempty"`
	Checksum    string          `json:"checksum"`
	ToolVersion string          `json:"tool_version,omitempty"`
	Strategy    string          `json:"strategy,omitempty"`

	// Path is the absolute location on disk, derived at load time
	Path string `json:"-"`
}

// SidecarPath returns the artifact's metadata sidecar location
func (a *Artifact) SidecarPath() string {
	return a.Path + SidecarSuffix
}

// WriteSidecar persists the artifact descriptor next to the stored file.
// Callers invoke this only after the artifact's final bytes are in place.
func (a *Artifact) WriteSidecar() error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return NewStorageError("failed to serialize artifact metadata", err)
	}
	if err := os.WriteFile(a.SidecarPath(), data, 0644); err != nil {
		return NewStorageError("failed to write artifact metadata sidecar", err)
	}
	return nil
}

// ReadSidecar loads an artifact descriptor given the artifact path
func ReadSidecar(artifactPath string) (*Artifact, error) {
	data, err := os.ReadFile(artifactPath + SidecarSuffix)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to read metadata sidecar for %s", artifactPath), err)
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, NewStorageError("failed to parse artifact metadata sidecar", err)
	}
	artifact.Path = artifactPath

	return &artifact, nil
}

// IsSidecar reports whether a filename is a metadata sidecar
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, SidecarSuffix)
}

// ArtifactFilename builds the stored filename for one backup:
// <target>_<timestamp>.sql plus the compression extension, plus the
// encryption suffix when encrypted.
func ArtifactFilename(target string, createdAt time.Time, compression CompressionType, encrypted bool) string {
	name := target + "_" + createdAt.UTC().Format(TimestampLayout) + ".sql" + compression.Extension()
	if encrypted {
		name += EncryptedSuffix
	}
	return name
}
