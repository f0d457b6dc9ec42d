package models

import "time"

// AnonymousCaller is recorded when a request carries no caller identity.
const AnonymousCaller = "anonymous"

// AccessEvent records an attempted access to an elevated-compliance path.
// Append-only; immutable once constructed.
type AccessEvent struct {
	ID         string            `json:"id"`
	Caller     string            `json:"caller"`
	Endpoint   string            `json:"endpoint"`
	SourceAddr string            `json:"sourceAddr"`
	Authorized bool              `json:"authorized"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// UsageEvent records a completed generation or cache-served response.
// VINSuffix holds the last four characters of the vehicle identifier only;
// the full identifier must never be persisted in the audit trail.
type UsageEvent struct {
	ID           string            `json:"id"`
	Caller       string            `json:"caller"`
	VINSuffix    string            `json:"vinSuffix"`
	Subsystem    string            `json:"subsystem"`
	Submitter    string            `json:"submitter"`
	Organization string            `json:"organization"`
	CacheServed  bool              `json:"cacheServed"`
	Enhanced     bool              `json:"enhanced"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled       bool          `yaml:"enabled"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
	QueueSize     int           `yaml:"queue_size"`
	Workers       int           `yaml:"workers"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// AccessQueryOpts filters access-log queries.
type AccessQueryOpts struct {
	Caller   string
	Endpoint string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// UsageQueryOpts filters usage-log queries.
type UsageQueryOpts struct {
	Caller    string
	Subsystem string
	Since     time.Time
	Until     time.Time
	Limit     int
}
