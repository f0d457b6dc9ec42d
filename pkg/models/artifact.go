package models

import "time"

// Enrichment carries contextual data derived from static lookup tables
// keyed by subsystem.
type Enrichment struct {
	Protocol     string  `json:"protocol"`
	SuccessRate  float64 `json:"successRate"`
	TimeEstimate string  `json:"timeEstimate"`
}

// Artifact is a generated documentation result together with its enrichment.
// Artifacts are immutable once stored in the response cache.
type Artifact struct {
	Content     string     `json:"content"`
	Enrichment  Enrichment `json:"enrichment"`
	Subsystem   string     `json:"subsystem"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// CacheStats reports response cache performance counters.
type CacheStats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}
