package usage

import "time"

// Record is one entry of the append-only analysis usage ledger
type Record struct {
	ID                int64         `json:"id"`
	UserID            string        `json:"userId"`
	ProjectID         string        `json:"projectId"`
	Timestamp         time.Time     `json:"timestamp"`
	OpinionsProcessed int           `json:"opinionsProcessed"`
	ExecutionTime     time.Duration `json:"executionTime"`
}

// Filter narrows ledger queries. Empty fields are not filtered on.
type Filter struct {
	UserID    string
	ProjectID string
	Since     *time.Time
}

// Tier names a subscription plan
type Tier string

const (
	TierFree  Tier = "free"
	TierTrial Tier = "trial"
	TierPro   Tier = "pro"
)
