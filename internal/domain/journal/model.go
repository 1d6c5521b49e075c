package journal

import "time"

// Phase is a step in the two-store write protocol
type Phase string

const (
	PhasePendingPrimary   Phase = "pending-primary"
	PhasePendingReplica   Phase = "pending-replica"
	PhasePrimaryCommitted Phase = "primary-committed"
	PhaseReplicaCommitted Phase = "replica-committed"
	PhaseReplicaFailed    Phase = "replica-failed"
	PhaseCompensating     Phase = "compensating"
	PhaseCompensated      Phase = "compensated"
	PhaseFailed           Phase = "failed"
)

// Terminal reports whether no further phase follows.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseReplicaCommitted, PhaseCompensated, PhaseFailed:
		return true
	}
	return false
}

// Entry is one phase transition of one write
type Entry struct {
	ID            int64     `json:"id"`
	CorrelationID string    `json:"correlationId"`
	OperationID   string    `json:"operationId,omitempty"`
	Kind          string    `json:"kind"`
	Op            string    `json:"op"`
	EntityID      string    `json:"entityId"`
	ProjectID     string    `json:"projectId,omitempty"`
	Phase         Phase     `json:"phase"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ListOptions provides filtering options for listing journal entries.
type ListOptions struct {
	EntityID      string
	CorrelationID string
	ProjectID     string
	Phase         *Phase
	Limit         int
	Offset        int
}

// OperationStatus is the outcome stored for an idempotency key
type OperationStatus string

const (
	OperationCommitted OperationStatus = "committed"
	OperationFailed    OperationStatus = "failed"
)

// Operation remembers a caller-supplied operation id and the payload
// fingerprint it was first executed with.
type Operation struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Op          string          `json:"op"`
	EntityID    string          `json:"entityId"`
	Fingerprint string          `json:"fingerprint"`
	Status      OperationStatus `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}
