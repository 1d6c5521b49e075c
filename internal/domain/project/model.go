package project

import "time"

// Status represents the lifecycle state of a project
type Status string

const (
	StatusCollecting       Status = "collecting"
	StatusPaused           Status = "paused"
	StatusReadyForAnalysis Status = "ready-for-analysis"
	StatusProcessing       Status = "processing"
	StatusCompleted        Status = "completed"
	StatusArchived         Status = "archived"
	StatusError            Status = "error"
)

// Priority is the owner-assigned urgency of a project
type Priority struct {
	Level     string     `json:"level,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Reason    string     `json:"reason,omitempty" validate:"max=500"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Project owns opinions, tasks and topics. Opinion counts are never stored
// on the project; see Summary.
type Project struct {
	ID                       string     `json:"id"`
	ReplicaID                string     `json:"replicaId"`
	OwnerID                  string     `json:"ownerId" validate:"required"`
	Name                     string     `json:"name" validate:"required,max=200"`
	Description              string     `json:"description,omitempty" validate:"max=2000"`
	Status                   Status     `json:"status" validate:"required,oneof=collecting paused ready-for-analysis processing completed archived error"`
	IsArchived               bool       `json:"isArchived"`
	ArchivedAt               *time.Time `json:"archivedAt,omitempty"`
	Priority                 Priority   `json:"priority"`
	LastAnalysisAt           *time.Time `json:"lastAnalysisAt,omitempty"`
	LastAnalyzedOpinionCount int        `json:"lastAnalyzedOpinionCount" validate:"gte=0"`
	Version                  int64      `json:"version"`
	CreatedAt                time.Time  `json:"createdAt"`
	UpdatedAt                time.Time  `json:"updatedAt"`
}

// Clone returns a copy of p that shares no pointers with it.
func (p *Project) Clone() *Project {
	c := *p
	if p.ArchivedAt != nil {
		at := *p.ArchivedAt
		c.ArchivedAt = &at
	}
	if p.LastAnalysisAt != nil {
		at := *p.LastAnalysisAt
		c.LastAnalysisAt = &at
	}
	if p.Priority.UpdatedAt != nil {
		at := *p.Priority.UpdatedAt
		c.Priority.UpdatedAt = &at
	}
	return &c
}

// Summary is a project with its derived counts
type Summary struct {
	Project
	OpinionsCount           int `json:"opinionsCount"`
	UnanalyzedOpinionsCount int `json:"unanalyzedOpinionsCount"`
	TaskCount               int `json:"taskCount"`
}
