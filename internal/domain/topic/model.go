package topic

import "time"

// Status represents how far the owner has handled a topic
type Status string

const (
	StatusUnhandled  Status = "unhandled"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
	StatusDismissed  Status = "dismissed"
)

// Topic groups opinions that the analysis engine classified together.
// HasActiveActions caches a value the protection classifier can always
// re-derive from the topic's opinions.
type Topic struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"projectId" validate:"required"`
	Name             string     `json:"name" validate:"required,max=200"`
	Summary          string     `json:"summary,omitempty" validate:"max=4000"`
	Status           Status     `json:"status" validate:"required,oneof=unhandled in-progress resolved dismissed"`
	HasActiveActions bool       `json:"hasActiveActions"`
	LastActionDate   *time.Time `json:"lastActionDate,omitempty"`
	Version          int64      `json:"version"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Clone returns a copy of t that shares no pointers with it.
func (t *Topic) Clone() *Topic {
	c := *t
	if t.LastActionDate != nil {
		at := *t.LastActionDate
		c.LastActionDate = &at
	}
	return &c
}

// Patch describes a partial topic update.
type Patch struct {
	Name             *string `json:"name,omitempty"`
	Summary          *string `json:"summary,omitempty"`
	Status           *Status `json:"status,omitempty"`
	HasActiveActions *bool   `json:"hasActiveActions,omitempty"`
}

// Apply returns a copy of t with the patch applied. Moving the status
// stamps LastActionDate; resetting it to unhandled also clears the cached
// HasActiveActions unless the patch sets it explicitly.
func (p Patch) Apply(t Topic, now time.Time) Topic {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Summary != nil {
		t.Summary = *p.Summary
	}
	if p.Status != nil && *p.Status != t.Status {
		t.Status = *p.Status
		t.LastActionDate = &now
		if t.Status == StatusUnhandled && p.HasActiveActions == nil {
			t.HasActiveActions = false
		}
	}
	if p.HasActiveActions != nil {
		t.HasActiveActions = *p.HasActiveActions
	}
	t.UpdatedAt = now
	return t
}

// RewritesText reports whether the patch touches name or summary.
func (p Patch) RewritesText() bool {
	return p.Name != nil || p.Summary != nil
}
