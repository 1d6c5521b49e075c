package project

import "time"

// Patch describes a partial project update. Nil fields are left unchanged.
type Patch struct {
	Name                     *string    `json:"name,omitempty"`
	Description              *string    `json:"description,omitempty"`
	Status                   *Status    `json:"status,omitempty"`
	IsArchived               *bool      `json:"isArchived,omitempty"`
	Priority                 *Priority  `json:"priority,omitempty"`
	LastAnalysisAt           *time.Time `json:"lastAnalysisAt,omitempty"`
	LastAnalyzedOpinionCount *int       `json:"lastAnalyzedOpinionCount,omitempty"`
}

// UnarchiveOnly reports whether the patch does nothing but clear the
// archived flag. This is the one mutation an archived project accepts.
func (p Patch) UnarchiveOnly() bool {
	return p.IsArchived != nil && !*p.IsArchived &&
		p.Name == nil && p.Description == nil && p.Status == nil &&
		p.Priority == nil && p.LastAnalysisAt == nil && p.LastAnalyzedOpinionCount == nil
}

// Apply returns a copy of proj with the patch applied. The archived status
// and the IsArchived flag always move together; IsArchived wins when a patch
// sets both.
func (p Patch) Apply(proj Project, now time.Time) Project {
	if p.Name != nil {
		proj.Name = *p.Name
	}
	if p.Description != nil {
		proj.Description = *p.Description
	}
	if p.Status != nil {
		proj.Status = *p.Status
	}
	if p.Priority != nil {
		prio := *p.Priority
		prio.UpdatedAt = &now
		proj.Priority = prio
	}
	if p.LastAnalysisAt != nil {
		at := *p.LastAnalysisAt
		proj.LastAnalysisAt = &at
	}
	if p.LastAnalyzedOpinionCount != nil {
		proj.LastAnalyzedOpinionCount = *p.LastAnalyzedOpinionCount
	}

	archived := proj.IsArchived
	switch {
	case p.IsArchived != nil:
		archived = *p.IsArchived
	case p.Status != nil:
		archived = *p.Status == StatusArchived
	}
	if archived != proj.IsArchived {
		proj.IsArchived = archived
		if archived {
			proj.ArchivedAt = &now
		} else {
			proj.ArchivedAt = nil
		}
	}
	switch {
	case proj.IsArchived:
		proj.Status = StatusArchived
	case proj.Status == StatusArchived:
		proj.Status = StatusCollecting
	}
	proj.UpdatedAt = now
	return proj
}
