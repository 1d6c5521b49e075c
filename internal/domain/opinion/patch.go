package opinion

import "time"

// Patch describes a partial opinion update. Nil fields are left unchanged.
// ClearTopic detaches the opinion from its topic; it wins over TopicID.
type Patch struct {
	TopicID        *string        `json:"topicId,omitempty"`
	ClearTopic     bool           `json:"clearTopic,omitempty"`
	Content        *string        `json:"content,omitempty"`
	Sentiment      *Sentiment     `json:"sentiment,omitempty"`
	IsBookmarked   *bool          `json:"isBookmarked,omitempty"`
	ActionStatus   *ActionStatus  `json:"actionStatus,omitempty"`
	PriorityLevel  *string        `json:"priorityLevel,omitempty"`
	PriorityReason *string        `json:"priorityReason,omitempty"`
	DueDate        *time.Time     `json:"dueDate,omitempty"`
	Analysis       *AnalysisState `json:"analysisState,omitempty"`
}

// Apply returns a copy of op with the patch applied.
func (p Patch) Apply(op Opinion, now time.Time) Opinion {
	switch {
	case p.ClearTopic:
		op.TopicID = nil
	case p.TopicID != nil:
		id := *p.TopicID
		op.TopicID = &id
	}
	if p.Content != nil {
		op.Content = *p.Content
		op.CharacterCount = CharacterCount(op.Content)
	}
	if p.Sentiment != nil {
		op.Sentiment = *p.Sentiment
	}
	if p.IsBookmarked != nil {
		op.IsBookmarked = *p.IsBookmarked
	}
	if p.ActionStatus != nil {
		op.ActionStatus = *p.ActionStatus
	}
	if p.PriorityLevel != nil {
		op.PriorityLevel = *p.PriorityLevel
	}
	if p.PriorityReason != nil {
		op.PriorityReason = *p.PriorityReason
	}
	if p.DueDate != nil {
		due := *p.DueDate
		op.DueDate = &due
	}
	if p.Analysis != nil {
		op.Analysis = *p.Analysis
	}
	op.UpdatedAt = now
	return op
}
