package opinion

import "time"

// Sentiment is the coarse polarity assigned to an opinion
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ActionStatus tracks what the owner has done about an opinion
type ActionStatus string

const (
	ActionUnhandled  ActionStatus = "unhandled"
	ActionInProgress ActionStatus = "in-progress"
	ActionResolved   ActionStatus = "resolved"
	ActionDismissed  ActionStatus = "dismissed"
)

// ActiveActionStatuses are the statuses that mark a human as having acted.
var ActiveActionStatuses = []ActionStatus{ActionInProgress, ActionResolved}

// AnalysisState records the last classification pass over an opinion
type AnalysisState struct {
	LastAnalyzedAt   *time.Time `json:"lastAnalyzedAt,omitempty"`
	Version          int        `json:"version"`
	Confidence       float64    `json:"confidence" validate:"gte=0,lte=1"`
	ManualReviewFlag bool       `json:"manualReviewFlag"`
}

// Opinion is a single free-text submission within a project
type Opinion struct {
	ID             string        `json:"id"`
	ProjectID      string        `json:"projectId" validate:"required"`
	TopicID        *string       `json:"topicId,omitempty"`
	Content        string        `json:"content" validate:"required,max=10000"`
	Sentiment      Sentiment     `json:"sentiment" validate:"required,oneof=positive neutral negative"`
	CharacterCount int           `json:"characterCount"`
	SubmittedAt    time.Time     `json:"submittedAt"`
	IsBookmarked   bool          `json:"isBookmarked"`
	ActionStatus   ActionStatus  `json:"actionStatus" validate:"required,oneof=unhandled in-progress resolved dismissed"`
	PriorityLevel  string        `json:"priorityLevel,omitempty" validate:"omitempty,oneof=low medium high critical"`
	PriorityReason string        `json:"priorityReason,omitempty" validate:"max=500"`
	DueDate        *time.Time    `json:"dueDate,omitempty"`
	Analysis       AnalysisState `json:"analysisState"`
	Version        int64         `json:"version"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Clone returns a copy of o that shares no pointers with it.
func (o *Opinion) Clone() *Opinion {
	c := *o
	if o.TopicID != nil {
		id := *o.TopicID
		c.TopicID = &id
	}
	if o.DueDate != nil {
		due := *o.DueDate
		c.DueDate = &due
	}
	if o.Analysis.LastAnalyzedAt != nil {
		at := *o.Analysis.LastAnalyzedAt
		c.Analysis.LastAnalyzedAt = &at
	}
	return &c
}

// SearchResult represents a search hit with relevance
type SearchResult struct {
	Opinion Opinion `json:"opinion"`
	Rank    float64 `json:"rank"`
	Snippet string  `json:"snippet,omitempty"`
}
