package opinion

// ListOptions provides filtering options for listing opinions.
type ListOptions struct {
	ProjectID    string
	TopicID      *string
	ActionStatus []ActionStatus
	Bookmarked   *bool
	Limit        int
	Offset       int
}

// SearchOptions provides filtering options for search.
type SearchOptions struct {
	Limit  int
	Offset int
}
