package quota

import (
	"errors"
	"fmt"
)

// ErrQuotaExceeded is matched by every *ExceededError.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Resource names what a plan limit counts.
type Resource string

const (
	ResourceAnalyses Resource = "analyses"
	ResourceOpinions Resource = "opinions"
)

// ExceededError carries the decision so callers can offer an upgrade path.
type ExceededError struct {
	Resource Resource
	Decision Decision
}

func (e *ExceededError) Error() string {
	if e.Decision.Message != "" {
		return e.Decision.Message
	}
	return fmt.Sprintf("%s quota exceeded", e.Resource)
}

func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}
