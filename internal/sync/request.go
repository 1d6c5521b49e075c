package sync

// Kind names an entity kind the coordinator writes.
type Kind string

const (
	KindProject Kind = "project"
	KindOpinion Kind = "opinion"
	KindTask    Kind = "task"
	KindTopic   Kind = "topic"
)

// Op is a write operation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// past is the event suffix published after a successful write.
func (o Op) past() string {
	switch o {
	case OpCreate:
		return "created"
	case OpUpdate:
		return "updated"
	case OpDelete:
		return "deleted"
	}
	return string(o)
}

// WriteRequest is one coordinated write.
//
// Payload is the entity (value or pointer) for create, its Patch type for
// update, and ignored for delete.
type WriteRequest struct {
	Kind    Kind
	Op      Op
	ID      string
	Payload any

	// ActorID identifies the caller for the archive guard.
	ActorID string
	// PublicOwnerID marks an unauthenticated submission. The project is
	// then only resolved under this owner.
	PublicOwnerID string
	// OperationID is an optional idempotency key.
	OperationID string
	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int64
	// Fingerprint, when set, replaces Payload as the value an OperationID
	// is matched against on replay.
	Fingerprint any
}

// WriteOption adjusts a typed write.
type WriteOption func(*WriteRequest)

// WithActor sets the acting user.
func WithActor(id string) WriteOption {
	return func(r *WriteRequest) { r.ActorID = id }
}

// WithPublicOwner marks the write as a public submission to ownerID's project.
func WithPublicOwner(ownerID string) WriteOption {
	return func(r *WriteRequest) { r.PublicOwnerID = ownerID }
}

// WithOperationID sets the idempotency key.
func WithOperationID(id string) WriteOption {
	return func(r *WriteRequest) { r.OperationID = id }
}

// WithExpectedVersion requires the stored entity to be at version.
func WithExpectedVersion(version int64) WriteOption {
	return func(r *WriteRequest) { r.ExpectedVersion = &version }
}

// WithFingerprint matches a repeated operation id against v instead of the
// payload. Callers that enrich the payload nondeterministically pass the
// input they were given.
func WithFingerprint(v any) WriteOption {
	return func(r *WriteRequest) { r.Fingerprint = v }
}

func newRequest(kind Kind, op Op, id string, payload any, opts []WriteOption) WriteRequest {
	req := WriteRequest{Kind: kind, Op: op, ID: id, Payload: payload}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}
