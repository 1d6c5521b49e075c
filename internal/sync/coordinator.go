// Package sync writes entities to the primary store and the replica store
// in a fixed order and undoes the first write when the second one fails.
//
// Creates and updates go primary first, then replica. Deletes go replica
// first, then primary. Every phase transition is journaled, and a failed
// undo is surfaced as a *CompensationError rather than retried.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/tally/internal/codec"
	"github.com/rpggio/tally/internal/domain/journal"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/logging"
	"github.com/rpggio/tally/internal/realtime"
	"github.com/rpggio/tally/internal/replica"
	"github.com/rpggio/tally/internal/repository"
	"github.com/rpggio/tally/internal/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Replica is the part of the replica store the coordinator writes to.
type Replica interface {
	Set(ctx context.Context, path string, value any) error
	Update(ctx context.Context, path string, fields map[string]any) error
	Remove(ctx context.Context, path string) error
}

// Guard rejects writes against archived projects.
type Guard interface {
	Check(ctx context.Context, parentID, actorID string) error
	CheckPublic(ctx context.Context, projectID, ownerID string) error
}

// Notifier receives post-commit events.
type Notifier interface {
	Publish(ctx context.Context, scope, kind string, payload any) error
}

// Deps are the coordinator's collaborators. Operations, Journal and
// Notifier may be nil.
type Deps struct {
	Projects   repository.ProjectRepository
	Opinions   repository.OpinionRepository
	Tasks      repository.TaskRepository
	Topics     repository.TopicRepository
	Operations repository.OperationRepository
	Replica    Replica
	Guard      Guard
	Journal    *journal.Service
	Notifier   Notifier
	Logger     *slog.Logger
}

// Coordinator runs the two-store write protocol.
type Coordinator struct {
	projects   repository.ProjectRepository
	opinions   repository.OpinionRepository
	tasks      repository.TaskRepository
	topics     repository.TopicRepository
	operations repository.OperationRepository
	replica    Replica
	guard      Guard
	journal    *journal.Service
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
	kinds      map[Kind]binding
}

// NewCoordinator creates a coordinator.
func NewCoordinator(d Deps) *Coordinator {
	c := &Coordinator{
		projects:   d.Projects,
		opinions:   d.Opinions,
		tasks:      d.Tasks,
		topics:     d.Topics,
		operations: d.Operations,
		replica:    d.Replica,
		guard:      d.Guard,
		journal:    d.Journal,
		notifier:   d.Notifier,
		logger:     logging.Component(d.Logger, "sync"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	c.kinds = c.bindings()
	return c
}

// run carries one write through its phases.
type run struct {
	c        *Coordinator
	ctx      context.Context
	req      WriteRequest
	b        binding
	entityID string
	project  string
	logger   *slog.Logger
}

func (r *run) mark(phase journal.Phase, detail string) {
	r.c.journal.Record(r.ctx, journal.Entry{
		OperationID: r.req.OperationID,
		Kind:        string(r.req.Kind),
		Op:          string(r.req.Op),
		EntityID:    r.entityID,
		ProjectID:   r.project,
		Phase:       phase,
		Detail:      detail,
	})
	r.logger.Debug("sync phase", "phase", phase, "entity_id", r.entityID)
}

// Write executes req and returns the committed entity as a pointer to its
// domain type. Deletes return nil.
func (c *Coordinator) Write(ctx context.Context, req WriteRequest) (_ any, err error) {
	if logging.CorrelationID(ctx) == "" {
		ctx = logging.WithCorrelationID(ctx, uuid.NewString())
	}
	ctx, span := tracer.Start(ctx, "sync.Write")
	span.SetAttributes(
		attribute.String("sync.kind", string(req.Kind)),
		attribute.String("sync.op", string(req.Op)),
		attribute.String("correlation_id", logging.CorrelationID(ctx)),
	)
	start := time.Now()
	defer func() {
		writeDuration.WithLabelValues(string(req.Kind), string(req.Op)).Observe(time.Since(start).Seconds())
		writesTotal.WithLabelValues(string(req.Kind), string(req.Op), outcome(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	b, ok := c.kinds[req.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: kind %q", ErrUnsupported, req.Kind)
	}
	r := &run{
		c:        c,
		ctx:      ctx,
		req:      req,
		b:        b,
		entityID: req.ID,
		logger: logging.FromContext(ctx, c.logger).With(
			"kind", req.Kind, "op", req.Op, "operation_id", req.OperationID),
	}

	fingerprint, prior, err := c.checkOperation(r)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		return c.replay(r, prior)
	}

	var d *doc
	switch req.Op {
	case OpCreate:
		d, err = c.create(r)
	case OpUpdate:
		d, err = c.update(r)
	case OpDelete:
		err = c.delete(r)
	default:
		return nil, fmt.Errorf("%w: op %q", ErrUnsupported, req.Op)
	}

	var compErr *CompensationError
	switch {
	case err == nil:
		c.saveOperation(r, fingerprint, journal.OperationCommitted)
	case errors.As(err, &compErr):
		c.saveOperation(r, fingerprint, journal.OperationFailed)
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("sync.entity_id", r.entityID))
	if d == nil {
		return nil, nil
	}
	return d.value, nil
}

func (c *Coordinator) create(r *run) (*doc, error) {
	d, err := r.b.build(r.req.Payload, c.now())
	if err != nil {
		return nil, err
	}
	r.entityID = d.id

	proj, err := c.resolveProject(r, d)
	if err != nil {
		return nil, err
	}
	if d.kind != KindProject {
		d = withProjectID(d, proj.ID)
	}
	r.project = proj.ID
	path := replicaPath(proj, d)

	r.mark(journal.PhasePendingPrimary, "")
	if err := r.b.insert(r.ctx, d); err != nil {
		r.mark(journal.PhaseFailed, err.Error())
		return nil, storeError(err)
	}
	r.mark(journal.PhasePrimaryCommitted, "")

	r.mark(journal.PhasePendingReplica, path)
	if err := c.replica.Set(r.ctx, path, d.value); err != nil {
		r.mark(journal.PhaseReplicaFailed, err.Error())
		return nil, c.compensate(r, nil, d.value, err, func() error {
			return r.b.remove(r.ctx, d.id)
		})
	}
	r.mark(journal.PhaseReplicaCommitted, "")

	c.notify(r, proj, d.value)
	return &d, nil
}

func (c *Coordinator) update(r *run) (*doc, error) {
	current, err := r.b.get(r.ctx, r.req.ID)
	if err != nil {
		return nil, lookupError(r.req.Kind, r.req.ID, err)
	}
	r.entityID = current.id
	r.project = current.projectID

	if r.b.unguarded == nil || !r.b.unguarded(r.req.Payload) {
		if err := c.checkGuard(r, current.projectID); err != nil {
			return nil, err
		}
	}
	if r.req.ExpectedVersion != nil && *r.req.ExpectedVersion != current.version {
		return nil, fmt.Errorf("%s %s at version %d, expected %d: %w",
			r.req.Kind, current.id, current.version, *r.req.ExpectedVersion, repository.ErrConflict)
	}

	next, err := r.b.apply(current, r.req.Payload, c.now())
	if err != nil {
		return nil, err
	}

	proj, err := c.ownerProject(r.ctx, next)
	if err != nil {
		return nil, err
	}
	path := replicaPath(proj, next)

	r.mark(journal.PhasePendingPrimary, "")
	if err := r.b.update(r.ctx, next, current.version); err != nil {
		r.mark(journal.PhaseFailed, err.Error())
		return nil, storeError(err)
	}
	r.mark(journal.PhasePrimaryCommitted, "")

	fields, err := changedFields(current.value, next.value)
	if err == nil {
		r.mark(journal.PhasePendingReplica, path)
		err = c.replica.Update(r.ctx, path, fields)
	}
	if err != nil {
		r.mark(journal.PhaseReplicaFailed, err.Error())
		return nil, c.compensate(r, current.value, next.value, err, func() error {
			return r.b.update(r.ctx, current, next.version)
		})
	}
	r.mark(journal.PhaseReplicaCommitted, "")

	c.notify(r, proj, next.value)
	return &next, nil
}

func (c *Coordinator) delete(r *run) error {
	current, err := r.b.get(r.ctx, r.req.ID)
	if err != nil {
		return lookupError(r.req.Kind, r.req.ID, err)
	}
	r.entityID = current.id
	r.project = current.projectID

	if err := c.checkGuard(r, current.projectID); err != nil {
		return err
	}
	if r.req.ExpectedVersion != nil && *r.req.ExpectedVersion != current.version {
		return fmt.Errorf("%s %s at version %d, expected %d: %w",
			r.req.Kind, current.id, current.version, *r.req.ExpectedVersion, repository.ErrConflict)
	}

	proj, err := c.ownerProject(r.ctx, current)
	if err != nil {
		return err
	}
	snapshot, err := c.snapshot(r.ctx, proj, current)
	if err != nil {
		return primaryError(err)
	}

	var detached []opinion.Opinion
	if current.kind == KindTopic {
		detached, err = c.opinions.List(r.ctx, opinion.ListOptions{ProjectID: proj.ID, TopicID: &current.id})
		if err != nil {
			return primaryError(err)
		}
	}

	r.mark(journal.PhasePendingReplica, snapshot[0].path)
	if err := c.replica.Remove(r.ctx, snapshot[0].path); err != nil {
		r.mark(journal.PhaseReplicaFailed, err.Error())
		return &ReplicaSyncError{Kind: r.req.Kind, Op: r.req.Op, EntityID: current.id, Err: err}
	}
	r.mark(journal.PhaseReplicaCommitted, "")

	r.mark(journal.PhasePendingPrimary, "")
	if err := r.b.remove(r.ctx, current.id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			r.logger.Info("entity already removed from primary", "entity_id", current.id)
		} else {
			restoreErr := c.restore(r, snapshot, err)
			if restoreErr != nil {
				return restoreErr
			}
			return storeError(err)
		}
	}
	r.mark(journal.PhasePrimaryCommitted, "")

	c.detachOpinions(r, proj, detached)
	c.notify(r, proj, map[string]any{"id": current.id, "version": current.version})
	return nil
}

// detachOpinions mirrors the primary's topic detachment into the replica.
// The topic is already gone from both stores, so failures are only logged.
func (c *Coordinator) detachOpinions(r *run, proj *project.Project, opinions []opinion.Opinion) {
	for _, o := range opinions {
		path := replica.OpinionPath(proj.OwnerID, proj.ReplicaID, o.ID)
		err := c.replica.Update(r.ctx, path, map[string]any{"topicId": nil, "version": o.Version + 1})
		if err != nil {
			r.logger.Warn("failed to detach opinion in replica", "opinion_id", o.ID, "path", path, "error", err)
		}
	}
}

// compensate undoes a primary write after the replica write failed.
func (c *Coordinator) compensate(r *run, before, after any, cause error, undo func() error) error {
	r.mark(journal.PhaseCompensating, cause.Error())
	if err := undo(); err != nil {
		compensationsTotal.WithLabelValues(string(r.req.Kind), "failed").Inc()
		r.mark(journal.PhaseFailed, err.Error())
		r.logger.Error("compensation failed, stores are inconsistent",
			"event", "compensation_failed",
			"entity_id", r.entityID,
			"cause", cause,
			"error", err,
			"before", before,
			"after", after,
		)
		return &CompensationError{
			Kind: r.req.Kind, Op: r.req.Op, EntityID: r.entityID,
			Before: before, After: after, Cause: cause, Err: err,
		}
	}
	compensationsTotal.WithLabelValues(string(r.req.Kind), "compensated").Inc()
	r.mark(journal.PhaseCompensated, "")
	r.logger.Warn("replica write failed, primary write undone",
		"event", "compensated", "entity_id", r.entityID, "error", cause)
	return &ReplicaSyncError{Kind: r.req.Kind, Op: r.req.Op, EntityID: r.entityID, Err: cause}
}

// restore re-creates replica documents removed by a delete whose primary
// step failed.
func (c *Coordinator) restore(r *run, snapshot []replicaDoc, cause error) error {
	values := make([]any, 0, len(snapshot))
	for _, d := range snapshot {
		values = append(values, d.value)
	}
	r.mark(journal.PhaseCompensating, cause.Error())
	for _, d := range snapshot {
		if err := c.replica.Set(r.ctx, d.path, d.value); err != nil {
			compensationsTotal.WithLabelValues(string(r.req.Kind), "failed").Inc()
			r.mark(journal.PhaseFailed, err.Error())
			r.logger.Error("compensation failed, stores are inconsistent",
				"event", "compensation_failed",
				"entity_id", r.entityID,
				"cause", cause,
				"error", err,
				"before", values,
			)
			return &CompensationError{
				Kind: r.req.Kind, Op: r.req.Op, EntityID: r.entityID,
				Before: values, Cause: cause, Err: err,
			}
		}
	}
	compensationsTotal.WithLabelValues(string(r.req.Kind), "compensated").Inc()
	r.mark(journal.PhaseCompensated, "")
	r.logger.Warn("primary delete failed, replica documents restored",
		"event", "compensated", "entity_id", r.entityID, "documents", len(snapshot), "error", cause)
	return nil
}

func (c *Coordinator) checkGuard(r *run, projectID string) error {
	if c.guard == nil {
		return nil
	}
	if r.req.PublicOwnerID != "" {
		return c.guard.CheckPublic(r.ctx, projectID, r.req.PublicOwnerID)
	}
	return c.guard.Check(r.ctx, projectID, r.req.ActorID)
}

// resolveProject guards a create and returns the project the new document
// lives under. Child payloads may name the project by either id.
func (c *Coordinator) resolveProject(r *run, d doc) (*project.Project, error) {
	if d.kind == KindProject {
		return d.value.(*project.Project), nil
	}
	if err := c.checkGuard(r, d.projectID); err != nil {
		return nil, err
	}
	proj, err := c.projects.FindByAnyID(r.ctx, d.projectID, r.req.PublicOwnerID)
	if err != nil {
		return nil, lookupError(KindProject, d.projectID, err)
	}
	return proj, nil
}

func (c *Coordinator) ownerProject(ctx context.Context, d doc) (*project.Project, error) {
	if d.kind == KindProject {
		return d.value.(*project.Project), nil
	}
	proj, err := c.projects.Get(ctx, d.projectID)
	if err != nil {
		return nil, lookupError(KindProject, d.projectID, err)
	}
	return proj, nil
}

type replicaDoc struct {
	path  string
	value any
}

// snapshot captures the documents a delete removes from the replica. The
// first entry is the deleted document itself.
func (c *Coordinator) snapshot(ctx context.Context, proj *project.Project, d doc) ([]replicaDoc, error) {
	docs := []replicaDoc{{path: replicaPath(proj, d), value: d.value}}
	if d.kind != KindProject {
		return docs, nil
	}

	opinions, err := c.opinions.List(ctx, opinion.ListOptions{ProjectID: proj.ID})
	if err != nil {
		return nil, fmt.Errorf("snapshot opinions: %w", err)
	}
	for i := range opinions {
		docs = append(docs, replicaDoc{path: replicaPath(proj, opinionDoc(&opinions[i])), value: &opinions[i]})
	}
	tasks, err := c.tasks.List(ctx, proj.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot tasks: %w", err)
	}
	for i := range tasks {
		docs = append(docs, replicaDoc{path: replicaPath(proj, taskDoc(&tasks[i])), value: &tasks[i]})
	}
	topics, err := c.topics.List(ctx, proj.ID)
	if err != nil {
		return nil, fmt.Errorf("snapshot topics: %w", err)
	}
	for i := range topics {
		docs = append(docs, replicaDoc{path: replicaPath(proj, topicDoc(&topics[i])), value: &topics[i]})
	}
	return docs, nil
}

func (c *Coordinator) notify(r *run, proj *project.Project, payload any) {
	if c.notifier == nil {
		return
	}
	kind := string(r.req.Kind) + "." + r.req.Op.past()
	payload = detach(payload)
	for _, scope := range []string{realtime.ProjectScope(proj.ID), realtime.UserScope(proj.OwnerID)} {
		if err := c.notifier.Publish(r.ctx, scope, kind, payload); err != nil {
			r.logger.Warn("publish failed", "scope", scope, "event_kind", kind, "error", err)
		}
	}
}

// detach gives subscribers their own copy of a committed entity so the
// value returned to the caller can be modified freely.
func detach(payload any) any {
	switch v := payload.(type) {
	case *project.Project:
		return v.Clone()
	case *opinion.Opinion:
		return v.Clone()
	case *task.Task:
		return v.Clone()
	case *topic.Topic:
		return v.Clone()
	}
	return payload
}

// checkOperation looks up the idempotency key. It returns the prior
// committed operation when the request is a replay.
func (c *Coordinator) checkOperation(r *run) (string, *journal.Operation, error) {
	if r.req.OperationID == "" || c.operations == nil {
		return "", nil, nil
	}
	payload := r.req.Payload
	if r.req.Fingerprint != nil {
		payload = r.req.Fingerprint
	}
	fingerprint, err := codec.Fingerprint(struct {
		Kind    Kind
		Op      Op
		ID      string
		Payload any
	}{r.req.Kind, r.req.Op, r.req.ID, payload})
	if err != nil {
		return "", nil, validation.Invalid(fmt.Sprintf("payload cannot be fingerprinted: %v", err))
	}

	prior, err := c.operations.Get(r.ctx, r.req.OperationID)
	if errors.Is(err, repository.ErrNotFound) {
		return fingerprint, nil, nil
	}
	if err != nil {
		return "", nil, primaryError(err)
	}
	if prior.Fingerprint != fingerprint || prior.Kind != string(r.req.Kind) || prior.Op != string(r.req.Op) {
		return "", nil, validation.Invalid(fmt.Sprintf("operation %s was already used with a different payload", prior.ID))
	}
	if prior.Status == journal.OperationFailed {
		return "", nil, &CompensationError{
			Kind: r.req.Kind, Op: r.req.Op, EntityID: prior.EntityID,
			Err: fmt.Errorf("operation %s previously left the stores inconsistent", prior.ID),
		}
	}
	return fingerprint, prior, nil
}

// replay answers a repeated operation id with the committed entity instead
// of writing again.
func (c *Coordinator) replay(r *run, prior *journal.Operation) (any, error) {
	r.entityID = prior.EntityID
	r.logger.Info("replaying committed operation", "entity_id", prior.EntityID)
	replaysTotal.WithLabelValues(string(r.req.Kind)).Inc()
	if r.req.Op == OpDelete {
		return nil, nil
	}
	d, err := r.b.get(r.ctx, prior.EntityID)
	if err != nil {
		return nil, lookupError(r.req.Kind, prior.EntityID, err)
	}
	return d.value, nil
}

func (c *Coordinator) saveOperation(r *run, fingerprint string, status journal.OperationStatus) {
	if r.req.OperationID == "" || c.operations == nil {
		return
	}
	err := c.operations.Save(r.ctx, &journal.Operation{
		ID:          r.req.OperationID,
		Kind:        string(r.req.Kind),
		Op:          string(r.req.Op),
		EntityID:    r.entityID,
		Fingerprint: fingerprint,
		Status:      status,
		CreatedAt:   c.now(),
	})
	if err != nil {
		r.logger.Warn("failed to save operation id", "entity_id", r.entityID, "error", err)
	}
}

func replicaPath(proj *project.Project, d doc) string {
	switch d.kind {
	case KindOpinion:
		return replica.OpinionPath(proj.OwnerID, proj.ReplicaID, d.id)
	case KindTask:
		return replica.TaskPath(proj.OwnerID, proj.ReplicaID, d.id)
	case KindTopic:
		return replica.TopicPath(proj.OwnerID, proj.ReplicaID, d.id)
	default:
		return replica.ProjectPath(proj.OwnerID, proj.ReplicaID)
	}
}

// changedFields returns the document fields that differ between before and
// after. Fields absent from after are set to nil so the replica drops them.
func changedFields(before, after any) (map[string]any, error) {
	old, err := codec.Fields(before)
	if err != nil {
		return nil, err
	}
	next, err := codec.Fields(after)
	if err != nil {
		return nil, err
	}
	changed := make(map[string]any)
	for k, v := range next {
		if prev, ok := old[k]; !ok || !reflect.DeepEqual(prev, v) {
			changed[k] = v
		}
	}
	for k := range old {
		if _, ok := next[k]; !ok {
			changed[k] = nil
		}
	}
	changed["version"] = next["version"]
	return changed, nil
}

func lookupError(kind Kind, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, repository.ErrNotFound)
	}
	return primaryError(err)
}

// storeError keeps conflicts and missing references distinct from generic
// primary failures.
func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrDuplicate):
		return err
	case errors.Is(err, repository.ErrForeignKeyViolation):
		return fmt.Errorf("%w: %w", repository.ErrNotFound, err)
	default:
		return primaryError(err)
	}
}

func write[T any](ctx context.Context, c *Coordinator, req WriteRequest) (*T, error) {
	v, err := c.Write(ctx, req)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*T), nil
}
