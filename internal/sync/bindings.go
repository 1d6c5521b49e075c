package sync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
	"github.com/rpggio/tally/internal/validation"
)

// doc is an entity as the coordinator moves it between stores.
type doc struct {
	kind      Kind
	id        string
	projectID string
	version   int64
	value     any
}

// binding adapts one entity kind to the primary store.
type binding struct {
	get    func(ctx context.Context, id string) (doc, error)
	build  func(payload any, now time.Time) (doc, error)
	apply  func(current doc, payload any, now time.Time) (doc, error)
	insert func(ctx context.Context, d doc) error
	update func(ctx context.Context, d doc, expected int64) error
	remove func(ctx context.Context, id string) error
	// unguarded reports update payloads the archive guard lets through.
	unguarded func(payload any) bool
}

func payloadError(kind Kind, op Op, payload any) error {
	return validation.Invalid(fmt.Sprintf("unexpected %T payload for %s %s", payload, op, kind))
}

func projectDoc(p *project.Project) doc {
	return doc{kind: KindProject, id: p.ID, projectID: p.ID, version: p.Version, value: p}
}

func opinionDoc(o *opinion.Opinion) doc {
	return doc{kind: KindOpinion, id: o.ID, projectID: o.ProjectID, version: o.Version, value: o}
}

func taskDoc(t *task.Task) doc {
	return doc{kind: KindTask, id: t.ID, projectID: t.ProjectID, version: t.Version, value: t}
}

func topicDoc(t *topic.Topic) doc {
	return doc{kind: KindTopic, id: t.ID, projectID: t.ProjectID, version: t.Version, value: t}
}

func (c *Coordinator) bindings() map[Kind]binding {
	return map[Kind]binding{
		KindProject: {
			get: func(ctx context.Context, id string) (doc, error) {
				p, err := c.projects.FindByAnyID(ctx, id, "")
				if err != nil {
					return doc{}, err
				}
				return projectDoc(p), nil
			},
			build: func(payload any, now time.Time) (doc, error) {
				var p project.Project
				switch v := payload.(type) {
				case project.Project:
					p = v
				case *project.Project:
					p = *v
				default:
					return doc{}, payloadError(KindProject, OpCreate, payload)
				}
				if p.ID == "" {
					p.ID = uuid.NewString()
				}
				if p.ReplicaID == "" {
					p.ReplicaID = uuid.NewString()
				}
				if p.Status == "" {
					p.Status = project.StatusCollecting
				}
				p.IsArchived = p.Status == project.StatusArchived
				if p.IsArchived && p.ArchivedAt == nil {
					p.ArchivedAt = &now
				}
				p.Version = 1
				p.CreatedAt, p.UpdatedAt = now, now
				if err := validation.Struct(p); err != nil {
					return doc{}, err
				}
				return projectDoc(&p), nil
			},
			apply: func(current doc, payload any, now time.Time) (doc, error) {
				patch, ok := payload.(project.Patch)
				if !ok {
					return doc{}, payloadError(KindProject, OpUpdate, payload)
				}
				next := patch.Apply(*current.value.(*project.Project), now)
				next.Version = current.version + 1
				if err := validation.Struct(next); err != nil {
					return doc{}, err
				}
				return projectDoc(&next), nil
			},
			insert: func(ctx context.Context, d doc) error {
				return c.projects.Create(ctx, d.value.(*project.Project))
			},
			update: func(ctx context.Context, d doc, expected int64) error {
				return c.projects.Update(ctx, d.value.(*project.Project), expected)
			},
			remove: c.projects.Delete,
			unguarded: func(payload any) bool {
				patch, ok := payload.(project.Patch)
				return ok && patch.UnarchiveOnly()
			},
		},
		KindOpinion: {
			get: func(ctx context.Context, id string) (doc, error) {
				o, err := c.opinions.Get(ctx, id)
				if err != nil {
					return doc{}, err
				}
				return opinionDoc(o), nil
			},
			build: func(payload any, now time.Time) (doc, error) {
				var o opinion.Opinion
				switch v := payload.(type) {
				case opinion.Opinion:
					o = v
				case *opinion.Opinion:
					o = *v
				default:
					return doc{}, payloadError(KindOpinion, OpCreate, payload)
				}
				if strings.TrimSpace(o.Content) == "" {
					return doc{}, validation.Invalid("content is required")
				}
				if o.ID == "" {
					o.ID = uuid.NewString()
				}
				if o.Sentiment == "" {
					o.Sentiment = opinion.SentimentNeutral
				}
				if o.ActionStatus == "" {
					o.ActionStatus = opinion.ActionUnhandled
				}
				if o.SubmittedAt.IsZero() {
					o.SubmittedAt = now
				}
				o.CharacterCount = opinion.CharacterCount(o.Content)
				o.Version = 1
				o.CreatedAt, o.UpdatedAt = now, now
				if err := validation.Struct(o); err != nil {
					return doc{}, err
				}
				return opinionDoc(&o), nil
			},
			apply: func(current doc, payload any, now time.Time) (doc, error) {
				patch, ok := payload.(opinion.Patch)
				if !ok {
					return doc{}, payloadError(KindOpinion, OpUpdate, payload)
				}
				next := patch.Apply(*current.value.(*opinion.Opinion), now)
				if strings.TrimSpace(next.Content) == "" {
					return doc{}, validation.Invalid("content is required")
				}
				next.Version = current.version + 1
				if err := validation.Struct(next); err != nil {
					return doc{}, err
				}
				return opinionDoc(&next), nil
			},
			insert: func(ctx context.Context, d doc) error {
				return c.opinions.Create(ctx, d.value.(*opinion.Opinion))
			},
			update: func(ctx context.Context, d doc, expected int64) error {
				return c.opinions.Update(ctx, d.value.(*opinion.Opinion), expected)
			},
			remove: c.opinions.Delete,
		},
		KindTask: {
			get: func(ctx context.Context, id string) (doc, error) {
				t, err := c.tasks.Get(ctx, id)
				if err != nil {
					return doc{}, err
				}
				return taskDoc(t), nil
			},
			build: func(payload any, now time.Time) (doc, error) {
				var t task.Task
				switch v := payload.(type) {
				case task.Task:
					t = v
				case *task.Task:
					t = *v
				default:
					return doc{}, payloadError(KindTask, OpCreate, payload)
				}
				if t.ID == "" {
					t.ID = uuid.NewString()
				}
				if t.Status == "" {
					t.Status = task.StatusTodo
				}
				t.Version = 1
				t.CreatedAt, t.UpdatedAt = now, now
				if err := validation.Struct(t); err != nil {
					return doc{}, err
				}
				return taskDoc(&t), nil
			},
			apply: func(current doc, payload any, now time.Time) (doc, error) {
				patch, ok := payload.(task.Patch)
				if !ok {
					return doc{}, payloadError(KindTask, OpUpdate, payload)
				}
				next := patch.Apply(*current.value.(*task.Task), now)
				next.Version = current.version + 1
				if err := validation.Struct(next); err != nil {
					return doc{}, err
				}
				return taskDoc(&next), nil
			},
			insert: func(ctx context.Context, d doc) error {
				return c.tasks.Create(ctx, d.value.(*task.Task))
			},
			update: func(ctx context.Context, d doc, expected int64) error {
				return c.tasks.Update(ctx, d.value.(*task.Task), expected)
			},
			remove: c.tasks.Delete,
		},
		KindTopic: {
			get: func(ctx context.Context, id string) (doc, error) {
				t, err := c.topics.Get(ctx, id)
				if err != nil {
					return doc{}, err
				}
				return topicDoc(t), nil
			},
			build: func(payload any, now time.Time) (doc, error) {
				var t topic.Topic
				switch v := payload.(type) {
				case topic.Topic:
					t = v
				case *topic.Topic:
					t = *v
				default:
					return doc{}, payloadError(KindTopic, OpCreate, payload)
				}
				if t.ID == "" {
					t.ID = uuid.NewString()
				}
				if t.Status == "" {
					t.Status = topic.StatusUnhandled
				}
				t.Version = 1
				t.CreatedAt, t.UpdatedAt = now, now
				if err := validation.Struct(t); err != nil {
					return doc{}, err
				}
				return topicDoc(&t), nil
			},
			apply: func(current doc, payload any, now time.Time) (doc, error) {
				patch, ok := payload.(topic.Patch)
				if !ok {
					return doc{}, payloadError(KindTopic, OpUpdate, payload)
				}
				next := patch.Apply(*current.value.(*topic.Topic), now)
				next.Version = current.version + 1
				if err := validation.Struct(next); err != nil {
					return doc{}, err
				}
				return topicDoc(&next), nil
			},
			insert: func(ctx context.Context, d doc) error {
				return c.topics.Create(ctx, d.value.(*topic.Topic))
			},
			update: func(ctx context.Context, d doc, expected int64) error {
				return c.topics.Update(ctx, d.value.(*topic.Topic), expected)
			},
			remove: c.topics.Delete,
		},
	}
}

// withProjectID points a child document at its resolved canonical project.
func withProjectID(d doc, projectID string) doc {
	d.projectID = projectID
	switch v := d.value.(type) {
	case *opinion.Opinion:
		v.ProjectID = projectID
	case *task.Task:
		v.ProjectID = projectID
	case *topic.Topic:
		v.ProjectID = projectID
	}
	return d
}
