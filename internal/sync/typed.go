package sync

import (
	"context"

	"github.com/rpggio/tally/internal/domain/opinion"
	"github.com/rpggio/tally/internal/domain/project"
	"github.com/rpggio/tally/internal/domain/task"
	"github.com/rpggio/tally/internal/domain/topic"
)

// CreateProject creates a project in both stores.
func (c *Coordinator) CreateProject(ctx context.Context, p project.Project, opts ...WriteOption) (*project.Project, error) {
	return write[project.Project](ctx, c, newRequest(KindProject, OpCreate, "", p, opts))
}

// UpdateProject patches a project in both stores.
func (c *Coordinator) UpdateProject(ctx context.Context, id string, patch project.Patch, opts ...WriteOption) (*project.Project, error) {
	return write[project.Project](ctx, c, newRequest(KindProject, OpUpdate, id, patch, opts))
}

// DeleteProject removes a project and everything it owns from both stores.
func (c *Coordinator) DeleteProject(ctx context.Context, id string, opts ...WriteOption) error {
	_, err := c.Write(ctx, newRequest(KindProject, OpDelete, id, nil, opts))
	return err
}

// CreateOpinion creates an opinion in both stores.
func (c *Coordinator) CreateOpinion(ctx context.Context, o opinion.Opinion, opts ...WriteOption) (*opinion.Opinion, error) {
	return write[opinion.Opinion](ctx, c, newRequest(KindOpinion, OpCreate, "", o, opts))
}

// UpdateOpinion patches an opinion in both stores.
func (c *Coordinator) UpdateOpinion(ctx context.Context, id string, patch opinion.Patch, opts ...WriteOption) (*opinion.Opinion, error) {
	return write[opinion.Opinion](ctx, c, newRequest(KindOpinion, OpUpdate, id, patch, opts))
}

// DeleteOpinion removes an opinion from both stores.
func (c *Coordinator) DeleteOpinion(ctx context.Context, id string, opts ...WriteOption) error {
	_, err := c.Write(ctx, newRequest(KindOpinion, OpDelete, id, nil, opts))
	return err
}

// CreateTask creates a task in both stores.
func (c *Coordinator) CreateTask(ctx context.Context, t task.Task, opts ...WriteOption) (*task.Task, error) {
	return write[task.Task](ctx, c, newRequest(KindTask, OpCreate, "", t, opts))
}

// UpdateTask patches a task in both stores.
func (c *Coordinator) UpdateTask(ctx context.Context, id string, patch task.Patch, opts ...WriteOption) (*task.Task, error) {
	return write[task.Task](ctx, c, newRequest(KindTask, OpUpdate, id, patch, opts))
}

// DeleteTask removes a task from both stores.
func (c *Coordinator) DeleteTask(ctx context.Context, id string, opts ...WriteOption) error {
	_, err := c.Write(ctx, newRequest(KindTask, OpDelete, id, nil, opts))
	return err
}

// CreateTopic creates a topic in both stores.
func (c *Coordinator) CreateTopic(ctx context.Context, t topic.Topic, opts ...WriteOption) (*topic.Topic, error) {
	return write[topic.Topic](ctx, c, newRequest(KindTopic, OpCreate, "", t, opts))
}

// UpdateTopic patches a topic in both stores.
func (c *Coordinator) UpdateTopic(ctx context.Context, id string, patch topic.Patch, opts ...WriteOption) (*topic.Topic, error) {
	return write[topic.Topic](ctx, c, newRequest(KindTopic, OpUpdate, id, patch, opts))
}

// DeleteTopic removes a topic from both stores. Its opinions stay and lose
// their topic.
func (c *Coordinator) DeleteTopic(ctx context.Context, id string, opts ...WriteOption) error {
	_, err := c.Write(ctx, newRequest(KindTopic, OpDelete, id, nil, opts))
	return err
}
