package replica

import "path"

// ProjectPath is the document path of a project. Projects are addressed by
// their replica id under the owning user.
func ProjectPath(ownerID, projectReplicaID string) string {
	return path.Join("users", ownerID, "projects", projectReplicaID)
}

// UserPath is the root of everything a user owns.
func UserPath(ownerID string) string {
	return path.Join("users", ownerID)
}

// OpinionPath is the document path of an opinion.
func OpinionPath(ownerID, projectReplicaID, opinionID string) string {
	return path.Join(ProjectPath(ownerID, projectReplicaID), "opinions", opinionID)
}

// TaskPath is the document path of a task.
func TaskPath(ownerID, projectReplicaID, taskID string) string {
	return path.Join(ProjectPath(ownerID, projectReplicaID), "tasks", taskID)
}

// TopicPath is the document path of a topic.
func TopicPath(ownerID, projectReplicaID, topicID string) string {
	return path.Join(ProjectPath(ownerID, projectReplicaID), "topics", topicID)
}
