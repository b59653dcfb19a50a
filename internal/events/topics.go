package events

import "strings"

// Topics emitted by the settlement service.
const (
	TopicBillOpened       = "bill.opened"
	TopicPaymentCommitted = "payment.committed"
	TopicCommitConflict   = "commit.conflict"
	TopicBillSettled      = "bill.settled"
)

const taskPrefix = "settle:"

// DefaultTopics returns every topic forwarded to the task queue.
func DefaultTopics() []string {
	return []string{
		TopicBillOpened,
		TopicPaymentCommitted,
		TopicCommitConflict,
		TopicBillSettled,
	}
}

// TaskType maps a topic to its asynq task type.
func TaskType(topic string) string {
	return taskPrefix + topic
}

// TopicFromTask is the inverse of TaskType.
func TopicFromTask(taskType string) string {
	return strings.TrimPrefix(taskType, taskPrefix)
}
