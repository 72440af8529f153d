package domain

// Notification topics.
const (
	TopicStackSave   = "stack.save"
	TopicStackDelete = "stack.delete"
)

// StackMessage is the payload of stack notifications.
type StackMessage struct {
	Stack *Stack `json:"stack"`
}
