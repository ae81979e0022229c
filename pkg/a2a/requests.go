package a2a

// MessageSendParams is the payload for `message/send` and `message/stream`.
type MessageSendParams struct {
	Message       Message                 `json:"message"`
	HistoryLength *int                    `json:"historyLength,omitempty"`
	Metadata      *map[string]interface{} `json:"metadata,omitempty"`
}

// TaskIDParams identifies a task for `tasks/cancel` and
// `tasks/pushNotificationConfig/get`.
type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskQueryParams identifies a task for `tasks/get` and `tasks/resubscribe`,
// with an optional history trim.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

// SetTaskPushNotificationConfigParams is the payload for
// `tasks/pushNotificationConfig/set`.
type SetTaskPushNotificationConfigParams struct {
	TaskID                 string                 `json:"taskId"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}
