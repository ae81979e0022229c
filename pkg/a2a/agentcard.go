package a2a

// AgentCapabilities lists the optional capabilities an agent supports.
// These flags are authoritative: per the system invariants, Streaming=false
// forbids SSE responses and PushNotifications=false forbids push-config
// operations regardless of what a caller requests.
type AgentCapabilities struct {
	Streaming              bool `json:"streaming,omitempty"`
	PushNotifications      bool `json:"pushNotifications,omitempty"`
	StateTransitionHistory bool `json:"stateTransitionHistory,omitempty"`
}

// AgentProvider describes the organization offering the agent.
type AgentProvider struct {
	Organization string  `json:"organization"`
	URL          *string `json:"url,omitempty"`
}

// AgentSkill describes one capability an agent offers, surfaced for
// discovery.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
	InputModes  []string `json:"inputModes,omitempty"`
	OutputModes []string `json:"outputModes,omitempty"`
}

// AgentCard is the self-describing document served at
// `.well-known/agent.json`.
type AgentCard struct {
	Name               string            `json:"name"`
	Description        *string           `json:"description,omitempty"`
	URL                string            `json:"url"`
	Provider           *AgentProvider    `json:"provider,omitempty"`
	Version            string            `json:"version"`
	DocumentationURL   *string           `json:"documentationUrl,omitempty"`
	Capabilities       AgentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes,omitempty"`
	DefaultOutputModes []string          `json:"defaultOutputModes,omitempty"`
	Skills             []AgentSkill      `json:"skills"`
}

// PushNotificationConfig is a caller-provided webhook descriptor. The core
// only stores it; dispatch is out of scope.
type PushNotificationConfig struct {
	URL   string  `json:"url"`
	Token *string `json:"token,omitempty"`
}

// TaskPushNotificationConfig associates a PushNotificationConfig with a task.
type TaskPushNotificationConfig struct {
	TaskID                 string                 `json:"taskId"`
	PushNotificationConfig PushNotificationConfig `json:"pushNotificationConfig"`
}
