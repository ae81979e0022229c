// Package agentcard builds the self-describing AgentCard document served
// at `.well-known/agent.json`, generalizing the teacher's
// server/a2a/agentcard.go CreateAgentCard from a fixed single-skill test
// agent into a builder driven entirely by the Config Loader's settings.
package agentcard

import "github.com/allenheltondev/momento-a2a-agent/pkg/a2a"

// Params carries the pieces of AgentCard that come from configuration
// rather than being fixed by this package.
type Params struct {
	Name               string
	Description        string
	URL                string
	Version            string
	Capabilities       a2a.AgentCapabilities
	Skills             []a2a.AgentSkill
	DefaultInputModes  []string
	DefaultOutputModes []string
}

// Build assembles the final AgentCard, filling in default input/output
// modes when the configuration leaves them empty — mirroring
// CreateAgentCard's own fallback to `{"text"}` / `{"text", "file"}`.
func Build(p Params) a2a.AgentCard {
	inputModes := p.DefaultInputModes
	if len(inputModes) == 0 {
		inputModes = []string{"text"}
	}
	outputModes := p.DefaultOutputModes
	if len(outputModes) == 0 {
		outputModes = []string{"text", "file"}
	}

	desc := p.Description
	return a2a.AgentCard{
		Name:               p.Name,
		Description:        &desc,
		URL:                p.URL,
		Version:            p.Version,
		Capabilities:       p.Capabilities,
		DefaultInputModes:  inputModes,
		DefaultOutputModes: outputModes,
		Skills:             append([]a2a.AgentSkill(nil), p.Skills...),
	}
}
