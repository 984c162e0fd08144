// Package services – agent directory.
package services

import "github.com/skylark-labs/northbound/internal/config"

// AgentDirectory exposes the read-only list of agents a partner may address.
// Agents are provisioned out of band (configuration); the northbound surface
// only lists them.
type AgentDirectory struct {
	agents []config.Agent
}

// NewAgentDirectory builds a directory over the provisioned agent list.
func NewAgentDirectory(agents []config.Agent) *AgentDirectory {
	return &AgentDirectory{agents: agents}
}

// List returns the provisioned agents. The returned slice is a copy; callers
// may not mutate the directory.
func (d *AgentDirectory) List() []config.Agent {
	out := make([]config.Agent, len(d.agents))
	copy(out, d.agents)
	return out
}

// Exists reports whether code names a provisioned agent.
func (d *AgentDirectory) Exists(code string) bool {
	for _, a := range d.agents {
		if a.Code == code {
			return true
		}
	}
	return false
}
