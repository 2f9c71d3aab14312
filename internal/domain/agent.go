package domain

import "strings"

// Agent is a configured assistant persona. It is owned by the caller and
// never mutated during orchestration.
type Agent struct {
	ID           string      `json:"id"                   yaml:"id"`
	Name         string      `json:"name"                 yaml:"name"`
	Instructions string      `json:"instructions"         yaml:"instructions"`
	Model        string      `json:"model,omitempty"      yaml:"model,omitempty"`
	ToolModel    string      `json:"tool_model,omitempty" yaml:"tool_model,omitempty"`
	Tools        []string    `json:"tools,omitempty"      yaml:"tools,omitempty"`
	Team         *TeamConfig `json:"team,omitempty"       yaml:"team,omitempty"`
}

// TeamConfig marks an agent as a team manager.
type TeamConfig struct {
	Members []TeamMember `json:"members" yaml:"members"`
}

// TeamMember references an agent with per-team overrides.
type TeamMember struct {
	AgentID string   `json:"agent_id"        yaml:"agent_id"`
	Role    string   `json:"role,omitempty"  yaml:"role,omitempty"`
	Tools   []string `json:"tools,omitempty" yaml:"tools,omitempty"`
}

// AllowsTool reports whether key is in the agent's tool list (case-insensitive).
func (a *Agent) AllowsTool(key string) bool {
	if a == nil {
		return false
	}
	return containsFold(a.Tools, key)
}

// TeamAgentRuntime is an agent resolved for one team request.
type TeamAgentRuntime struct {
	Agent *Agent
	Role  string
	Tools []string
}

// AllowedTools returns the team override list, or the agent's own list when
// no override is set.
func (r *TeamAgentRuntime) AllowedTools() []string {
	if r == nil {
		return nil
	}
	if len(r.Tools) > 0 {
		return r.Tools
	}
	if r.Agent == nil {
		return nil
	}
	return r.Agent.Tools
}

// AllowsTool reports whether key is allowed for this team member.
func (r *TeamAgentRuntime) AllowsTool(key string) bool {
	return containsFold(r.AllowedTools(), key)
}

// Complete reports whether the runtime carries an agent to run.
func (r *TeamAgentRuntime) Complete() bool {
	return r != nil && r.Agent != nil
}

// ContainsTool reports whether tools contains key, ignoring case.
func ContainsTool(tools []string, key string) bool {
	return containsFold(tools, key)
}

func containsFold(list []string, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), key) {
			return true
		}
	}
	return false
}
