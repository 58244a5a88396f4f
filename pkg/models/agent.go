package models

// Well-known engine names. Engines are configured by name; these are the
// ones the orchestrator refers to directly.
const (
	// EngineClaude is the primary LLM CLI engine and the default for new jobs.
	EngineClaude = "claude"
	// EngineShell runs the job's command through a shell.
	EngineShell = "shell"
	// EngineAPI calls the Anthropic Messages API in-process.
	EngineAPI = "api"
)

// Skill is a tool or MCP capability granted to an agent.
type Skill struct {
	// Name is the tool identifier passed to the engine.
	Name string `json:"name" yaml:"name"`
	// Usage is a short note rendered into the agent's prompt.
	Usage string `json:"usage,omitempty" yaml:"usage"`
}

// Agent is a named persona bound to a default engine.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id" yaml:"id"`
	// Name is the display name, also used as the routing key in
	// decomposition output and challenge responses.
	Name string `json:"name" yaml:"name"`
	// Role describes what the agent does (e.g. "qa", "orchestrator", "engineer").
	Role string `json:"role,omitempty" yaml:"role"`
	// Department groups agents for routing.
	Department string `json:"department,omitempty" yaml:"department"`
	// Persona is the system text prefixed to every prompt.
	Persona string `json:"persona,omitempty" yaml:"persona"`
	// Engine is the agent's default engine.
	Engine string `json:"engine" yaml:"engine"`
	// Model is the model name passed to the engine, if any.
	Model string `json:"model,omitempty" yaml:"model"`
	// Skills are the agent-level tool grants.
	Skills []Skill `json:"skills,omitempty" yaml:"skills"`
	// Active agents are eligible for routing.
	Active bool `json:"active" yaml:"active"`
	// QualityScoreAvg is the running mean of QA totals.
	QualityScoreAvg float64 `json:"quality_score_avg"`
	// ReviewsCount is the number of QA reviews folded into the average.
	ReviewsCount int `json:"reviews_count"`
	// ConsecutiveFailures counts failed reviews since the last pass.
	ConsecutiveFailures int `json:"consecutive_failures"`
}

// SkillNames returns the names of the agent's skills.
func (a *Agent) SkillNames() []string {
	names := make([]string, 0, len(a.Skills))
	for _, s := range a.Skills {
		names = append(names, s.Name)
	}
	return names
}
