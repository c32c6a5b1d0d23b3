package lang

import "github.com/psyker-lang/psyker/pkg/diag"

// Snapshot is the read view of already-loaded definitions that a document is
// validated against.
type Snapshot interface {
	HasWorker(name string) bool
}

// Validate checks a parsed document's cross-references against snap. Task
// and worker documents carry no cross-file references and always validate;
// agent documents must reference loaded workers with positive counts.
func Validate(doc Document, snap Snapshot) error {
	agentDoc, ok := doc.(*AgentDocument)
	if !ok {
		return nil
	}
	return ValidateAgent(agentDoc.Agent, snap)
}

// ValidateAgent checks every use clause of agent against snap.
func ValidateAgent(agent *AgentDef, snap Snapshot) error {
	for _, use := range agent.Uses {
		if !snap.HasWorker(use.Worker) {
			return diag.New(diag.KindReference, use.Span, "Agent '%s' references unknown worker '%s'", agent.Name, use.Worker).
				WithHint("Load the worker definition before loading this agent.")
		}
		if use.Count <= 0 {
			return diag.New(diag.KindReference, use.Span, "Agent '%s' has invalid worker count %d", agent.Name, use.Count).
				WithHint("Use a worker count greater than zero.")
		}
	}
	return nil
}
