package workflow

import (
	"fmt"
	"sort"

	"github.com/lunalabs/luna/pkg/logger"
)

// Registry holds workflow definitions and step implementations. It is
// populated at startup and validated before the engine accepts traffic, so
// a definition referencing an unregistered step is a boot failure rather
// than a runtime miss.
type Registry struct {
	workflows map[ID]Definition
	steps     map[StepID]Step
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		workflows: make(map[ID]Definition),
		steps:     make(map[StepID]Step),
	}
}

// RegisterWorkflow adds (or replaces) a workflow definition.
func (r *Registry) RegisterWorkflow(def Definition) {
	r.workflows[def.ID] = def
	logger.DebugCF("workflow", "Registered workflow", map[string]any{"workflow": string(def.ID)})
}

// RegisterStep adds (or replaces) a step implementation.
func (r *Registry) RegisterStep(step Step) {
	r.steps[step.ID()] = step
	logger.DebugCF("workflow", "Registered step", map[string]any{"step": string(step.ID())})
}

// Workflow returns the definition for id.
func (r *Registry) Workflow(id ID) (Definition, bool) {
	def, ok := r.workflows[id]
	return def, ok
}

// Step returns the implementation for id.
func (r *Registry) Step(id StepID) (Step, bool) {
	s, ok := r.steps[id]
	return s, ok
}

// Workflows lists registered workflow ids in stable order.
func (r *Registry) Workflows() []ID {
	out := make([]ID, 0, len(r.workflows))
	for id := range r.workflows {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks every definition: all referenced steps must be
// registered and the initial step must be part of the sequence.
func (r *Registry) Validate() error {
	for id, def := range r.workflows {
		if len(def.Steps) == 0 {
			return fmt.Errorf("workflow %s has no steps", id)
		}
		for _, stepID := range def.Steps {
			if _, ok := r.steps[stepID]; !ok {
				return fmt.Errorf("workflow %s references unregistered step %s", id, stepID)
			}
		}
		initialInList := false
		for _, stepID := range def.Steps {
			if stepID == def.InitialStep {
				initialInList = true
				break
			}
		}
		if !initialInList {
			return fmt.Errorf("workflow %s initial step %s not in its step list", id, def.InitialStep)
		}
	}
	return nil
}
