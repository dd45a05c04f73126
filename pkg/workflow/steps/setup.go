package steps

import (
	"github.com/lunalabs/luna/pkg/store"
	"github.com/lunalabs/luna/pkg/workflow"
)

// Config carries the collaborators the steps need.
type Config struct {
	Profiles  store.ProfileStore
	Locations store.LocationResolver
	Extractor DetailExtractor
	Generator KundliGenerator
	Responder QnAResponder
}

// Register wires every step and workflow definition into the registry. The
// resulting registry still needs engine-side validation before serving
// traffic; a missing collaborator surfaces there, at startup.
func Register(reg *workflow.Registry, cfg Config) {
	reg.RegisterStep(NewProfileResolutionStep(cfg.Profiles))
	reg.RegisterStep(NewProfileAdditionStep(cfg.Extractor, cfg.Profiles, cfg.Locations))
	reg.RegisterStep(NewKundliStep(cfg.Profiles, cfg.Generator))
	reg.RegisterStep(NewProfileQnAStep(cfg.Profiles, cfg.Responder))
	reg.RegisterStep(NewMainMenuStep())
	reg.RegisterStep(NewUnknownFallbackStep())

	reg.RegisterWorkflow(workflow.Definition{
		ID:          workflow.GenerateKundli,
		Name:        "Generate Kundli",
		Description: "Profile selection, profile addition and kundli generation.",
		Steps: []workflow.StepID{
			workflow.StepProfileResolution,
			workflow.StepProfileAddition,
			workflow.StepKundliGeneration,
		},
		InitialStep: workflow.StepProfileResolution,
	})
	reg.RegisterWorkflow(workflow.Definition{
		ID:          workflow.ProfileQnA,
		Name:        "Profile QnA",
		Description: "Multi-turn Q&A session grounded on a specific birth profile.",
		Steps: []workflow.StepID{
			workflow.StepProfileResolution,
			workflow.StepProfileQnA,
		},
		InitialStep: workflow.StepProfileResolution,
	})
	reg.RegisterWorkflow(workflow.Definition{
		ID:          workflow.MainMenu,
		Name:        "Main Menu",
		Description: "Main menu reachable at any time via /luna, /menu or /help.",
		Steps:       []workflow.StepID{workflow.StepMainMenu},
		InitialStep: workflow.StepMainMenu,
	})
	reg.RegisterWorkflow(workflow.Definition{
		ID:          workflow.Unknown,
		Name:        "Unknown",
		Description: "Fallback for unclear or unclassifiable messages.",
		Steps:       []workflow.StepID{workflow.StepUnknownFallback},
		InitialStep: workflow.StepUnknownFallback,
	})
}
