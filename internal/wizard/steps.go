package wizard

import "github.com/imyashkale/mcpwizard/internal/models"

// Transition is one legal step change
type Transition struct {
	From               models.Step
	To                 models.Step
	RequiresGeneration bool
	Kind               models.TaskKind // generation started on entering To
	Auto               bool            // taken as soon as From is reached, without user input
}

// transitions is the fixed wizard order. Auth is auto-satisfied: landing on it
// immediately continues to deploy.
var transitions = []Transition{
	{From: models.StepDescribe, To: models.StepTools, RequiresGeneration: true, Kind: models.KindSuggestTools},
	{From: models.StepTools, To: models.StepEnvVars, RequiresGeneration: true, Kind: models.KindSuggestEnvVars},
	{From: models.StepEnvVars, To: models.StepAuth},
	{From: models.StepAuth, To: models.StepDeploy, Auto: true},
	{From: models.StepDeploy, To: models.StepComplete},
}

// refinable maps a step to the generation kind that produces its output
var refinable = map[models.Step]models.TaskKind{
	models.StepTools:   models.KindSuggestTools,
	models.StepEnvVars: models.KindSuggestEnvVars,
}

// Successor returns the transition leaving step, if any
func Successor(step models.Step) (Transition, bool) {
	for _, t := range transitions {
		if t.From == step {
			return t, true
		}
	}
	return Transition{}, false
}

// IsValidTransition checks that to is the immediate successor of from
func IsValidTransition(from, to models.Step) bool {
	t, ok := Successor(from)
	return ok && t.To == to
}

// RefinementKind returns the generation kind that can be re-run at step
func RefinementKind(step models.Step) (models.TaskKind, bool) {
	kind, ok := refinable[step]
	return kind, ok
}

// AllSteps returns every step in wizard order, including the client-local entry step
func AllSteps() []models.Step {
	return []models.Step{
		models.StepZero,
		models.StepDescribe,
		models.StepTools,
		models.StepEnvVars,
		models.StepAuth,
		models.StepDeploy,
		models.StepComplete,
	}
}

// IsValidStep checks if a step is known
func IsValidStep(step models.Step) bool {
	for _, s := range AllSteps() {
		if s == step {
			return true
		}
	}
	return false
}
