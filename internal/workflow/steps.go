package workflow

// Step is one stage of the fixed inspection methodology. The order of Steps is
// the protocol: a session's current step is always the first unresolved entry,
// or StepCompleted once every step is resolved.
type Step string

const (
	StepWeatherVerification Step = "weather-verification"
	StepThermalImaging      Step = "thermal-imaging"
	StepGroundWalk          Step = "ground-walk"
	StepTestSquares         Step = "test-squares"
	StepSoftMetals          Step = "soft-metals"
	StepMoistureTesting     Step = "moisture-testing"
	StepCoreSamples         Step = "core-samples"
	StepReportAssembly      Step = "report-assembly"

	// StepCompleted is the terminal marker, not a protocol step.
	StepCompleted Step = "completed"
)

// Steps is the immutable protocol order. Callers must not mutate it.
var Steps = []Step{
	StepWeatherVerification,
	StepThermalImaging,
	StepGroundWalk,
	StepTestSquares,
	StepSoftMetals,
	StepMoistureTesting,
	StepCoreSamples,
	StepReportAssembly,
}

// First returns the step a fresh session starts at.
func First() Step {
	return Steps[0]
}

// Next returns the step after s in protocol order, or StepCompleted when s is
// the last step. Calling Next with an unknown step is a programmer error.
func Next(s Step) Step {
	for i, step := range Steps {
		if step == s {
			if i == len(Steps)-1 {
				return StepCompleted
			}
			return Steps[i+1]
		}
	}
	panic("workflow: unknown step " + string(s))
}

// IsStep reports whether s names a protocol step (not the terminal marker).
func IsStep(s Step) bool {
	for _, step := range Steps {
		if step == s {
			return true
		}
	}
	return false
}
