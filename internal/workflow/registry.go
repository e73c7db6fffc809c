package workflow

// Requirement is the gate configuration for one methodology step. These are
// business-tunable rules kept as declarative data so they can change without
// touching the engine.
type Requirement struct {
	MinEvidenceCount     int
	AIValidationRequired bool
	Skippable            bool
	SkipReasons          []string
}

// AllowsReason reports whether reason is in the step's closed skip-reason set.
func (r Requirement) AllowsReason(reason string) bool {
	for _, allowed := range r.SkipReasons {
		if allowed == reason {
			return true
		}
	}
	return false
}

var requirements = map[Step]Requirement{
	StepWeatherVerification: {
		MinEvidenceCount: 1,
		Skippable:        true,
		SkipReasons:      []string{"weather_data_unavailable", "verified_prior_visit"},
	},
	StepThermalImaging: {
		MinEvidenceCount:     2,
		AIValidationRequired: true,
		Skippable:            true,
		SkipReasons:          []string{"equipment_unavailable", "surface_unsuitable"},
	},
	StepGroundWalk: {
		MinEvidenceCount: 3,
	},
	StepTestSquares: {
		MinEvidenceCount:     2,
		AIValidationRequired: true,
		Skippable:            true,
		SkipReasons:          []string{"membrane_type_exempt", "access_restricted"},
	},
	StepSoftMetals: {
		MinEvidenceCount: 1,
		Skippable:        true,
		SkipReasons:      []string{"no_soft_metals_present"},
	},
	StepMoistureTesting: {
		MinEvidenceCount:     2,
		AIValidationRequired: true,
		Skippable:            true,
		SkipReasons:          []string{"equipment_unavailable", "membrane_saturated"},
	},
	StepCoreSamples: {
		MinEvidenceCount:     1,
		AIValidationRequired: true,
		Skippable:            true,
		SkipReasons:          []string{"owner_refused_destructive_testing"},
	},
	StepReportAssembly: {
		MinEvidenceCount: 0,
	},
}

// RequirementFor returns the gate configuration for step. Asking for a step
// outside the protocol is a programmer error.
func RequirementFor(step Step) Requirement {
	req, ok := requirements[step]
	if !ok {
		panic("workflow: no requirement for step " + string(step))
	}
	return req
}
