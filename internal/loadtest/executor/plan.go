package executor

import (
	"time"

	"github.com/wesleyorama2/shortload/internal/loadtest/metrics"
)

// Plan summarizes a ramp profile.
type Plan struct {
	Stages        []Stage       `json:"stages"`
	TotalDuration time.Duration `json:"totalDuration"`
	MaxTarget     int           `json:"maxTarget"`
}

// NewPlan computes the plan for stages.
func NewPlan(stages []Stage) Plan {
	p := Plan{Stages: stages}
	for _, s := range stages {
		p.TotalDuration += s.Duration
		if s.Target > p.MaxTarget {
			p.MaxTarget = s.Target
		}
	}
	return p
}

// TargetAt returns the VU target at elapsed time into the run.
//
// Within a stage the target moves linearly from the previous stage's
// target (0 before the first stage) to the stage target, rounded to the
// nearest integer. A zero-duration stage jumps straight to its target.
// Past the last stage the last target holds.
func TargetAt(stages []Stage, elapsed time.Duration) int {
	target, _ := targetAndStage(stages, elapsed)
	return target
}

func targetAndStage(stages []Stage, elapsed time.Duration) (int, int) {
	if len(stages) == 0 {
		return 0, -1
	}

	var stageStart time.Duration
	prevTarget := 0

	for i, stage := range stages {
		stageEnd := stageStart + stage.Duration

		if elapsed < stageEnd {
			progress := float64(elapsed-stageStart) / float64(stage.Duration)
			if progress < 0 {
				progress = 0
			}
			if progress > 1 {
				progress = 1
			}

			target := float64(prevTarget) + float64(stage.Target-prevTarget)*progress
			return int(target + 0.5), i
		}

		prevTarget = stage.Target
		stageStart = stageEnd
	}

	return stages[len(stages)-1].Target, len(stages) - 1
}

// PhaseFor classifies stage idx as ramp-up, steady, or ramp-down by
// comparing its target with the previous one.
func PhaseFor(stages []Stage, idx int) metrics.Phase {
	if idx < 0 || idx >= len(stages) {
		return metrics.PhaseInit
	}
	prev := 0
	if idx > 0 {
		prev = stages[idx-1].Target
	}
	switch cur := stages[idx].Target; {
	case cur > prev:
		return metrics.PhaseRampUp
	case cur < prev:
		return metrics.PhaseRampDown
	default:
		return metrics.PhaseSteady
	}
}
