package ticket

import "github.com/enitrat/super-ralph/pkg/config"

// Stages is the tier table: four tiers, nine distinct stages total, fixing
// the ordered pipeline a ticket of that tier must pass through before it is
// eligible for landing.
var Stages = map[config.ComplexityTier][]string{
	config.TierTrivial: {"implement", "build-verify"},
	config.TierSmall:   {"implement", "test", "build-verify"},
	config.TierMedium:  {"research", "plan", "implement", "test", "build-verify", "code-review"},
	config.TierLarge:   {"research", "plan", "implement", "test", "build-verify", "spec-review", "code-review", "review-fix", "report"},
}

// FinalStage returns the last stage in tier's sequence — the stage whose
// output row determines tier-completion.
func FinalStage(tier config.ComplexityTier) string {
	stages := Stages[tier]
	if len(stages) == 0 {
		return ""
	}
	return stages[len(stages)-1]
}
