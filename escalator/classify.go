package escalator

import (
	"strings"

	"github.com/warden-mod/warden/models"
)

// Reasons matching these phrases (or empty reasons) classify as high risk:
// a moderator who can't articulate why is the strongest mass-ban signal.
var highRiskPhrases = []string{
	"no reason",
	"other",
	"idk",
	"dunno",
	"just because",
}

// Keywords typical of legitimate emergency moderation (raid cleanup etc).
var lowRiskKeywords = []string{
	"raid",
	"scam",
	"bot",
	"spam",
	"alt",
	"flood",
	"attack",
	"mass",
}

// ClassifyReason buckets a ban's stated reason into a risk tier.
//
// High is checked before low on purpose: a reason matching both ("idk, some
// raid thing") is still an unexplained ban, and the empty reason outranks any
// incidental emergency keyword. The tie-break order is load-bearing.
func ClassifyReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	if r == "" {
		return models.RiskHigh
	}
	for _, p := range highRiskPhrases {
		if strings.Contains(r, p) {
			return models.RiskHigh
		}
	}
	for _, k := range lowRiskKeywords {
		if strings.Contains(r, k) {
			return models.RiskLow
		}
	}
	return models.RiskMedium
}

// riskWeight sums raw volume rather than averaging: many low-risk bans still
// add up, while expected-emergency bans are discounted.
func riskWeight(level string) float64 {
	switch level {
	case models.RiskLow:
		return 0.3
	case models.RiskHigh:
		return 2.0
	default:
		return 1.0
	}
}

func riskMarker(level string) string {
	switch level {
	case models.RiskLow:
		return "🟢"
	case models.RiskHigh:
		return "🔴"
	default:
		return "🟡"
	}
}
