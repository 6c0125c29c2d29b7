package escalator

import (
	"testing"

	"github.com/warden-mod/warden/models"

	"github.com/stretchr/testify/assert"
)

func TestClassifyReason(t *testing.T) {
	assert := assert.New(t)

	fixtures := []struct {
		reason string
		level  string
	}{
		{"raid cleanup", models.RiskLow},
		{"", models.RiskHigh},
		{"   ", models.RiskHigh},
		{"being annoying", models.RiskMedium},
		{"no reason given", models.RiskHigh},
		{"IDK", models.RiskHigh},
		{"Spam Bot", models.RiskLow},
		{"mass mention attack", models.RiskLow},
		{"harassment in #general", models.RiskMedium},
		// matches both a high and a low keyword; high wins by design
		{"idk, some raid thing", models.RiskHigh},
		{"just because", models.RiskHigh},
	}
	for _, fix := range fixtures {
		assert.Equal(fix.level, ClassifyReason(fix.reason), "reason: %q", fix.reason)
	}
}

func TestRiskWeights(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(0.3, riskWeight(models.RiskLow))
	assert.Equal(1.0, riskWeight(models.RiskMedium))
	assert.Equal(2.0, riskWeight(models.RiskHigh))
}
