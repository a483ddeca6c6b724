package plans

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civichub/planengine/pkg/observability"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw    string
		want   Tier
		reason string
	}{
		{"standard", TierStandard, ""},
		{"  Premium ", TierStrategic, ""},
		{"FREE", TierEntry, ""},
		{"entry-level", TierEntry, ""},
		{"TIER_3", TierEnterprise, ""},
		{"corporate", TierEnterprise, ""},
		{"", DefaultTier, WarnEmptyTier},
		{"   ", DefaultTier, WarnEmptyTier},
		{"undefined", DefaultTier, WarnEmptyTier},
		{"NULL", DefaultTier, WarnEmptyTier},
		{"platinum", DefaultTier, WarnUnknownTier},
		{"entry level", DefaultTier, WarnUnknownTier},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, warn := Normalize(tt.raw)
			assert.Equal(t, tt.want, got)
			if tt.reason == "" {
				assert.Nil(t, warn)
			} else {
				require.NotNil(t, warn)
				assert.Equal(t, tt.reason, warn.Reason)
				assert.Equal(t, tt.raw, warn.Input)
			}
		})
	}
}

func TestNormalize_TotalAndIdempotent(t *testing.T) {
	inputs := []string{"", "x", "Standard", "\tenterprise\n", "tier_9", "🙂", strings.Repeat("a", 1000)}
	for k := range TierAliases() {
		inputs = append(inputs, k, strings.ToUpper(k))
	}
	for _, tier := range AllTiers() {
		inputs = append(inputs, string(tier))
	}

	for _, raw := range inputs {
		once, _ := Normalize(raw)
		assert.True(t, once.IsValid(), "Normalize(%q) = %q outside the tier set", raw, once)

		twice, warn := Normalize(string(once))
		assert.Equal(t, once, twice, "Normalize is not idempotent for %q", raw)
		assert.Nil(t, warn, "canonical tier %q should not warn", once)
	}
}

func TestTierAliases_CoverEveryTier(t *testing.T) {
	aliases := TierAliases()
	covered := make(map[Tier]bool)
	for alias, tier := range aliases {
		assert.Equal(t, strings.ToLower(alias), alias, "alias keys are lowercase")
		assert.True(t, tier.IsValid())
		covered[tier] = true
	}
	for _, tier := range AllTiers() {
		assert.True(t, covered[tier], "tier %s has no alias", tier)
		assert.Equal(t, tier, aliases[string(tier)], "canonical name must alias itself")
	}

	aliases["free"] = TierEnterprise
	got, _ := Normalize("free")
	assert.Equal(t, TierEntry, got, "TierAliases must return a copy")
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("Business")
	require.NoError(t, err)
	assert.Equal(t, TierStrategic, tier)

	_, err = ParseTier("gold")
	assert.ErrorIs(t, err, ErrUnknownTier)

	_, err = ParseTier("")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestNormalizer_ReportsWarnings(t *testing.T) {
	var buf bytes.Buffer
	metrics := testMetrics()
	n := NewNormalizer(observability.NewLogger(observability.WarnLevel, &buf), metrics)

	assert.Equal(t, TierStandard, n.NormalizeTier("pro"))
	assert.Zero(t, buf.Len())

	assert.Equal(t, DefaultTier, n.NormalizeTier("gold"))
	assert.Contains(t, buf.String(), `\"gold\"`)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TierNormalizationWarnings.WithLabelValues(WarnUnknownTier)))

	n.NormalizeTier("")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.TierNormalizationWarnings.WithLabelValues(WarnEmptyTier)))
}
