package plans

import (
	"strings"

	"github.com/civichub/planengine/pkg/observability"
)

// Normalization warning reasons, used as the metric label
const (
	WarnEmptyTier   = "empty"
	WarnUnknownTier = "unknown"
)

// tierAliases maps lowercased tier spellings to the canonical tier.
// Canonical names are their own aliases so normalization is idempotent.
var tierAliases = map[string]Tier{
	"entry":       TierEntry,
	"entry-level": TierEntry,
	"entry_level": TierEntry,
	"free":        TierEntry,
	"basic":       TierEntry,
	"starter":     TierEntry,
	"tier_0":      TierEntry,

	"standard": TierStandard,
	"pro":      TierStandard,
	"tier_1":   TierStandard,

	"strategic": TierStrategic,
	"premium":   TierStrategic,
	"business":  TierStrategic,
	"tier_2":    TierStrategic,

	"enterprise": TierEnterprise,
	"corporate":  TierEnterprise,
	"tier_3":     TierEnterprise,
}

// TierAliases returns a copy of the alias table
func TierAliases() map[string]Tier {
	out := make(map[string]Tier, len(tierAliases))
	for k, v := range tierAliases {
		out[k] = v
	}
	return out
}

// NormalizeWarning describes why a raw tier value was coerced to the default tier
type NormalizeWarning struct {
	Input  string
	Reason string
}

// Normalize maps any raw tier string onto the closed tier set.
// It never fails: empty, sentinel and unknown input yield DefaultTier plus a warning.
func Normalize(raw string) (Tier, *NormalizeWarning) {
	key := strings.ToLower(strings.TrimSpace(raw))
	switch key {
	case "", "undefined", "null", "nil", "none":
		return DefaultTier, &NormalizeWarning{Input: raw, Reason: WarnEmptyTier}
	}
	if tier, ok := tierAliases[key]; ok {
		return tier, nil
	}
	return DefaultTier, &NormalizeWarning{Input: raw, Reason: WarnUnknownTier}
}

// ParseTier strictly parses a canonical tier name or alias.
// Unlike Normalize it rejects unknown and empty input with ErrUnknownTier.
func ParseTier(raw string) (Tier, error) {
	tier, warn := Normalize(raw)
	if warn != nil {
		return "", ErrUnknownTier
	}
	return tier, nil
}

// Normalizer wraps Normalize with warning logs and metrics
type Normalizer struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewNormalizer creates a Normalizer
func NewNormalizer(logger *observability.Logger, metrics *observability.Metrics) *Normalizer {
	return &Normalizer{logger: logger, metrics: metrics}
}

// NormalizeTier is Normalize with the warning reported instead of returned
func (n *Normalizer) NormalizeTier(raw string) Tier {
	tier, warn := Normalize(raw)
	if warn != nil {
		n.metrics.TierNormalizationWarnings.WithLabelValues(warn.Reason).Inc()
		n.logger.WithField("reason", warn.Reason).
			Warnf("unrecognized plan tier %q, using %s", warn.Input, DefaultTier)
	}
	return tier
}
