package identity

import (
	"strings"

	"github.com/prospectdb/prospect-stats/internal/domain/source"
)

// MatcherConfig holds the fuzzy-matching thresholds. They are the knobs
// most likely to need tuning against real mismatch data, so they are
// injected rather than hard-coded.
type MatcherConfig struct {
	// StrongMaxDistance is the largest edit distance between aliased
	// normalized names that still qualifies for a strong merge.
	StrongMaxDistance int
	// StrongMinSimilarity guards short names where a small absolute
	// distance is still a large relative change.
	StrongMinSimilarity  float64
	StrongBaseConfidence float64
	// StrongAttributeBonus is added per corroborating attribute beyond
	// the first, up to StrongMaxConfidence.
	StrongAttributeBonus float64
	StrongMaxConfidence  float64

	WeakMinSimilarity  float64
	WeakBaseConfidence float64
	WeakMaxConfidence  float64
}

func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		StrongMaxDistance:    4,
		StrongMinSimilarity:  0.60,
		StrongBaseConfidence: 0.80,
		StrongAttributeBonus: 0.05,
		StrongMaxConfidence:  0.95,
		WeakMinSimilarity:    0.55,
		WeakBaseConfidence:   0.50,
		WeakMaxConfidence:    0.79,
	}
}

func NormalizeMatcherConfig(cfg MatcherConfig) MatcherConfig {
	defaults := DefaultMatcherConfig()
	if cfg.StrongMaxDistance < 1 {
		cfg.StrongMaxDistance = defaults.StrongMaxDistance
	}
	if cfg.StrongMinSimilarity <= 0 || cfg.StrongMinSimilarity > 1 {
		cfg.StrongMinSimilarity = defaults.StrongMinSimilarity
	}
	if cfg.StrongBaseConfidence <= 0 || cfg.StrongBaseConfidence > 1 {
		cfg.StrongBaseConfidence = defaults.StrongBaseConfidence
	}
	if cfg.StrongAttributeBonus < 0 {
		cfg.StrongAttributeBonus = defaults.StrongAttributeBonus
	}
	if cfg.StrongMaxConfidence <= 0 || cfg.StrongMaxConfidence > 1 {
		cfg.StrongMaxConfidence = defaults.StrongMaxConfidence
	}
	if cfg.WeakMinSimilarity <= 0 || cfg.WeakMinSimilarity > 1 {
		cfg.WeakMinSimilarity = defaults.WeakMinSimilarity
	}
	if cfg.WeakBaseConfidence <= 0 || cfg.WeakBaseConfidence > 1 {
		cfg.WeakBaseConfidence = defaults.WeakBaseConfidence
	}
	if cfg.WeakMaxConfidence <= 0 || cfg.WeakMaxConfidence > 1 {
		cfg.WeakMaxConfidence = defaults.WeakMaxConfidence
	}
	return cfg
}

type matchTier int

const (
	tierNone matchTier = iota
	tierWeak
	tierStrong
	tierExact
)

// Common given-name aliases folded before distance computation. This list
// only shortens distances; it never produces a tier-1 exact match on its
// own.
var givenNameAliases = map[string]string{
	"mike":  "michael",
	"mikey": "michael",
	"matt":  "matthew",
	"chris": "christopher",
	"dan":   "daniel",
	"danny": "daniel",
	"dave":  "david",
	"jim":   "james",
	"jimmy": "james",
	"joe":   "joseph",
	"joey":  "joseph",
	"tony":  "anthony",
	"nick":  "nicholas",
	"alex":  "alexander",
	"will":  "william",
	"bill":  "william",
	"billy": "william",
	"bob":   "robert",
	"bobby": "robert",
	"rob":   "robert",
	"tom":   "thomas",
	"tommy": "thomas",
	"ted":   "theodore",
	"andy":  "andrew",
	"drew":  "andrew",
	"steve": "steven",
	"ben":   "benjamin",
	"zach":  "zachary",
	"jake":  "jacob",
	"sam":   "samuel",
	"ken":   "kenneth",
	"kenny": "kenneth",
	"ed":    "edward",
	"eddie": "edward",
	"rick":  "richard",
	"ricky": "richard",
	"dick":  "richard",
	"greg":  "gregory",
	"josh":  "joshua",
	"nate":  "nathaniel",
	"cam":   "cameron",
}

func aliasName(normalized string) string {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return normalized
	}
	if full, ok := givenNameAliases[tokens[0]]; ok {
		tokens[0] = full
	}
	return strings.Join(tokens, " ")
}

// evaluate scores candidate b against reference a. Tiers are exclusive
// and the first (highest) matching tier wins; there is no averaging
// across tiers.
func (c MatcherConfig) evaluate(a, b source.RawEntityRecord) (matchTier, float64) {
	if a.NormalizedName == "" || b.NormalizedName == "" {
		return tierNone, 0
	}

	yearA, hasYearA := a.BirthYear()
	yearB, hasYearB := b.BirthYear()
	if hasYearA && hasYearB && yearA != yearB {
		// Conflicting birth years are disqualifying regardless of name
		// similarity: two people, not two spellings.
		return tierNone, 0
	}

	affiliationMatch := a.AffiliationName != "" && a.AffiliationName == b.AffiliationName

	if a.NormalizedName == b.NormalizedName && affiliationMatch {
		if !hasYearA || !hasYearB || yearA == yearB {
			return tierExact, 1.0
		}
	}

	aliasA := aliasName(a.NormalizedName)
	aliasB := aliasName(b.NormalizedName)
	distance := levenshtein(aliasA, aliasB)
	similarity := nameSimilarity(aliasA, aliasB, distance)

	if distance <= c.StrongMaxDistance && similarity >= c.StrongMinSimilarity && affiliationMatch {
		agreements := 0
		if hasYearA && hasYearB && yearA == yearB {
			agreements++
		}
		if a.HeightInches != nil && b.HeightInches != nil {
			diff := *a.HeightInches - *b.HeightInches
			if diff >= -1 && diff <= 1 {
				agreements++
			}
		}
		if a.RegionCode != "" && strings.EqualFold(a.RegionCode, b.RegionCode) {
			agreements++
		}
		if agreements > 0 {
			confidence := c.StrongBaseConfidence + c.StrongAttributeBonus*float64(agreements-1)
			if confidence > c.StrongMaxConfidence {
				confidence = c.StrongMaxConfidence
			}
			return tierStrong, confidence
		}
	}

	if similarity >= c.WeakMinSimilarity {
		span := 1 - c.WeakMinSimilarity
		scaled := c.WeakBaseConfidence
		if span > 0 {
			scaled += (similarity - c.WeakMinSimilarity) / span * (c.WeakMaxConfidence - c.WeakBaseConfidence)
		}
		if scaled > c.WeakMaxConfidence {
			scaled = c.WeakMaxConfidence
		}
		return tierWeak, scaled
	}

	return tierNone, 0
}

func nameSimilarity(a, b string, distance int) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(distance)/float64(longest)
}

// levenshtein computes edit distance with the two-row dynamic program.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func minInt(values ...int) int {
	out := values[0]
	for _, v := range values[1:] {
		if v < out {
			out = v
		}
	}
	return out
}
