package decision

import (
	"math/rand"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func ind(name string, score float64) domain.Indicator {
	return domain.Indicator{Name: name, Score: score, Source: domain.SourceExtractor}
}

func match(rule *domain.Rule) rules.Match {
	return rules.Match{
		Rule:      rule,
		Indicator: domain.Indicator{Name: rule.ID, Score: rule.Weight, Source: domain.SourceRule, RuleID: rule.ID},
	}
}

func TestAggregate(t *testing.T) {
	t.Run("BoundedSumBeatsAverage", func(t *testing.T) {
		two, _ := Aggregate([]domain.Indicator{ind("a", 0.3), ind("b", 0.3)}, nil)
		one, _ := Aggregate([]domain.Indicator{ind("c", 0.4)}, nil)
		if two <= one {
			t.Errorf("two 0.3 indicators (%v) should outrank one 0.4 (%v)", two, one)
		}
	})

	t.Run("Saturates", func(t *testing.T) {
		score, _ := Aggregate([]domain.Indicator{ind("a", 0.7), ind("b", 0.6)}, []domain.Indicator{ind("r", 1)})
		if score != 1 {
			t.Errorf("expected saturated score 1, got %v", score)
		}
	})

	t.Run("Order", func(t *testing.T) {
		_, inds := Aggregate([]domain.Indicator{ind("x1", 0.1), ind("x2", 0.1)}, []domain.Indicator{ind("r1", 0.1)})
		want := []string{"x1", "x2", "r1"}
		for i, w := range want {
			if inds[i].Name != w {
				t.Errorf("indicator %d: expected %s, got %s", i, w, inds[i].Name)
			}
		}
	})

	t.Run("BoundsProperty", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		for i := 0; i < 500; i++ {
			var inds []domain.Indicator
			for j := 0; j < rng.Intn(12); j++ {
				inds = append(inds, ind("i", rng.Float64()))
			}
			score, _ := Aggregate(inds, nil)
			if score < 0 || score > 1 {
				t.Fatalf("score %v out of bounds", score)
			}
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		base := []domain.Indicator{ind("a", 0.2)}
		s1, _ := Aggregate(base, nil)
		s2, _ := Aggregate(base, []domain.Indicator{ind("r", 0.15)})
		if s2 < s1 {
			t.Errorf("adding an indicator lowered the score: %v -> %v", s1, s2)
		}
	})
}

func TestDecide(t *testing.T) {
	p := NewProcessor(domain.DefaultThresholds())

	cases := []struct {
		name    string
		score   float64
		fired   []*domain.Rule
		action  domain.Action
		pending bool
	}{
		{"Allow", 0.3, nil, domain.ActionAllow, false},
		{"Flag", 0.31, nil, domain.ActionFlag, false},
		{"ManualReview", 0.51, nil, domain.ActionManualReview, false},
		{"AtBlockThreshold", 0.8, nil, domain.ActionManualReview, false},
		{"BlockBandWithoutAutoBlock", 0.9, nil, domain.ActionManualReview, true},
		{"BlockBandWithAutoBlock", 0.9, []*domain.Rule{{ID: "r", AutoBlock: true}}, domain.ActionBlock, false},
		{"AutoBlockBelowBand", 0.4, []*domain.Rule{{ID: "r", AutoBlock: true}}, domain.ActionFlag, false},
		{"RequiresReviewRaises", 0.1, []*domain.Rule{{ID: "r", RequiresManualReview: true}}, domain.ActionManualReview, false},
		{"AutoFlagRaises", 0, []*domain.Rule{{ID: "r", AutoFlag: true}}, domain.ActionFlag, false},
		{"AutoFlagNeverLowers", 0.6, []*domain.Rule{{ID: "r", AutoFlag: true}}, domain.ActionManualReview, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			action, pending := p.Decide(tc.score, tc.fired)
			if action != tc.action {
				t.Errorf("expected %s, got %s", tc.action, action)
			}
			if pending != tc.pending {
				t.Errorf("expected pending override %v, got %v", tc.pending, pending)
			}
		})
	}
}

func TestConfidence(t *testing.T) {
	p := domain.NewProfile("u1", domain.CategoryLogin, 0.1)
	p.Confidence = 0.8
	p.Samples = 4
	if got := Confidence(domain.CategoryLogin, p, false, false); got != LowSampleConfidenceCap {
		t.Errorf("expected capped confidence, got %v", got)
	}
	p.Samples = 10
	if got := Confidence(domain.CategoryLogin, p, false, false); got != 0.8 {
		t.Errorf("expected learned confidence, got %v", got)
	}
	if got := Confidence(domain.CategoryLogin, p, false, true); got != 0 {
		t.Errorf("expected zero confidence when degraded, got %v", got)
	}
	if got := Confidence(domain.CategoryOnboarding, nil, false, false); got != OnboardingConfidence {
		t.Errorf("expected onboarding confidence, got %v", got)
	}
	if got := Confidence(domain.CategoryOnboarding, nil, true, false); got != OnboardingDegradedConfidence {
		t.Errorf("expected lowered onboarding confidence, got %v", got)
	}
}

func TestProcess(t *testing.T) {
	p := NewProcessor(domain.DefaultThresholds())

	t.Run("ZeroWeightRuleIsListed", func(t *testing.T) {
		audit := &domain.Rule{ID: "audit", Weight: 0}
		out := p.Process(&Input{
			Category:  domain.CategoryLogin,
			Extracted: []domain.Indicator{ind("geo_country_switch", 0.55)},
			Matches:   []rules.Match{match(audit)},
			Profile:   domain.NewProfile("u1", domain.CategoryLogin, 0.1),
		})
		if out.Decision.RiskScore != 0.55 {
			t.Errorf("expected score unchanged by zero weight rule, got %v", out.Decision.RiskScore)
		}
		if n := len(out.Decision.Indicators); n != 2 || out.Decision.Indicators[1].RuleID != "audit" {
			t.Errorf("expected audit indicator listed, got %d indicators", n)
		}
		if out.Decision.Action != domain.ActionManualReview || !out.RequiresManualReview {
			t.Errorf("expected manual review, got %s", out.Decision.Action)
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		in := &Input{
			Category:  domain.CategoryAccessScan,
			Extracted: []domain.Indicator{ind("a", 0.45)},
			Matches:   []rules.Match{match(&domain.Rule{ID: "r", Weight: 0.1, AutoFlag: true})},
			Profile:   domain.NewProfile("c1", domain.CategoryAccessScan, 0.1),
		}
		first := p.Process(in)
		for i := 0; i < 10; i++ {
			again := p.Process(in)
			if again.Decision.Action != first.Decision.Action || again.Decision.RiskScore != first.Decision.RiskScore {
				t.Fatalf("decision changed between runs")
			}
		}
	})
}
