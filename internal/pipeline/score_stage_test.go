package pipeline

import (
	"testing"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/entity"
)

func TestDeriveUrgencyRuleOrder(t *testing.T) {
	s := NewScoreStage(nil)

	cases := []struct {
		name string
		c    entity.CandidateFinding
		want constants.UrgencyClass
	}{
		{
			"explicit urgency language wins over everything",
			entity.CandidateFinding{
				BodyPart:          "liver",
				Finding:           "suspicious mass",
				RecommendedAction: "urgent surgical consult",
				Confidence:        0.9,
			},
			constants.UrgencyCritical,
		},
		{
			"high risk keyword in finding",
			entity.CandidateFinding{
				BodyPart:   "liver",
				Finding:    "2 cm hepatic mass",
				Confidence: 0.9,
			},
			constants.UrgencyHigh,
		},
		{
			"high risk body part without keyword",
			entity.CandidateFinding{
				BodyPart:          "aorta",
				Finding:           "dilated to 4.2 cm",
				RecommendedAction: "surveillance imaging",
				Timeframe:         "in 6 months",
				Confidence:        0.9,
			},
			constants.UrgencyHigh,
		},
		{
			"followup with timeframe is routine",
			entity.CandidateFinding{
				BodyPart:          "nodule",
				Finding:           "3mm pulmonary nodule",
				RecommendedAction: "follow-up CT",
				Timeframe:         "in 6 months",
				Confidence:        0.9,
			},
			constants.UrgencyRoutine,
		},
		{
			"no recommendation is incidental",
			entity.CandidateFinding{
				BodyPart:   "kidney",
				Finding:    "simple renal cyst",
				Confidence: 0.9,
			},
			constants.UrgencyIncidentalLow,
		},
		{
			"incidental language is incidental",
			entity.CandidateFinding{
				BodyPart:          "thyroid",
				Finding:           "incidental thyroid nodule",
				RecommendedAction: "consider ultrasound",
				Confidence:        0.9,
			},
			constants.UrgencyIncidentalLow,
		},
		{
			"recommendation without timeframe stays routine",
			entity.CandidateFinding{
				BodyPart:          "liver",
				Finding:           "hypodense lesion",
				RecommendedAction: "MRI for characterization",
				Confidence:        0.9,
			},
			constants.UrgencyRoutine,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := s.Score(tc.c)
			if got.Urgency != tc.want {
				t.Fatalf("urgency = %s, want %s", got.Urgency, tc.want)
			}
		})
	}
}

func TestLowConfidenceDemotesCritical(t *testing.T) {
	s := NewScoreStage(nil)
	c := entity.CandidateFinding{
		BodyPart:          "brain",
		Finding:           "possible acute hemorrhage",
		RecommendedAction: "stat neurosurgery consult",
		Confidence:        0.3,
	}
	got := s.Score(c)
	if got.Urgency != constants.UrgencyHigh {
		t.Fatalf("urgency = %s, want %s after low-confidence demotion", got.Urgency, constants.UrgencyHigh)
	}

	c.Confidence = 0.9
	got = s.Score(c)
	if got.Urgency != constants.UrgencyCritical {
		t.Fatalf("urgency = %s, want %s at high confidence", got.Urgency, constants.UrgencyCritical)
	}
}

func TestRiskScoreBoundsAndMonotonicity(t *testing.T) {
	ordered := []constants.UrgencyClass{
		constants.UrgencyIncidentalLow,
		constants.UrgencyRoutine,
		constants.UrgencyHigh,
		constants.UrgencyCritical,
	}
	for _, conf := range []float64{0, 0.25, 0.5, 0.75, 1, -3, 7} {
		prev := -1.0
		for _, u := range ordered {
			r := RiskScore(u, conf)
			if r < 0 || r > 1 {
				t.Fatalf("RiskScore(%s, %v) = %v, out of [0,1]", u, conf, r)
			}
			if r <= prev {
				t.Fatalf("RiskScore(%s, %v) = %v, not above lower urgency score %v", u, conf, r, prev)
			}
			prev = r
		}
	}
}

func TestScoreNoduleScenario(t *testing.T) {
	s := NewScoreStage(nil)
	report := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	got := s.Score(entity.CandidateFinding{
		PatientID:         "P123",
		BodyPart:          "nodule",
		Modality:          "CT",
		Finding:           "3mm pulmonary nodule in the right upper lobe",
		RecommendedAction: "follow-up CT chest",
		Timeframe:         "in 6 months",
		ReportDate:        &report,
		Confidence:        0.85,
	})

	if got.BodyPart != constants.PulmonaryNodule {
		t.Fatalf("body part = %s, want %s", got.BodyPart, constants.PulmonaryNodule)
	}
	if got.Urgency != constants.UrgencyRoutine {
		t.Fatalf("urgency = %s, want %s", got.Urgency, constants.UrgencyRoutine)
	}
	want := time.Date(2026, time.July, 10, 0, 0, 0, 0, time.UTC)
	if got.DueLatest == nil || !got.DueLatest.Equal(want) {
		t.Fatalf("due latest = %v, want %v", got.DueLatest, want)
	}
	if got.RiskScore <= RiskScore(constants.UrgencyIncidentalLow, 0.85) ||
		got.RiskScore >= RiskScore(constants.UrgencyHigh, 0.85) {
		t.Fatalf("risk score %v not between incidental and high bands", got.RiskScore)
	}
}

func TestScoreUnmatchableBodyPartLandsUncategorized(t *testing.T) {
	s := NewScoreStage(nil)
	got := s.Score(entity.CandidateFinding{
		BodyPart:   "flux capacitor",
		Finding:    "something odd",
		Confidence: 0.8,
	})
	if got.BodyPart != constants.Uncategorized {
		t.Fatalf("body part = %s, want %s", got.BodyPart, constants.Uncategorized)
	}
}
