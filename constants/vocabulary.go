package constants

import (
	"fmt"
	"os"
	"strings"

	"github.com/agext/levenshtein"
	"gopkg.in/yaml.v3"
)

// BodyPart is a canonical controlled-vocabulary term for the anatomy or
// lesion a follow-up task is about.
type BodyPart string

const (
	PulmonaryNodule   BodyPart = "pulmonary-nodule"
	PulmonaryEmbolism BodyPart = "pulmonary-embolism"
	Lung              BodyPart = "lung"
	Liver             BodyPart = "liver"
	Kidney            BodyPart = "kidney"
	Adrenal           BodyPart = "adrenal"
	Pancreas          BodyPart = "pancreas"
	Thyroid           BodyPart = "thyroid"
	Aorta             BodyPart = "aorta"
	Brain             BodyPart = "brain"
	Breast            BodyPart = "breast"
	Ovary             BodyPart = "ovary"
	Prostate          BodyPart = "prostate"
	Bone              BodyPart = "bone"
	LymphNode         BodyPart = "lymph-node"
	Uncategorized     BodyPart = "uncategorized"
)

var allBodyParts = []BodyPart{
	PulmonaryNodule,
	PulmonaryEmbolism,
	Lung,
	Liver,
	Kidney,
	Adrenal,
	Pancreas,
	Thyroid,
	Aorta,
	Brain,
	Breast,
	Ovary,
	Prostate,
	Bone,
	LymphNode,
	Uncategorized,
}

// highRiskBodyParts drive the urgency rule table: findings here escalate
// to High absent explicit urgency language.
var highRiskBodyParts = map[BodyPart]struct{}{
	Aorta:             {},
	PulmonaryEmbolism: {},
	Brain:             {},
}

// bodyPartAliases covers the phrasing the model and radiologists actually
// use. Keys are pre-normalized (lowercase, separators collapsed).
var bodyPartAliases = map[string]BodyPart{
	"nodule":             PulmonaryNodule,
	"lung_nodule":        PulmonaryNodule,
	"pulmonary_nodule":   PulmonaryNodule,
	"pulmonary_nodules":  PulmonaryNodule,
	"ground_glass":       PulmonaryNodule,
	"pe":                 PulmonaryEmbolism,
	"embolism":           PulmonaryEmbolism,
	"pulmonary_embolus":  PulmonaryEmbolism,
	"chest":              Lung,
	"pulmonary":          Lung,
	"lungs":              Lung,
	"hepatic":            Liver,
	"liver_lesion":       Liver,
	"renal":              Kidney,
	"renal_cyst":         Kidney,
	"kidneys":            Kidney,
	"adrenal_gland":      Adrenal,
	"adrenal_nodule":     Adrenal,
	"pancreatic":         Pancreas,
	"pancreatic_cyst":    Pancreas,
	"thyroid_nodule":     Thyroid,
	"aortic":             Aorta,
	"aortic_aneurysm":    Aorta,
	"abdominal_aorta":    Aorta,
	"head":               Brain,
	"intracranial":       Brain,
	"breast_mass":        Breast,
	"ovarian":            Ovary,
	"ovarian_cyst":       Ovary,
	"prostatic":          Prostate,
	"osseous":            Bone,
	"skeletal":           Bone,
	"lymph":              LymphNode,
	"lymph_nodes":        LymphNode,
	"lymphadenopathy":    LymphNode,
	"mediastinal_nodes":  LymphNode,
	"unknown":            Uncategorized,
	"unspecified":        Uncategorized,
}

// MinBodyPartSimilarity is the floor for the similarity fallback; below it
// a label lands in Uncategorized rather than being guessed.
const MinBodyPartSimilarity = 0.72

// AllBodyParts returns the vocabulary as strings, Uncategorized last.
func AllBodyParts() []string {
	out := make([]string, len(allBodyParts))
	for i, bp := range allBodyParts {
		out[i] = string(bp)
	}
	return out
}

// IsHighRiskBodyPart reports whether the canonical term is in the
// high-risk category of the urgency rule table.
func IsHighRiskBodyPart(bp BodyPart) bool {
	_, ok := highRiskBodyParts[bp]
	return ok
}

// CanonicalizeBodyPart maps a free-text label onto the controlled
// vocabulary. Strategy, in order: exact canonical match, alias table,
// best levenshtein similarity against canonical terms and aliases. A label
// that clears no threshold lands in Uncategorized; findings are never
// dropped for lack of a vocabulary match. The similarity score of the
// winning match is returned (1.0 for exact/alias hits).
func CanonicalizeBodyPart(input string) (BodyPart, float64) {
	norm := normalizeToken(input)
	if norm == "" {
		return Uncategorized, 0
	}

	for _, bp := range allBodyParts {
		if norm == normalizeToken(string(bp)) {
			return bp, 1.0
		}
	}
	if bp, ok := bodyPartAliases[norm]; ok {
		return bp, 1.0
	}

	// similarity fallback over canonical terms and aliases
	best := Uncategorized
	bestScore := 0.0
	consider := func(candidate string, bp BodyPart) {
		score := levenshtein.Match(norm, normalizeToken(candidate), nil)
		if score > bestScore {
			best, bestScore = bp, score
		}
	}
	for _, bp := range allBodyParts {
		consider(string(bp), bp)
	}
	for alias, bp := range bodyPartAliases {
		consider(alias, bp)
	}
	if bestScore < MinBodyPartSimilarity {
		return Uncategorized, bestScore
	}
	return best, bestScore
}

// vocabularyFile is the YAML override shape for site-specific vocabulary.
type vocabularyFile struct {
	Aliases  map[string]string `yaml:"aliases"`   // alias -> canonical term
	HighRisk []string          `yaml:"high_risk"` // canonical terms
}

// LoadVocabularyOverrides merges alias and high-risk overrides from a YAML
// file into the built-in tables. Unknown canonical targets are rejected so
// a typo cannot silently create a new bucket.
func LoadVocabularyOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read vocabulary file: %w", err)
	}
	var vf vocabularyFile
	if err := yaml.Unmarshal(raw, &vf); err != nil {
		return fmt.Errorf("parse vocabulary file: %w", err)
	}

	canonical := make(map[string]BodyPart, len(allBodyParts))
	for _, bp := range allBodyParts {
		canonical[string(bp)] = bp
	}
	for alias, target := range vf.Aliases {
		bp, ok := canonical[strings.ToLower(strings.TrimSpace(target))]
		if !ok {
			return fmt.Errorf("vocabulary alias %q targets unknown term %q", alias, target)
		}
		bodyPartAliases[normalizeToken(alias)] = bp
	}
	for _, term := range vf.HighRisk {
		bp, ok := canonical[strings.ToLower(strings.TrimSpace(term))]
		if !ok {
			return fmt.Errorf("high_risk entry %q is not a vocabulary term", term)
		}
		highRiskBodyParts[bp] = struct{}{}
	}
	return nil
}
