package constants

import "strings"

// SectionKind labels a report section produced by the text normalizer.
type SectionKind string

const (
	SectionFindings        SectionKind = "FINDINGS"
	SectionImpression      SectionKind = "IMPRESSION"
	SectionRecommendations SectionKind = "RECOMMENDATIONS"
	SectionOther           SectionKind = "OTHER"
)

// Modality is the imaging modality vocabulary, matching the extraction
// schema (CT|XR|MRI|US|NM|Other).
type Modality string

const (
	ModalityCT    Modality = "CT"
	ModalityXR    Modality = "XR"
	ModalityMRI   Modality = "MRI"
	ModalityUS    Modality = "US"
	ModalityNM    Modality = "NM"
	ModalityOther Modality = "Other"
)

// CanonicalizeModality maps free-text modality labels onto the vocabulary.
func CanonicalizeModality(input string) Modality {
	switch normalizeToken(input) {
	case "ct", "cat_scan", "computed_tomography":
		return ModalityCT
	case "xr", "xray", "x_ray", "radiograph", "cr", "dx":
		return ModalityXR
	case "mri", "mr", "magnetic_resonance":
		return ModalityMRI
	case "us", "ultrasound", "sonogram", "doppler":
		return ModalityUS
	case "nm", "nuclear", "pet", "pet_ct", "spect":
		return ModalityNM
	}
	return ModalityOther
}

// normalizeToken lowercases and collapses separators so that "X-Ray",
// "x ray" and "x_ray" compare equal.
func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "/", "_")
	return s
}
