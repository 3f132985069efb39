package engine

import (
	"regexp"
	"strings"
)

var (
	citationMarkerRegex  = regexp.MustCompile(`\[\d+\]|\bsources?:\s|\bhttps?://`)
	disclaimerRegex      = regexp.MustCompile(`(?i)\bdisclaimer\b|not a substitute for professional|consult (?:a|your) (?:qualified |licensed )?(?:professional|doctor|physician|lawyer|attorney|advisor)|emergency services`)
	uncertaintyRegex     = regexp.MustCompile(`(?i)\b(?:may|might|uncertain|limitation|not guaranteed|depends on|varies|approximate)`)
	professionalReqRegex = regexp.MustCompile(`(?i)consult(?:ing)? a qualified professional`)

	adversarialFragmentRegexes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)<script\b[^>]*>`),
		regexp.MustCompile(`(?i)javascript:\S+`),
		regexp.MustCompile(`(?i)\bdrop\s+table\b[^;]{0,40}`),
		regexp.MustCompile(`(?i)\bunion\s+select\b[^;]{0,40}`),
		regexp.MustCompile(`(?i)'\s*or\s+'?1'?\s*=\s*'?1`),
	}
)

// VerifyAnswer checks a generated answer against the guard's hard
// requirements and the adversarial-echo rule. A failed verification is a
// valid terminal state, not an error: the caller escalates instead of
// returning the answer as final.
func VerifyAnswer(answer, query string, guard QueryGuardResult) Verification {
	var failures []string

	for _, requirement := range guard.HardRequirements {
		lower := strings.ToLower(requirement)
		switch {
		case strings.Contains(lower, "citation") || strings.Contains(lower, "cite"):
			if !citationMarkerRegex.MatchString(answer) {
				failures = append(failures, "missing required citations: "+requirement)
			}
		case strings.Contains(lower, "disclaimer"):
			if !disclaimerRegex.MatchString(answer) {
				failures = append(failures, "missing required disclaimer: "+requirement)
			}
		case strings.Contains(lower, "uncertaint"):
			if !uncertaintyRegex.MatchString(answer) {
				failures = append(failures, "missing uncertainty discussion: "+requirement)
			}
		case professionalReqRegex.MatchString(requirement):
			if !disclaimerRegex.MatchString(answer) {
				failures = append(failures, "missing professional-consultation guidance: "+requirement)
			}
		}
	}

	for _, fragment := range adversarialFragments(query) {
		if strings.Contains(answer, fragment) {
			failures = append(failures, "answer echoes adversarial query fragment verbatim")
			break
		}
	}

	v := Verification{
		Passed:                   len(failures) == 0,
		Failures:                 failures,
		EscalationRecommendation: EscalateNone,
	}
	if !v.Passed {
		v.EscalationRecommendation = recommendEscalation(guard.RiskClass, failures)
	}
	return v
}

// adversarialFragments returns the exact substrings of the query that match
// known injection shapes. The engine only pattern-matches them as plain
// text; it never interprets embedded content.
func adversarialFragments(query string) []string {
	var fragments []string
	for _, re := range adversarialFragmentRegexes {
		fragments = append(fragments, re.FindAllString(query, -1)...)
	}
	return fragments
}

// recommendEscalation routes grounding gaps to a wider retrieval pass and
// everything risk-bearing to a human.
func recommendEscalation(class RiskClass, failures []string) EscalationRecommendation {
	if class >= RiskCritical {
		return EscalateHumanReview
	}
	for _, f := range failures {
		if strings.Contains(f, "citations") {
			return EscalateExpandedRetrieval
		}
	}
	return EscalateHumanReview
}
