package engine

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// longQueryRuneThreshold forces unusually long queries to high risk:
// complex multi-part questions warrant more grounding regardless of
// keyword content.
const longQueryRuneThreshold = 2000

var (
	criticalTriggers = []string{
		"emergency", "overdose", "poisoning", "chemical exposure",
		"life-threatening", "life threatening", "suicide", "self-harm",
		"call 911", "anaphyla", "cardiac arrest", "severe bleeding",
		"lawsuit against", "criminal charge", "liability exposure",
	}
	highTriggers = []string{
		"medication", "medicine", "dosage", "diagnos", "symptom",
		"treatment", "prescri", "side effect", "headache", "disease",
		"invest", "mortgage", "retirement", "tax ", "taxes", "401k",
		"portfolio", "insurance claim", "legal advice", "contract clause",
		"should i sue", "custody", "visa application",
	}
	mediumTriggers = []string{
		"compare", "comparison", " versus ", " vs ", "difference between",
		"trade-off", "tradeoff", "pros and cons", "benchmark", "migrate",
		"architecture", "performance", "which is better", "best approach",
	}

	yearEntityRegex     = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
	currencyEntityRegex = regexp.MustCompile(`\$\d+(?:[.,]\d+)?\s?[KkMmBb]?\b`)
	percentEntityRegex  = regexp.MustCompile(`\b\d+(?:\.\d+)?%`)
	versionEntityRegex  = regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?\b`)
)

// domainKeywords maps detectable domains to their trigger vocabulary.
// Hints derive priority from the normalized match count per domain.
var domainKeywords = map[string][]string{
	"medical":   {"medication", "medicine", "dosage", "symptom", "treatment", "doctor", "diagnosis", "headache", "disease", "patient", "drug"},
	"financial": {"invest", "stock", "tax", "mortgage", "retirement", "portfolio", "interest rate", "401k", "savings", "budget"},
	"legal":     {"legal", "lawsuit", "contract", "liability", "regulation", "compliance", "court", "custody", "visa"},
	"technical": {"programming", "language", "code", "software", "database", "api", "framework", "algorithm", "rust", "python", "golang", "javascript", "kubernetes"},
	"safety":    {"emergency", "exposure", "hazard", "poison", "toxic", "first aid", "evacuation", "protective"},
}

// hardRequirementTemplates are the per-class mandatory answer constraints,
// ordered by priority. The guard does not deduplicate; consumers may.
var hardRequirementTemplates = map[RiskClass][]string{
	RiskLow: {
		"Provide a clear, direct answer",
	},
	RiskMedium: {
		"Present balanced evidence for each alternative",
		"Cite sources where claims are specific",
	},
	RiskHigh: {
		"Highlight uncertainties and limitations",
		"Comprehensive coverage with citations",
		"Recommend consulting a qualified professional",
	},
	RiskCritical: {
		"Strong disclaimers about professional advice",
		"Highlight uncertainties and limitations",
		"Comprehensive coverage with citations",
		"Prioritize immediate-safety guidance",
	},
}

// AnalyzeQuery classifies a query's risk, derives its hard requirements and
// expansion hints, and detects entities/domains. Pure computation with no
// I/O; total over every string input including empty queries.
func AnalyzeQuery(query string) QueryGuardResult {
	started := time.Now()
	normalized := strings.ToLower(strings.TrimSpace(query))

	class, triggerHits := classifyRisk(normalized)
	domains, hitsByDomain := detectDomains(normalized)
	entities := detectEntities(query)

	domainHits := 0
	for _, hits := range hitsByDomain {
		domainHits += hits
	}

	result := QueryGuardResult{
		RiskClass:        class,
		HardRequirements: append([]string(nil), hardRequirementTemplates[class]...),
		ExpansionHints:   buildExpansionHints(class, domains, hitsByDomain),
		Metadata: GuardMetadata{
			Confidence:       guardConfidence(normalized, triggerHits+domainHits),
			DetectedEntities: entities,
			DetectedDomains:  domains,
		},
	}
	result.Metadata.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000.0
	return result
}

// classifyRisk runs the trigger cascade in severity order and short-circuits
// on the first tier that matches.
func classifyRisk(normalized string) (RiskClass, int) {
	if len([]rune(normalized)) > longQueryRuneThreshold {
		return RiskHigh, 1
	}
	if hits := countTriggerHits(normalized, criticalTriggers); hits > 0 {
		return RiskCritical, hits
	}
	if hits := countTriggerHits(normalized, highTriggers); hits > 0 {
		return RiskHigh, hits
	}
	if hits := countTriggerHits(normalized, mediumTriggers); hits > 0 {
		return RiskMedium, hits
	}
	return RiskLow, 0
}

func countTriggerHits(normalized string, triggers []string) int {
	hits := 0
	for _, trigger := range triggers {
		if strings.Contains(normalized, trigger) {
			hits++
		}
	}
	return hits
}

func detectDomains(normalized string) ([]string, map[string]int) {
	hitsByDomain := map[string]int{}
	detected := make([]string, 0, 2)
	for domain, keywords := range domainKeywords {
		if hits := countTriggerHits(normalized, keywords); hits > 0 {
			detected = append(detected, domain)
			hitsByDomain[domain] = hits
		}
	}
	sort.Strings(detected)
	return detected, hitsByDomain
}

func detectEntities(query string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(matches []string) {
		for _, m := range matches {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	add(yearEntityRegex.FindAllString(query, -1))
	add(currencyEntityRegex.FindAllString(query, -1))
	add(percentEntityRegex.FindAllString(query, -1))
	add(versionEntityRegex.FindAllString(query, -1))
	if len(out) > 16 {
		out = out[:16]
	}
	return out
}

// buildExpansionHints derives one hint per detected domain. Priority grows
// with that domain's own keyword hit count, so a query dense in medical
// vocabulary ranks its medical hint above an incidental technical one.
func buildExpansionHints(class RiskClass, domains []string, hitsByDomain map[string]int) []ExpansionHint {
	if len(domains) == 0 {
		return nil
	}
	hints := make([]ExpansionHint, 0, len(domains))
	for _, domain := range domains {
		hits := hitsByDomain[domain]
		priority := float64(hits) / float64(hits+1)
		hints = append(hints, ExpansionHint{
			Type:      "domain",
			Value:     domain,
			Priority:  priority,
			Mandatory: class >= RiskHigh && (domain == "medical" || domain == "legal" || domain == "safety"),
		})
	}
	return hints
}

// guardConfidence blends query length and matched signal count. Longer and
// more specific queries yield higher confidence; empty queries stay low but
// still classify.
func guardConfidence(normalized string, signalHits int) float64 {
	if normalized == "" {
		return 0.1
	}
	words := len(strings.Fields(normalized))
	confidence := 0.3
	switch {
	case words >= 12:
		confidence += 0.3
	case words >= 6:
		confidence += 0.2
	case words >= 3:
		confidence += 0.1
	}
	confidence += 0.1 * float64(signalHits)
	if confidence > 0.95 {
		confidence = 0.95
	}
	return confidence
}
