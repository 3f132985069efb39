package engine

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FactConfig controls fact extraction. ConfidenceThreshold is a hard
// post-filter: facts below it are excluded entirely, not down-weighted.
type FactConfig struct {
	ConfidenceThreshold float64
}

// DefaultFactConfig returns the standard extraction settings.
func DefaultFactConfig() FactConfig {
	return FactConfig{ConfidenceThreshold: 0.5}
}

const (
	minQuoteLength  = 12
	factContextSpan = 40

	confidenceCurrency   = 0.90
	confidenceNumberUnit = 0.85
	confidenceBareNumber = 0.55
	confidenceQuoteAttr  = 0.90
	confidenceQuote      = 0.70
	confidenceCode       = 0.80
)

var (
	numberUnitRegex = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(GB|MB|KB|TB|PB|ms|ns|µs|seconds?|secs?|minutes?|mins?|hours?|hrs?|days?|weeks?|months?|years?|%|percent|kg|g|mg|km|m|cm|mm|mph|km/h|requests?|qps|tokens?)\b`)
	currencyFactRegex = regexp.MustCompile(`\$(\d+(?:[.,]\d+)?)\s?([KkMmBb])?\b`)
	bareNumberRegex   = regexp.MustCompile(`\b\d+(?:\.\d+)?\b`)
	quotedTextRegex   = regexp.MustCompile(`"([^"\n]+)"`)
	inlineCodeRegex   = regexp.MustCompile("`([^`\n]+)`")
	attributionRegex  = regexp.MustCompile(`(?i)\b(?:said|says|according to|wrote|stated|noted)\b`)
)

// ExtractFacts runs independent pattern passes (numbers with units, quoted
// text, inline code) over chunk text and returns every match at or above the
// confidence threshold. Overlapping matches across passes are intentionally
// kept; downstream consumers decide how to merge.
func ExtractFacts(text, chunkID string, cfg FactConfig) []Fact {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultFactConfig().ConfidenceThreshold
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	facts := []Fact{}
	add := func(f Fact) {
		if f.Confidence < cfg.ConfidenceThreshold {
			return
		}
		f.ID = uuid.NewString()
		f.ChunkID = chunkID
		facts = append(facts, f)
	}

	for _, loc := range numberUnitRegex.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[2]:loc[3]]
		unit := text[loc[4]:loc[5]]
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		add(Fact{
			Type:       FactNumber,
			Value:      value,
			Context:    surroundingContext(text, loc[0], loc[1]),
			Confidence: confidenceNumberUnit,
			Metadata:   map[string]string{"unit": unit},
		})
	}

	for _, loc := range currencyFactRegex.FindAllStringSubmatchIndex(text, -1) {
		raw := strings.ReplaceAll(text[loc[2]:loc[3]], ",", "")
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		meta := map[string]string{"unit": "USD"}
		if loc[4] >= 0 {
			switch strings.ToUpper(text[loc[4]:loc[5]]) {
			case "K":
				value *= 1e3
			case "M":
				value *= 1e6
			case "B":
				value *= 1e9
			}
			meta["suffix"] = text[loc[4]:loc[5]]
		}
		add(Fact{
			Type:       FactNumber,
			Value:      value,
			Context:    surroundingContext(text, loc[0], loc[1]),
			Confidence: confidenceCurrency,
			Metadata:   meta,
		})
	}

	for _, loc := range bareNumberLocations(text) {
		raw := text[loc[0]:loc[1]]
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		add(Fact{
			Type:       FactNumber,
			Value:      value,
			Context:    surroundingContext(text, loc[0], loc[1]),
			Confidence: confidenceBareNumber,
		})
	}

	for _, loc := range quotedTextRegex.FindAllStringSubmatchIndex(text, -1) {
		quoted := text[loc[2]:loc[3]]
		if len(quoted) < minQuoteLength {
			continue
		}
		confidence := confidenceQuote
		context := surroundingContext(text, loc[0], loc[1])
		if attributionRegex.MatchString(context) {
			confidence = confidenceQuoteAttr
		}
		add(Fact{
			Type:       FactQuote,
			Value:      quoted,
			Context:    context,
			Confidence: confidence,
		})
	}

	for _, loc := range inlineCodeRegex.FindAllStringSubmatchIndex(text, -1) {
		code := strings.TrimSpace(text[loc[2]:loc[3]])
		if code == "" {
			continue
		}
		add(Fact{
			Type:       FactCode,
			Value:      code,
			Context:    surroundingContext(text, loc[0], loc[1]),
			Confidence: confidenceCode,
		})
	}

	return facts
}

// bareNumberLocations finds standalone numeric literals that are not part of
// a unit or currency match, so the bare-number pass stays independent of the
// higher-specificity passes.
func bareNumberLocations(text string) [][2]int {
	covered := [][2]int{}
	for _, loc := range numberUnitRegex.FindAllStringIndex(text, -1) {
		covered = append(covered, [2]int{loc[0], loc[1]})
	}
	for _, loc := range currencyFactRegex.FindAllStringIndex(text, -1) {
		covered = append(covered, [2]int{loc[0], loc[1]})
	}

	out := [][2]int{}
	for _, loc := range bareNumberRegex.FindAllStringIndex(text, -1) {
		overlaps := false
		for _, c := range covered {
			if loc[0] < c[1] && loc[1] > c[0] {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, [2]int{loc[0], loc[1]})
		}
	}
	return out
}

// surroundingContext snaps the window to rune boundaries so the context
// never carries a split multibyte character.
func surroundingContext(text string, start, end int) string {
	from := start - factContextSpan
	if from < 0 {
		from = 0
	}
	for from > 0 && !utf8.RuneStart(text[from]) {
		from--
	}
	to := end + factContextSpan
	if to > len(text) {
		to = len(text)
	}
	for to < len(text) && !utf8.RuneStart(text[to]) {
		to++
	}
	return strings.TrimSpace(text[from:to])
}
