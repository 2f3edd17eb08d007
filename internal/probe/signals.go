package probe

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Profile carries the structural signals extracted from a text sample.
// Ratios are over non-empty lines; paragraph lengths are characters between
// blank-line runs.
type Profile struct {
	HeadingRatio     float64  `json:"heading_ratio"`
	ListRatio        float64  `json:"list_ratio"`
	TableRatio       float64  `json:"table_ratio"`
	CodeRatio        float64  `json:"code_ratio"`
	P50ParaLen       int      `json:"p50_para_len"`
	P90ParaLen       int      `json:"p90_para_len"`
	DigitSymbolRatio float64  `json:"digit_symbol_ratio"`
	SourceFormat     string   `json:"source_format,omitempty"`
	Samples          []string `json:"samples,omitempty"`
}

var (
	// ATX headings, decimal numerators like 2.1.3, bracketed numerators,
	// and Chinese ordinal prefixes.
	headingPattern = regexp.MustCompile(`^(#{1,6}\s+|\d+(\.\d+)*[.)]?\s*|\d+\.\[[^\]]*\]\s*|[一二三四五六七八九十]+、\s*)`)
	listPattern    = regexp.MustCompile(`^([-*+•]\s+|\d+\.\s+)`)
	codePattern    = regexp.MustCompile("```|\\bclass\\b|\\bdef\\b|\\bfunction\\b|;\\s*$")
	paraSplit      = regexp.MustCompile(`\n\s*\n`)
)

// ExtractSignals builds a Profile from one or more text samples.
func ExtractSignals(samples []string) (Profile, error) {
	if len(samples) == 0 {
		return Profile{}, fmt.Errorf("at least one text sample is required for probing")
	}

	lines := nonEmptyLines(samples)
	totalLines := len(lines)
	if totalLines == 0 {
		totalLines = 1
	}

	var headingHits, listHits, tableHits, codeHits int
	var digitSymbolCount, totalChars int
	for _, line := range lines {
		if headingPattern.MatchString(line) {
			headingHits++
		}
		if listPattern.MatchString(line) {
			listHits++
		}
		if strings.Count(line, "|") >= 2 || strings.Count(line, ",") >= 3 {
			tableHits++
		}
		if codePattern.MatchString(line) {
			codeHits++
		}
		for _, r := range line {
			totalChars++
			if !unicode.IsLetter(r) {
				digitSymbolCount++
			}
		}
	}
	if totalChars == 0 {
		totalChars = 1
	}

	paraLens := paragraphLengths(samples)
	return Profile{
		HeadingRatio:     float64(headingHits) / float64(totalLines),
		ListRatio:        float64(listHits) / float64(totalLines),
		TableRatio:       float64(tableHits) / float64(totalLines),
		CodeRatio:        float64(codeHits) / float64(totalLines),
		P50ParaLen:       int(quantile(paraLens, 0.5)),
		P90ParaLen:       int(quantile(paraLens, 0.9)),
		DigitSymbolRatio: float64(digitSymbolCount) / float64(totalChars),
		Samples:          samples,
	}, nil
}

func nonEmptyLines(samples []string) []string {
	var lines []string
	for _, text := range samples {
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				lines = append(lines, s)
			}
		}
	}
	return lines
}

func paragraphLengths(samples []string) []float64 {
	var lengths []float64
	for _, text := range samples {
		if text == "" {
			continue
		}
		for _, part := range paraSplit.Split(text, -1) {
			if clean := strings.TrimSpace(part); clean != "" {
				lengths = append(lengths, float64(len(clean)))
			}
		}
	}
	return lengths
}

// quantile interpolates linearly; empty input yields 0.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := float64(len(sorted)-1) * q
	low := int(pos)
	high := low + 1
	if high > len(sorted)-1 {
		high = len(sorted) - 1
	}
	if low == high {
		return sorted[low]
	}
	frac := pos - float64(low)
	return sorted[low]*(1-frac) + sorted[high]*frac
}

// DetectDelimiterHits returns the largest non-blank segment count any one
// delimiter can split a sample into. Invalid regexes are skipped.
func DetectDelimiterHits(samples, delimiters []string) int {
	if len(samples) == 0 || len(delimiters) == 0 {
		return 0
	}
	maxSegments := 0
	for _, delim := range delimiters {
		pattern, err := regexp.Compile(delim)
		if err != nil {
			continue
		}
		for _, text := range samples {
			if text == "" {
				continue
			}
			segments := 0
			for _, seg := range pattern.Split(text, -1) {
				if strings.TrimSpace(seg) != "" {
					segments++
				}
			}
			if segments > maxSegments {
				maxSegments = segments
			}
		}
	}
	return maxSegments
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Rounded limits every ratio to 3 decimals for API and task outputs.
func (p Profile) Rounded() Profile {
	out := p
	out.HeadingRatio = round3(p.HeadingRatio)
	out.ListRatio = round3(p.ListRatio)
	out.TableRatio = round3(p.TableRatio)
	out.CodeRatio = round3(p.CodeRatio)
	out.DigitSymbolRatio = round3(p.DigitSymbolRatio)
	return out
}
