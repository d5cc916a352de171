package coords

import (
	"regexp"

	"github.com/menta2k/vlm-locate/pkg/types"
)

var affirmRe = regexp.MustCompile(`(?i)\b(?:found|located|i see|i can see|visible|appears?|there (?:is|are)|is (?:in|at|on|near|located|positioned|placed|sitting|lying)|sits|rests)\b`)

type position struct {
	re   *regexp.Regexp
	h, v float64
}

// positions are ratio centers of the named regions, compound names first
var positions = []position{
	{regexp.MustCompile(`(?i)\b(?:top|upper)[\s-]*left\b`), 0.2, 0.2},
	{regexp.MustCompile(`(?i)\b(?:top|upper)[\s-]*right\b`), 0.8, 0.2},
	{regexp.MustCompile(`(?i)\b(?:bottom|lower)[\s-]*left\b`), 0.2, 0.8},
	{regexp.MustCompile(`(?i)\b(?:bottom|lower)[\s-]*right\b`), 0.8, 0.8},
	{regexp.MustCompile(`(?i)\b(?:cent(?:er|re)|middle)\b`), 0.5, 0.5},
	{regexp.MustCompile(`(?i)\bleft\b`), 0.15, 0.5},
	{regexp.MustCompile(`(?i)\bright\b`), 0.85, 0.5},
	{regexp.MustCompile(`(?i)\b(?:top|upper)\b`), 0.5, 0.15},
	{regexp.MustCompile(`(?i)\b(?:bottom|lower)\b`), 0.5, 0.85},
}

// parseDescriptive maps a named region to a single low-confidence ratio candidate
// It only fires when the text affirms that something was seen
func (p *Parser) parseDescriptive(s string) []raw {
	if !p.affirms(s) {
		return nil
	}
	for _, pos := range positions {
		if pos.re.MatchString(s) {
			return []raw{{
				id:         1,
				h:          pos.h,
				v:          pos.v,
				space:      types.SpaceRatio,
				shape:      types.ShapeDescriptive,
				confidence: 0.3,
			}}
		}
	}
	return nil
}

// affirms reports an affirming phrase that is not part of a not-found phrase,
// so "not found" or "there is no" never count as a sighting
func (p *Parser) affirms(s string) bool {
	var denials [][]int
	for _, re := range p.notFound {
		denials = append(denials, re.FindAllStringIndex(s, -1)...)
	}
next:
	for _, m := range affirmRe.FindAllStringIndex(s, -1) {
		for _, d := range denials {
			if m[0] < d[1] && d[0] < m[1] {
				continue next
			}
		}
		return true
	}
	return false
}
