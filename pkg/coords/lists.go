package coords

import (
	"regexp"
	"strings"

	"github.com/menta2k/vlm-locate/pkg/types"
)

const numPat = `(-?\d+(?:\.\d+)?)`

var (
	nestedRe = regexp.MustCompile(`\[\s*\[\s*` + numPat + `\s*,\s*` + numPat + `\s*\]\s*,\s*\[\s*` +
		numPat + `\s*,\s*` + numPat + `\s*\]\s*\]`)
	bracketRe = regexp.MustCompile(`([\[(])\s*` + numPat + `\s*,\s*` + numPat +
		`(?:\s*,\s*` + numPat + `\s*,\s*` + numPat + `)?\s*([\])])`)

	labeledRe = regexp.MustCompile(`(?i)\b(bbox|bounding[ _-]?box|box|cent(?:er|re)(?:[ _-]?point)?|coordinates?|coords?|location|position|point)\s*[:=]\s*` +
		numPat + `\s*[,\s]\s*` + numPat + `(?:\s*[,\s]\s*` + numPat + `\s*[,\s]\s*` + numPat + `)?`)
	xyRe = regexp.MustCompile(`(?i)\bx\s*[:=]\s*` + numPat + `\s*[,;]?\s*(?:and\s+)?y\s*[:=]\s*` + numPat)
)

// groupFloats reads n consecutive numeric groups starting at group first
func groupFloats(s string, loc []int, first, n int) ([]float64, bool) {
	vals := make([]float64, 0, n)
	for g := first; g < first+n; g++ {
		a, b := loc[2*g], loc[2*g+1]
		if a < 0 {
			return nil, false
		}
		v, ok := parseNumber(s[a:b])
		if !ok {
			return nil, false
		}
		vals = append(vals, v)
	}
	return vals, true
}

// boxRow takes the midpoint of x1, y1, x2, y2
func (p *Parser) boxRow(vals []float64, shape types.Shape, confidence float64) (raw, bool) {
	x1, y1, x2, y2 := vals[0], vals[1], vals[2], vals[3]
	if x2 < x1 || y2 < y1 {
		return raw{}, false
	}
	return raw{
		h:          (x1 + x2) / 2,
		v:          (y1 + y2) / 2,
		space:      p.Classify(x1, y1, x2, y2),
		shape:      shape,
		confidence: confidence,
	}, true
}

func (p *Parser) pointRow(vals []float64, shape types.Shape, confidence float64) raw {
	return raw{h: vals[0], v: vals[1], space: p.Classify(vals[0], vals[1]), shape: shape, confidence: confidence}
}

func overlaps(spans [][2]int, a, b int) bool {
	for _, s := range spans {
		if a < s[1] && b > s[0] {
			return true
		}
	}
	return false
}

// parseBrackets reads [x, y], (x, y), [x1, y1, x2, y2] and [[x1, y1], [x2, y2]] in order of appearance
func (p *Parser) parseBrackets(s string) []raw {
	var ms []match
	var taken [][2]int

	for _, loc := range nestedRe.FindAllStringSubmatchIndex(s, -1) {
		taken = append(taken, [2]int{loc[0], loc[1]})
		if vals, ok := groupFloats(s, loc, 1, 4); ok {
			if r, ok := p.boxRow(vals, types.ShapeBracket, 0.8); ok {
				ms = append(ms, match{start: loc[0], row: r})
			}
		}
	}

	for _, loc := range bracketRe.FindAllStringSubmatchIndex(s, -1) {
		if overlaps(taken, loc[0], loc[1]) {
			continue
		}
		open, closing := s[loc[2]:loc[3]], s[loc[12]:loc[13]]
		if (open == "[") != (closing == "]") {
			continue
		}
		shape, conf := types.ShapeParen, 0.7
		if open == "[" {
			shape, conf = types.ShapeBracket, 0.8
		}
		if vals, ok := groupFloats(s, loc, 2, 4); ok {
			if r, ok := p.boxRow(vals, shape, conf); ok {
				ms = append(ms, match{start: loc[0], row: r})
			}
			continue
		}
		if vals, ok := groupFloats(s, loc, 2, 2); ok {
			ms = append(ms, match{start: loc[0], row: p.pointRow(vals, shape, conf)})
		}
	}
	return sortMatches(ms)
}

// parseLabeled reads "bbox: 1, 2, 3, 4", "center: 5 6" and "x=5, y=6" in order of appearance
func (p *Parser) parseLabeled(s string) []raw {
	var ms []match

	for _, loc := range labeledRe.FindAllStringSubmatchIndex(s, -1) {
		label := strings.ToLower(s[loc[2]:loc[3]])
		conf := 0.8
		switch {
		case strings.HasPrefix(label, "b"):
			conf = 0.9
		case strings.HasPrefix(label, "cent"):
			conf = 0.85
		}
		if vals, ok := groupFloats(s, loc, 2, 4); ok {
			if r, ok := p.boxRow(vals, types.ShapeLabeled, conf); ok {
				ms = append(ms, match{start: loc[0], row: r})
			}
			continue
		}
		if vals, ok := groupFloats(s, loc, 2, 2); ok {
			ms = append(ms, match{start: loc[0], row: p.pointRow(vals, types.ShapeLabeled, conf)})
		}
	}

	for _, loc := range xyRe.FindAllStringSubmatchIndex(s, -1) {
		if vals, ok := groupFloats(s, loc, 1, 2); ok {
			ms = append(ms, match{start: loc[0], row: p.pointRow(vals, types.ShapeLabeled, 0.8)})
		}
	}
	return sortMatches(ms)
}
