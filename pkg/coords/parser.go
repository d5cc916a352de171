// Package coords reads object locations out of free-form model text and maps them onto the original image.
//
// Parse tries, in order: a pipe table with H/V columns, bracket or paren coordinate lists,
// labeled values such as "bbox: 10, 20, 30, 40", a descriptive position ("top left") when the
// text affirms a sighting, and finally an explicit not-found declaration. The first shape that
// yields at least one row wins; shapes are never mixed.
//
// Candidates returned by Parse are in transmitted-image pixels, validated against a lenient
// bound and clamped to [0, dim-1]. Scale maps them onto the original image.
package coords

import (
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"

	"github.com/menta2k/vlm-locate/pkg/types"
)

// Options tunes parsing and validation
type Options struct {
	// LenientFactor rejects values beyond factor*dimension
	LenientFactor float64
	// RatioEpsilon is the upper bound for a value to count as a ratio
	RatioEpsilon float64
	// DedupDistance drops list candidates closer than this many transmitted pixels to an earlier one, 0 disables
	DedupDistance float64
	// NotFoundPatterns are case-insensitive regular expressions declaring absence
	NotFoundPatterns []string
}

// DefaultNotFoundPatterns cover the phrasings seen from the supported providers
var DefaultNotFoundPatterns = []string{
	`no objects? (?:was |were )?(?:found|detected)`,
	`not (?:be )?found`,
	`(?:cannot|can't|can not|could not|couldn't|unable to) (?:locate|find|see|identify|detect)`,
	`(?:don't|do not|didn't|did not) see`,
	`there (?:is|are) no`,
	`(?:is|are) not (?:present|visible|in the (?:image|picture|photo))`,
	`no (?:\w+ ){0,3}(?:is |are )?(?:visible|present|detected|in (?:the|this) (?:image|picture|photo))`,
	`none (?:found|detected|visible)`,
}

// DefaultOptions returns the parser defaults
func DefaultOptions() Options {
	return Options{
		LenientFactor:    2.0,
		RatioEpsilon:     1.05,
		DedupDistance:    10,
		NotFoundPatterns: DefaultNotFoundPatterns,
	}
}

// Parser is safe for concurrent use
type Parser struct {
	opts     Options
	notFound []*regexp.Regexp
}

// NewParser compiles the not-found patterns; invalid ones are returned as errors
func NewParser(opts Options) (*Parser, error) {
	d := DefaultOptions()
	if opts.LenientFactor <= 0 {
		opts.LenientFactor = d.LenientFactor
	}
	if opts.RatioEpsilon <= 0 {
		opts.RatioEpsilon = d.RatioEpsilon
	}
	if opts.DedupDistance < 0 {
		opts.DedupDistance = 0
	}
	if opts.NotFoundPatterns == nil {
		opts.NotFoundPatterns = d.NotFoundPatterns
	}
	p := &Parser{opts: opts}
	for _, pat := range opts.NotFoundPatterns {
		re, err := regexp.Compile(`(?i)\b(?:` + pat + `)`)
		if err != nil {
			return nil, err
		}
		p.notFound = append(p.notFound, re)
	}
	return p, nil
}

// MustParser is NewParser for static options
func MustParser(opts Options) *Parser {
	p, err := NewParser(opts)
	if err != nil {
		panic(err)
	}
	return p
}

// Options returns the effective options
func (p *Parser) Options() Options { return p.opts }

// raw is a parsed row before validation, in whatever space the model used
type raw struct {
	id         int
	h, v       float64
	space      types.CoordinateSpace
	shape      types.Shape
	confidence float64
}

// Parse extracts candidates from one response for an image of width x height transmitted pixels
// Identical input always yields an identical outcome
func (p *Parser) Parse(text string, width, height int) types.ParseOutcome {
	out := types.ParseOutcome{Status: types.ParseUnparsed, Candidates: []types.Candidate{}}
	if width <= 0 || height <= 0 {
		return out
	}
	s := sanitize(text)

	rows, sentinels := p.parseTable(s)
	if len(rows) == 0 && sentinels > 0 {
		out.Status = types.ParseNotFound
		out.Shape = types.ShapeTable
		return out
	}
	dedup := false
	if len(rows) == 0 {
		rows = p.parseBrackets(s)
		dedup = true
	}
	if len(rows) == 0 {
		rows = p.parseLabeled(s)
	}
	if len(rows) == 0 {
		rows = p.parseDescriptive(s)
	}
	if len(rows) == 0 && p.declaresNotFound(s) {
		out.Status = types.ParseNotFound
		return out
	}
	if len(rows) == 0 {
		return out
	}

	out.Shape = rows[0].shape
	for _, r := range rows {
		c, ok := p.validate(r, width, height)
		if !ok {
			out.Dropped++
			continue
		}
		if dedup && p.duplicate(out.Candidates, c) {
			continue
		}
		out.Candidates = append(out.Candidates, c)
	}
	if len(out.Candidates) > 0 {
		out.Status = types.ParseFound
	}
	return out
}

// Classify reports the space of a coordinate pair from its magnitude
func (p *Parser) Classify(vals ...float64) types.CoordinateSpace {
	for _, v := range vals {
		if v < 0 || v > p.opts.RatioEpsilon {
			return types.SpaceTransmittedPixel
		}
	}
	return types.SpaceRatio
}

// validate resolves a row to transmitted pixels, drops implausible values and clamps the rest
func (p *Parser) validate(r raw, width, height int) (types.Candidate, bool) {
	w, h := float64(width), float64(height)
	x, y := r.h, r.v
	if r.space == types.SpaceRatio {
		x, y = x*w, y*h
	}
	if math.IsNaN(x) || math.IsNaN(y) || x < 0 || y < 0 ||
		x > p.opts.LenientFactor*w || y > p.opts.LenientFactor*h {
		return types.Candidate{}, false
	}
	c := types.Candidate{
		ID:         r.id,
		H:          x,
		V:          y,
		Space:      types.SpaceTransmittedPixel,
		Origin:     r.space,
		Shape:      r.shape,
		Confidence: r.confidence,
	}
	if x > w-1 {
		c.H, c.Clamped = w-1, true
	}
	if y > h-1 {
		c.V, c.Clamped = h-1, true
	}
	if c.Clamped && c.Confidence > 0.7 {
		c.Confidence = 0.7
	}
	return c, true
}

func (p *Parser) duplicate(kept []types.Candidate, c types.Candidate) bool {
	if p.opts.DedupDistance <= 0 {
		return false
	}
	for _, k := range kept {
		if math.Hypot(k.H-c.H, k.V-c.V) < p.opts.DedupDistance {
			return true
		}
	}
	return false
}

func (p *Parser) declaresNotFound(s string) bool {
	for _, re := range p.notFound {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// DeclaresNotFound reports whether text matches a not-found phrase
func (p *Parser) DeclaresNotFound(text string) bool { return p.declaresNotFound(sanitize(text)) }

var quoteFolder = strings.NewReplacer("\r\n", "\n", "\u2019", "'", "\u2018", "'")

var fenceLine = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")

// sanitize drops code fences and folds fullwidth digits and punctuation to ASCII
func sanitize(s string) string {
	s = fenceLine.ReplaceAllString(s, "")
	s = width.Fold.String(s)
	s = norm.NFKC.String(s)
	return quoteFolder.Replace(s)
}

// parseNumber reads a cell or match as a float, tolerating a px suffix
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimSuffix(s, "px")
	s = strings.TrimSpace(strings.Trim(s, "*`"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

type match struct {
	start int
	row   raw
}

func sortMatches(ms []match) []raw {
	sort.SliceStable(ms, func(i, j int) bool { return ms[i].start < ms[j].start })
	rows := make([]raw, 0, len(ms))
	for i, m := range ms {
		m.row.id = i + 1
		rows = append(rows, m.row)
	}
	return rows
}
