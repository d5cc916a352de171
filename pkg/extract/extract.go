// Package extract isolates the target object noun phrase from an English command
package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/pkg/types"
)

const determiners = `(?:all the |all |every |the |a |an |some |my |your |that |this )?`

// DefaultPatterns are tried in order; group 1 is the object
var DefaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bgrab (?:me )?` + determiners + `(.+?) (?:to|for) me\b`),
	regexp.MustCompile(`\b(?:bring|fetch|get|hand|pass|give|grab) (?:me )?` + determiners + `(.+?)(?: (?:to|for) me)?$`),
	regexp.MustCompile(`\bshow me (?:where )?` + determiners + `(.+?)(?: is| are)?$`),
	regexp.MustCompile(`\b(?:where is|where are|where's) ` + determiners + `(.+?)$`),
	regexp.MustCompile(`\b(?:find|locate|identify|detect|spot|look for|search for|point to|point at) (?:me )?` + determiners +
		`(.+?)(?: for me)?(?: in (?:the|this|that) (?:image|picture|photo|scene))?$`),
}

// DefaultStopwords are removed by the fallback before whatever remains is taken as the object
var DefaultStopwords = []string{
	"please", "the", "a", "an", "all", "some", "my", "find", "locate", "detect", "identify",
	"grab", "get", "bring", "fetch", "show", "me", "to", "for", "where", "is", "are", "can",
	"could", "would", "you", "i", "want", "need", "in", "this", "that", "image", "picture",
	"photo", "of", "and", "it",
}

// phraseSynonyms are replaced before word-level synonyms
var phraseSynonyms = [][2]string{
	{"mobile phone", "phone"},
	{"cell phone", "phone"},
	{"coca-cola", "coke"},
	{"coca cola", "coke"},
}

// DefaultSynonyms folds common variants onto one name
var DefaultSynonyms = map[string]string{
	"automobile": "car",
	"vehicle":    "car",
	"motorbike":  "motorcycle",
	"bike":       "bicycle",
	"plane":      "airplane",
	"aeroplane":  "airplane",
	"people":     "person",
	"human":      "person",
	"cellphone":  "phone",
	"smartphone": "phone",
	"cola":       "coke",
}

var colorWords = map[string]bool{
	"red": true, "blue": true, "green": true, "yellow": true, "black": true, "white": true,
	"orange": true, "purple": true, "pink": true, "brown": true, "gray": true, "grey": true,
}

var sizeWords = map[string]bool{
	"big": true, "small": true, "large": true, "tiny": true, "huge": true, "little": true,
}

// Extractor pulls a TargetObject out of a command
type Extractor struct {
	patterns  []*regexp.Regexp
	stopwords map[string]bool
	synonyms  map[string]string
}

// New returns an Extractor over the default tables
func New() *Extractor {
	return NewWith(DefaultPatterns, DefaultStopwords, DefaultSynonyms)
}

// NewWith builds an Extractor from custom tables
func NewWith(patterns []*regexp.Regexp, stopwords []string, synonyms map[string]string) *Extractor {
	sw := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		sw[w] = true
	}
	return &Extractor{patterns: patterns, stopwords: sw, synonyms: synonyms}
}

// Extract returns the target object or an ObjectNotIdentified error
func (e *Extractor) Extract(command string) (types.TargetObject, error) {
	s := normalize(command)

	for _, re := range e.patterns {
		m := re.FindStringSubmatch(s)
		if len(m) < 2 {
			continue
		}
		if obj := trimObject(m[1]); obj != "" && !e.onlyStopwords(obj) {
			return e.target(obj), nil
		}
	}

	var rest []string
	for _, w := range strings.Fields(s) {
		w = strings.TrimFunc(w, unicode.IsPunct)
		if w != "" && !e.stopwords[w] {
			rest = append(rest, w)
		}
	}
	if len(rest) == 0 {
		return types.TargetObject{}, perr.Newf(perr.ErrorCodeObjectNotIdentified, "no object found in command %q", command)
	}
	return e.target(strings.Join(rest, " ")), nil
}

func (e *Extractor) onlyStopwords(obj string) bool {
	for _, w := range strings.Fields(obj) {
		if !e.stopwords[w] {
			return false
		}
	}
	return true
}

func (e *Extractor) target(obj string) types.TargetObject {
	obj = e.canonical(obj)
	t := types.TargetObject{Name: obj}
	for _, w := range strings.Fields(obj) {
		if colorWords[w] {
			t.HasColor = true
		}
		if sizeWords[w] {
			t.HasSize = true
		}
	}
	return t
}

func (e *Extractor) canonical(obj string) string {
	for _, p := range phraseSynonyms {
		obj = strings.ReplaceAll(obj, p[0], p[1])
	}
	words := strings.Fields(obj)
	for i, w := range words {
		if s, ok := e.synonyms[w]; ok {
			words[i] = s
		}
	}
	return strings.Join(words, " ")
}

func normalize(s string) string {
	s = cases.Fold().String(width.Fold.String(strings.Join(strings.Fields(s), " ")))
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) && r != '-' || unicode.IsSpace(r) })
	s = strings.TrimSuffix(s, " please")
	s = strings.TrimSuffix(s, ",")
	return strings.TrimPrefix(s, "please ")
}

func trimObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " please")
	s = strings.TrimSuffix(s, " for me")
	for _, p := range []string{"the ", "a ", "an "} {
		s = strings.TrimPrefix(s, p)
	}
	return strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
}
