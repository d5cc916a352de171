// Package translate turns Chinese object-finding commands into English ones using ordered rule tables.
//
// Translation is best effort: text with no matching rule is returned unchanged and the caller
// carries on with it.
package translate

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Translator applies command rules, then noun rules to the captured object
type Translator struct {
	rules []Rule
	nouns []Noun
}

// Option customizes a Translator
type Option func(*Translator)

// WithRules replaces the command rule table
func WithRules(rules []Rule) Option { return func(t *Translator) { t.rules = rules } }

// WithNouns replaces the noun table
func WithNouns(nouns []Noun) Option { return func(t *Translator) { t.nouns = nouns } }

// New returns a Translator over the default tables
func New(opts ...Option) *Translator {
	t := &Translator{rules: DefaultRules, nouns: DefaultNouns}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Translate returns the English command and whether any rule applied
// Text without CJK characters is returned byte for byte
func (t *Translator) Translate(text string) (string, bool) {
	if !NeedsTranslation(text) {
		return text, false
	}
	s := fold(text)

	for _, r := range t.rules {
		m := r.Pattern.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		idx := r.Pattern.SubexpIndex("object")
		if idx < 0 || idx >= len(m) {
			continue
		}
		obj := t.translateNoun(cleanObject(m[idx]))
		if obj == "" {
			continue
		}
		return strings.ReplaceAll(r.Template, "{object}", obj), true
	}

	if obj := t.translateNoun(cleanObject(s)); obj != cleanObject(s) {
		return obj, true
	}
	return text, false
}

// translateNoun maps a phrase through the noun table
// The first object entry and the first color entry found in the phrase are combined
func (t *Translator) translateNoun(phrase string) string {
	var object, color *Noun
	for i := range t.nouns {
		n := &t.nouns[i]
		if !strings.Contains(phrase, n.Source) {
			continue
		}
		switch n.Kind {
		case KindObject:
			if object == nil {
				object = n
			}
		case KindColor:
			if color == nil {
				color = n
			}
		}
	}
	switch {
	case object == nil && color == nil:
		return phrase
	case object == nil:
		return color.Target
	case color == nil || strings.Contains(object.Source, color.Source):
		return object.Target
	default:
		return color.Target + " " + object.Target
	}
}

var objectAffixes = []string{"图中的", "图片中的", "图里的", "那个", "这个", "一个", "一瓶", "一罐", "一杯"}

func cleanObject(s string) string {
	s = strings.TrimSpace(s)
	for _, p := range objectAffixes {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.TrimSuffix(s, "的")
	return strings.TrimSpace(s)
}

// fold normalizes width and compatibility forms and drops trailing punctuation
func fold(s string) string {
	s = norm.NFKC.String(width.Fold.String(s))
	s = strings.TrimSpace(s)
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r) || r == '~'
	})
}

// NeedsTranslation reports whether text contains CJK script characters
func NeedsTranslation(text string) bool {
	for _, r := range text {
		if isCJK(r) {
			return true
		}
	}
	return false
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

// DetectLanguage tags text by the script it is written in
func DetectLanguage(text string) language.Tag {
	var han, kana, hangul bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana = true
		case unicode.Is(unicode.Hangul, r):
			hangul = true
		case unicode.Is(unicode.Han, r):
			han = true
		}
	}
	switch {
	case kana:
		return language.Japanese
	case hangul:
		return language.Korean
	case han:
		return language.Chinese
	default:
		return language.English
	}
}
