package coords

import (
	"reflect"
	"strings"
	"testing"

	"github.com/menta2k/vlm-locate/pkg/types"
)

type point struct{ id, x, y int }

// located parses text for a w x h image sent unscaled and returns rounded points
func located(t *testing.T, p *Parser, text string, w, h int) (types.ParseOutcome, []point) {
	t.Helper()
	out := p.Parse(text, w, h)
	d := types.ImageDescriptor{OriginalWidth: w, OriginalHeight: h, TransmittedWidth: w, TransmittedHeight: h}
	var pts []point
	for _, det := range ScaleAll(out.Candidates, d) {
		pts = append(pts, point{det.ID, det.X, det.Y})
	}
	return out, pts
}

func TestParseTableRowsInOrder(t *testing.T) {
	p := MustParser(DefaultOptions())
	text := `Here is what I found:

| H | V | ID |
|---|---|----|
| 520 | 340 | 1 |
| 100 | 90 | 2 |
| 700 | 600 | 3 |
`
	out, pts := located(t, p, text, 1024, 768)
	if out.Status != types.ParseFound || out.Shape != types.ShapeTable {
		t.Fatalf("status=%v shape=%v", out.Status, out.Shape)
	}
	want := []point{{1, 520, 340}, {2, 100, 90}, {3, 700, 600}}
	if !reflect.DeepEqual(pts, want) {
		t.Errorf("got %v, want %v", pts, want)
	}
}

func TestParseHeaderlessTableRow(t *testing.T) {
	_, pts := located(t, MustParser(DefaultOptions()), "| 520 | 340 | 1 |", 1024, 768)
	if want := []point{{1, 520, 340}}; !reflect.DeepEqual(pts, want) {
		t.Errorf("got %v, want %v", pts, want)
	}
}

func TestParseTableHeaderVariants(t *testing.T) {
	p := MustParser(DefaultOptions())
	tests := []struct {
		name string
		text string
		want []point
	}{
		{
			name: "units and object id",
			text: "| X (px) | Y (px) | Object ID |\n| :-: | :-: | :-: |\n| 10 | 20 | 7 |",
			want: []point{{7, 10, 20}},
		},
		{
			name: "fullwidth",
			text: "｜Ｈ｜Ｖ｜ＩＤ｜\n｜５２０｜３４０｜１｜",
			want: []point{{1, 520, 340}},
		},
		{
			name: "reordered columns without id",
			text: "| Object | V | H |\n|---|---|---|\n| cup | 40 | 30 |\n| cup | 60 | 50 |",
			want: []point{{1, 30, 40}, {2, 50, 60}},
		},
		{
			name: "horizontal vertical words",
			text: "| Horizontal | Vertical | # |\n| 5 | 6 | 3 |",
			want: []point{{3, 5, 6}},
		},
		{
			name: "unparseable row skipped",
			text: "| H | V | ID |\n| abc | 340 | 1 |\n| 200 | 300 | 2 |\n| 1 | 2 |",
			want: []point{{2, 200, 300}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, pts := located(t, p, tt.text, 1024, 768)
			if !reflect.DeepEqual(pts, tt.want) {
				t.Errorf("got %v, want %v", pts, tt.want)
			}
		})
	}
}

func TestParseTableWinsOverOtherShapes(t *testing.T) {
	text := "| H | V | ID |\n| 10 | 10 | 1 |\nAlso maybe [500, 500, 600, 600]"
	out, pts := located(t, MustParser(DefaultOptions()), text, 1024, 768)
	if out.Shape != types.ShapeTable || len(pts) != 1 {
		t.Errorf("shapes were mixed: %+v", out)
	}
}

func TestParseSentinelRowIsNotFound(t *testing.T) {
	out := MustParser(DefaultOptions()).Parse("| H | V | ID |\n|---|---|---|\n| 0 | 0 | 0 |", 640, 480)
	if out.Status != types.ParseNotFound || len(out.Candidates) != 0 {
		t.Errorf("got %+v", out)
	}
}

func TestParseBracketBoundingBoxMidpoint(t *testing.T) {
	out, pts := located(t, MustParser(DefaultOptions()), "The coke is at [100, 100, 200, 200].", 1024, 768)
	if out.Shape != types.ShapeBracket {
		t.Errorf("shape = %v", out.Shape)
	}
	if want := []point{{1, 150, 150}}; !reflect.DeepEqual(pts, want) {
		t.Errorf("got %v, want %v", pts, want)
	}
}

func TestParseBracketAndParenLists(t *testing.T) {
	p := MustParser(DefaultOptions())
	tests := []struct {
		name string
		text string
		want []point
	}{
		{"points in order", "cups at (300, 200) and [50, 60]", []point{{1, 300, 200}, {2, 50, 60}}},
		{"nested box", "box [[10, 20], [30, 40]] here", []point{{1, 20, 30}}},
		{"mismatched brackets ignored", "weird [10, 20) then (30, 40)", []point{{1, 30, 40}}},
		{"inverted box skipped", "[200, 200, 100, 100] and [5, 5]", []point{{1, 5, 5}}},
		{"near duplicates collapse", "[100, 100] again [104, 102]", []point{{1, 100, 100}}},
		{"code fence", "```\n[10, 10]\n```", []point{{1, 10, 10}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, pts := located(t, p, tt.text, 1024, 768)
			if !reflect.DeepEqual(pts, tt.want) {
				t.Errorf("got %v, want %v", pts, tt.want)
			}
		})
	}
}

func TestParseLabeled(t *testing.T) {
	p := MustParser(DefaultOptions())
	tests := []struct {
		name string
		text string
		want []point
	}{
		{"bbox", "bbox: 10, 20, 30, 40", []point{{1, 20, 30}}},
		{"center ratio", "Center: 0.5, 0.25", []point{{1, 500, 200}}},
		{"center space separated", "center point = 120 80", []point{{1, 120, 80}}},
		{"xy", "The cup sits at x=100, y=200.", []point{{1, 100, 200}}},
		{"order of appearance", "x: 1, y: 2 and then bbox: 10, 10, 20, 20", []point{{1, 1, 2}, {2, 15, 15}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, pts := located(t, p, tt.text, 1000, 800)
			if out.Shape != types.ShapeLabeled {
				t.Errorf("shape = %v", out.Shape)
			}
			if !reflect.DeepEqual(pts, tt.want) {
				t.Errorf("got %v, want %v", pts, tt.want)
			}
		})
	}
}

func TestParseDescriptiveFallback(t *testing.T) {
	p := MustParser(DefaultOptions())
	out, pts := located(t, p, "The phone is in the top left corner of the desk.", 1000, 800)
	if out.Shape != types.ShapeDescriptive || out.Candidates[0].Confidence != 0.3 {
		t.Errorf("got %+v", out)
	}
	if want := []point{{1, 200, 160}}; !reflect.DeepEqual(pts, want) {
		t.Errorf("got %v, want %v", pts, want)
	}

	// no affirmation, no candidate
	out = p.Parse("Top left, maybe?", 1000, 800)
	if out.Status != types.ParseUnparsed {
		t.Errorf("descriptive without affirmation should not parse: %+v", out)
	}
}

func TestParseSightingWinsOverMentionOfAbsence(t *testing.T) {
	p := MustParser(DefaultOptions())
	tests := []struct {
		text string
		want []point
	}{
		{"I found the cup in the top left corner. There is no other cup in the image.", []point{{1, 200, 160}}},
		{"The phone is located at the center of the table; no other phones are visible.", []point{{1, 500, 400}}},
	}
	for _, tt := range tests {
		out, pts := located(t, p, tt.text, 1000, 800)
		if out.Status != types.ParseFound || out.Shape != types.ShapeDescriptive {
			t.Errorf("Parse(%q) = %+v", tt.text, out)
		}
		if !reflect.DeepEqual(pts, tt.want) {
			t.Errorf("Parse(%q) = %v, want %v", tt.text, pts, tt.want)
		}
	}
}

func TestParseDenialIsNotAnAffirmation(t *testing.T) {
	p := MustParser(DefaultOptions())
	for _, text := range []string{
		"The cup is not found in the top left corner.",
		"There are no cups visible in the center.",
		"The mug could not be found; the center of the table is empty.",
	} {
		if out := p.Parse(text, 1000, 800); out.Status != types.ParseNotFound {
			t.Errorf("Parse(%q) status = %v, want not_found", text, out.Status)
		}
	}
}

func TestParseExplicitNotFound(t *testing.T) {
	p := MustParser(DefaultOptions())
	for _, text := range []string{
		"no object found in the image",
		"I don't see a phone in this image",
		"I don’t see a phone in this image",
		"Sorry, I cannot locate any coke here.",
		"There is no bicycle in the picture.",
		"No cup is visible.",
	} {
		out := p.Parse(text, 640, 480)
		if out.Status != types.ParseNotFound {
			t.Errorf("Parse(%q) status = %v, want not_found", text, out.Status)
		}
		if out.Candidates == nil || len(out.Candidates) != 0 {
			t.Errorf("Parse(%q) candidates = %v, want empty non-nil", text, out.Candidates)
		}
	}
}

func TestParseUnparsedIsDistinct(t *testing.T) {
	out := MustParser(DefaultOptions()).Parse("The weather looks nice today.", 640, 480)
	if out.Status != types.ParseUnparsed {
		t.Errorf("status = %v, want unparsed", out.Status)
	}
}

func TestParseBoundaryRetainedAndClamped(t *testing.T) {
	text := "| H | V | ID |\n| 0 | 0 | 1 |\n| 1024 | 768 | 2 |"
	out, pts := located(t, MustParser(DefaultOptions()), text, 1024, 768)
	want := []point{{1, 0, 0}, {2, 1023, 767}}
	if !reflect.DeepEqual(pts, want) {
		t.Errorf("got %v, want %v", pts, want)
	}
	if out.Candidates[0].Clamped || !out.Candidates[1].Clamped {
		t.Errorf("clamp flags wrong: %+v", out.Candidates)
	}
}

func TestParseDropsImplausible(t *testing.T) {
	p := MustParser(DefaultOptions())

	out := p.Parse("[5000, 10]", 1024, 768)
	if out.Status != types.ParseUnparsed || out.Dropped != 1 {
		t.Errorf("all-dropped should degrade to unparsed: %+v", out)
	}

	out = p.Parse("[-5, 10] and [300, 300]", 1024, 768)
	if len(out.Candidates) != 1 || out.Dropped != 1 || out.Candidates[0].H != 300 {
		t.Errorf("negative should be dropped: %+v", out)
	}

	// within the lenient bound, clamped
	out = p.Parse("[2000, 10]", 1024, 768)
	if len(out.Candidates) != 1 || out.Candidates[0].H != 1023 {
		t.Errorf("lenient value should clamp: %+v", out)
	}
}

func TestLenientFactorConfigurable(t *testing.T) {
	opts := DefaultOptions()
	opts.LenientFactor = 1.1
	out := MustParser(opts).Parse("[2000, 10]", 1024, 768)
	if out.Status != types.ParseUnparsed {
		t.Errorf("factor 1.1 should reject 2000 of 1024: %+v", out)
	}
}

func TestClassify(t *testing.T) {
	p := MustParser(DefaultOptions())
	tests := []struct {
		vals []float64
		want types.CoordinateSpace
	}{
		{[]float64{0.5, 0.5}, types.SpaceRatio},
		{[]float64{1.04, 0.2}, types.SpaceRatio},
		{[]float64{0, 0}, types.SpaceRatio},
		// magnitude is all the parser has; (1, 1) reads as the far corner
		{[]float64{1, 1}, types.SpaceRatio},
		{[]float64{1.2, 0.5}, types.SpaceTransmittedPixel},
		{[]float64{0.9, 12}, types.SpaceTransmittedPixel},
		{[]float64{-0.1, 0.5}, types.SpaceTransmittedPixel},
	}
	for _, tt := range tests {
		if got := p.Classify(tt.vals...); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.vals, got, tt.want)
		}
	}
}

func TestParseDeterministic(t *testing.T) {
	p := MustParser(DefaultOptions())
	text := "objects: [10, 20], (30, 40), bbox: 1, 2, 3, 4, [[5, 5], [9, 9]]"
	first := p.Parse(text, 640, 480)
	for i := 0; i < 20; i++ {
		if again := p.Parse(text, 640, 480); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
	}
}

func TestParseZeroDimensions(t *testing.T) {
	if out := MustParser(DefaultOptions()).Parse("[1, 2]", 0, 10); out.Status != types.ParseUnparsed {
		t.Errorf("zero width should not parse: %+v", out)
	}
}

func TestNewParserRejectsBadPattern(t *testing.T) {
	opts := DefaultOptions()
	opts.NotFoundPatterns = []string{"("}
	if _, err := NewParser(opts); err == nil {
		t.Error("expected compile error")
	}
}

func BenchmarkParseTable(b *testing.B) {
	p := MustParser(DefaultOptions())
	var sb strings.Builder
	sb.WriteString("| H | V | ID |\n|---|---|---|\n")
	for i := 1; i <= 20; i++ {
		sb.WriteString("| 100 | 200 | 1 |\n")
	}
	text := sb.String()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Parse(text, 1024, 768)
	}
}

func BenchmarkParseProse(b *testing.B) {
	p := MustParser(DefaultOptions())
	text := strings.Repeat("The cup might be around here. ", 40) + "bbox: 100, 120, 200, 220"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Parse(text, 1024, 768)
	}
}
