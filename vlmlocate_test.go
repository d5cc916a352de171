package vlmlocate

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/text/language"

	"github.com/menta2k/vlm-locate/internal/config"
	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/pkg/client"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// createTestImage creates a simple grey test image
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{64, 64, 64, 255})
		}
	}
	return img
}

type fakeClient struct {
	name  string
	reply string
	err   error
	calls atomic.Int32
	last  types.VisionRequest
}

func (f *fakeClient) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeClient) Query(_ context.Context, req types.VisionRequest) (string, error) {
	f.calls.Add(1)
	f.last = req
	return f.reply, f.err
}

func (f *fakeClient) Ping(context.Context) error { return nil }

func newLocator(t *testing.T, fc *fakeClient) *Locator {
	t.Helper()
	l, err := New(config.Default(), WithClient(fc), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func lastState(out *Outcome) State {
	if len(out.Trace) == 0 {
		return ""
	}
	return out.Trace[len(out.Trace)-1]
}

func TestLocateChineseCommandTable(t *testing.T) {
	fc := &fakeClient{reply: "| H | V | ID |\n|---|---|---|\n| 520 | 340 | 1 |"}
	l := newLocator(t, fc)
	img := createTestImage(1024, 768)

	out, err := l.Locate(context.Background(), Query{Command: "请帮我拿可乐给我", Image: img})
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	r := out.Result
	if !r.Found || r.Count != 1 || r.TargetObject != "coke" || r.Status != types.StatusFound {
		t.Fatalf("result = %+v", r)
	}
	if want := (types.Detection{ID: 1, X: 520, Y: 340, Confidence: r.Detections[0].Confidence}); r.Detections[0] != want {
		t.Errorf("detection = %+v", r.Detections[0])
	}
	if r.Command.Language != language.Chinese {
		t.Errorf("language = %v", r.Command.Language)
	}
	if fc.last.Width != 1024 || fc.last.Height != 768 || fc.last.Target != "coke" {
		t.Errorf("request = %dx%d %q", fc.last.Width, fc.last.Height, fc.last.Target)
	}
	if !strings.Contains(out.Prompt, "1024x768") {
		t.Errorf("prompt does not name the transmitted size: %q", out.Prompt)
	}
	if !out.Annotated || out.Image == image.Image(img) {
		t.Error("expected an annotated copy")
	}
	if !strings.Contains(r.Message, "coke is recognized") {
		t.Errorf("message = %q", r.Message)
	}
	want := []State{StateIdle, StateTranslating, StateExtracting, StateAwaiting, StateParsing, StateNormalizing, StateAnnotating, StateDone}
	if len(out.Trace) != len(want) {
		t.Fatalf("trace = %v", out.Trace)
	}
	for i := range want {
		if out.Trace[i] != want[i] {
			t.Errorf("trace[%d] = %s, want %s", i, out.Trace[i], want[i])
		}
	}
	if r.QueryID == "" {
		t.Error("missing query id")
	}
}

func TestLocateExplicitNotFound(t *testing.T) {
	fc := &fakeClient{reply: "I don't see a phone in this image"}
	l := newLocator(t, fc)
	img := createTestImage(320, 240)

	out, err := l.Locate(context.Background(), Query{Command: "find the phone", Image: img})
	if err != nil {
		t.Fatalf("explicit not-found must not be an error: %v", err)
	}
	r := out.Result
	if r.Found || r.Count != 0 || r.Status != types.StatusNotFound || len(r.Detections) != 0 {
		t.Errorf("result = %+v", r)
	}
	if out.Annotated || out.Image != image.Image(img) {
		t.Error("original image must be returned unannotated")
	}
	if lastState(out) != StateNotFound {
		t.Errorf("final state = %s", lastState(out))
	}
	if !strings.Contains(r.Message, "cannot locate the phone") {
		t.Errorf("message = %q", r.Message)
	}
}

func TestLocateBoundingBoxMidpoint(t *testing.T) {
	fc := &fakeClient{reply: "The cup is at [100, 100, 200, 200]."}
	l := newLocator(t, fc)

	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: createTestImage(640, 480)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Count != 1 || out.Result.Detections[0].X != 150 || out.Result.Detections[0].Y != 150 {
		t.Errorf("detections = %+v", out.Result.Detections)
	}
}

func TestLocateScalesToOriginal(t *testing.T) {
	fc := &fakeClient{reply: "| H | V | ID |\n| 520 | 340 | 1 |\n| 0.5 | 0.5 | 2 |"}
	l := newLocator(t, fc)

	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: createTestImage(2048, 1536)})
	if err != nil {
		t.Fatal(err)
	}
	d := out.Result.Image
	if d.TransmittedWidth != 1024 || d.TransmittedHeight != 768 || d.OriginalWidth != 2048 {
		t.Fatalf("descriptor = %+v", d)
	}
	got := out.Result.Detections
	if len(got) != 2 || got[0].X != 1040 || got[0].Y != 680 || got[1].X != 1024 || got[1].Y != 768 {
		t.Errorf("detections = %+v", got)
	}
}

func TestLocateUnparsed(t *testing.T) {
	fc := &fakeClient{reply: "It looks like a nice kitchen."}
	l := newLocator(t, fc)
	img := createTestImage(100, 100)

	out, err := l.Locate(context.Background(), Query{Command: "find the pen", Image: img})
	if !perr.IsCode(err, perr.ErrorCodeNoCandidatesParsed) {
		t.Fatalf("expected no_candidates_parsed, got %v", err)
	}
	if out.Result.Status != types.StatusUnparsed || out.Result.Found {
		t.Errorf("result = %+v", out.Result)
	}
	if out.Annotated || out.Image != image.Image(img) {
		t.Error("original image must be returned")
	}
	if !strings.Contains(out.Result.Message, "could not understand") {
		t.Errorf("message = %q", out.Result.Message)
	}
}

func TestLocateObjectNotIdentifiedSkipsProvider(t *testing.T) {
	fc := &fakeClient{reply: "| 1 | 1 | 1 |"}
	l := newLocator(t, fc)

	out, err := l.Locate(context.Background(), Query{Command: "can you find it for me", Image: createTestImage(10, 10)})
	if !perr.IsCode(err, perr.ErrorCodeObjectNotIdentified) {
		t.Fatalf("expected object_not_identified, got %v", err)
	}
	if fc.calls.Load() != 0 {
		t.Error("provider must not be called when no object was identified")
	}
	if out.Result.Status != types.StatusNotIdentified || lastState(out) != StateFailed {
		t.Errorf("status = %s, state = %s", out.Result.Status, lastState(out))
	}
}

func TestLocateProviderFailure(t *testing.T) {
	fc := &fakeClient{err: perr.Unavailablef("fake: 503 Service Unavailable")}
	l := newLocator(t, fc)
	img := createTestImage(50, 50)

	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: img})
	if !perr.IsCode(err, perr.ErrorCodeProviderUnavailable) {
		t.Fatalf("expected provider_unavailable, got %v", err)
	}
	if out.Result.Status != types.StatusFailed || out.Image != image.Image(img) {
		t.Errorf("result = %+v", out.Result)
	}
	if !strings.Contains(out.Result.Message, "the fake vision service could not be reached") {
		t.Errorf("message should name the provider: %q", out.Result.Message)
	}
	if out.Result.Code != "provider_unavailable" || out.Result.Provider != "fake" {
		t.Errorf("code = %q, provider = %q", out.Result.Code, out.Result.Provider)
	}
	if lastState(out) != StateFailed {
		t.Errorf("final state = %s", lastState(out))
	}
}

func TestLocateNoImage(t *testing.T) {
	l := newLocator(t, &fakeClient{})
	out, err := l.Locate(context.Background(), Query{Command: "find the cup"})
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) || out == nil {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestLocateUnknownProviderOverride(t *testing.T) {
	l := newLocator(t, &fakeClient{})
	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: createTestImage(10, 10), Provider: "nope"})
	if !perr.IsCode(err, perr.ErrorCodeUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	if out.Result.Provider != "nope" {
		t.Errorf("provider = %q", out.Result.Provider)
	}
}

func TestNewFallsBackToKeylessProvider(t *testing.T) {
	l, err := New(config.Default(), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if l.Provider() != "llamacpp" {
		t.Errorf("provider = %q, want first keyless provider", l.Provider())
	}
}

func TestNewWithProviderDoesNotFallBack(t *testing.T) {
	cfg := config.Default()
	ep := cfg.Providers["grok"]
	ep.APIKey = ""
	cfg.Providers["grok"] = ep

	if _, err := New(cfg, WithProvider("grok"), WithLogger(logger.Nop())); !perr.IsCode(err, perr.ErrorCodeAuthenticationMissing) {
		t.Fatalf("expected authentication_missing, got %v", err)
	}
	if _, err := New(cfg, WithProvider("gemini"), WithLogger(logger.Nop())); !perr.IsCode(err, perr.ErrorCodeUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
	l, err := New(cfg, WithProvider("llava"), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if l.Provider() != "llava" {
		t.Errorf("provider = %q", l.Provider())
	}
}

func TestSave(t *testing.T) {
	cfg := config.Default()
	cfg.Output.Dir = t.TempDir()
	cfg.Output.WriteJSON = true
	cfg.Image.OutputFormat = "png"
	fc := &fakeClient{reply: "| H | V | ID |\n| 20 | 20 | 1 |"}
	l, err := New(cfg, WithClient(fc), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}

	out, err := l.Locate(context.Background(), Query{Command: "find the red cup", Image: createTestImage(64, 64)})
	if err != nil {
		t.Fatal(err)
	}
	saved, err := l.Save(out, "/photos/desk.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(cfg.Output.Dir, "desk_red_cup_located.png"); saved.Image != want {
		t.Errorf("image path = %q, want %q", saved.Image, want)
	}
	data, err := os.ReadFile(saved.JSON)
	if err != nil {
		t.Fatal(err)
	}
	var r types.Result
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatal(err)
	}
	if !r.Found || r.Count != 1 || r.TargetObject != "red cup" {
		t.Errorf("saved result = %+v", r)
	}

	none, err := l.Save(&Outcome{}, "/photos/desk.jpg")
	if err != nil || none.Image != "" {
		t.Errorf("unannotated outcome saved: %+v, %v", none, err)
	}
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateDone, StateNotFound, StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StateParsing.Terminal() {
		t.Error("parsing is not terminal")
	}
}

func TestGetVersion(t *testing.T) {
	if GetVersion() != Version {
		t.Errorf("GetVersion() = %q", GetVersion())
	}
}

func TestLocateRejectsTinyImage(t *testing.T) {
	fc := &fakeClient{reply: "| 1 | 1 | 1 |"}
	l := newLocator(t, fc)
	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: createTestImage(4, 4)})
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
	if fc.calls.Load() != 0 {
		t.Error("provider called for an image below the minimum size")
	}
	r := out.Result
	if r.Code != "invalid_argument" || r.Provider != "" {
		t.Errorf("code = %q, provider = %q", r.Code, r.Provider)
	}
	if !strings.Contains(r.Message, "could not use that image") || strings.Contains(r.Message, "could not be reached") {
		t.Errorf("message = %q", r.Message)
	}
}

func TestLocateMalformedReplyIsNotUnreachable(t *testing.T) {
	fc := &fakeClient{err: perr.Malformedf("fake: no choices in response")}
	l := newLocator(t, fc)

	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: createTestImage(50, 50)})
	if !perr.IsCode(err, perr.ErrorCodeMalformedUpstreamResponse) {
		t.Fatalf("expected malformed_upstream_response, got %v", err)
	}
	if out.Result.Code != "malformed_upstream_response" {
		t.Errorf("code = %q", out.Result.Code)
	}
	if !strings.Contains(out.Result.Message, "could not read") || strings.Contains(out.Result.Message, "could not be reached") {
		t.Errorf("message = %q", out.Result.Message)
	}
}

func TestLocateRaceNamesTheWinner(t *testing.T) {
	loser := &fakeClient{name: "grok", err: perr.Unavailablef("grok: 503")}
	winner := &fakeClient{name: "kimi", reply: "| H | V | ID |\n| 20 | 20 | 1 |"}
	l, err := New(config.Default(), WithClient(client.FirstOf(loser, winner)), WithLogger(logger.Nop()))
	if err != nil {
		t.Fatal(err)
	}

	out, err := l.Locate(context.Background(), Query{Command: "find the cup", Image: createTestImage(64, 64)})
	if err != nil {
		t.Fatal(err)
	}
	if out.Result.Provider != "kimi" {
		t.Errorf("provider = %q, want the answering provider", out.Result.Provider)
	}
}
