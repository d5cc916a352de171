// Package vlmlocate finds objects named in a spoken or typed command inside an image.
//
// A query runs once through a fixed pipeline:
//
//	Idle → Translating → Extracting → AwaitingProviderResponse → Parsing → Normalizing → Annotating → Done
//
// Chinese commands are translated to English, the target object is extracted,
// a vision-language model is asked where the object is, the free-form answer is
// parsed into coordinates, the coordinates are scaled back to the original image
// and a star is drawn on a copy of it.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	loc, err := vlmlocate.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	out, err := loc.LocateFile(ctx, "请帮我拿可乐给我", "desk.jpg")
//	fmt.Println(out.Result.Message)
//
// Extraction failures stop the query before any network call. Provider
// failures, explicit not-found answers and unreadable answers each end in a
// distinct status, and in every case other than found the original image is
// returned unannotated.
package vlmlocate

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/menta2k/vlm-locate/internal/config"
	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/internal/utils"
	"github.com/menta2k/vlm-locate/pkg/annotate"
	"github.com/menta2k/vlm-locate/pkg/client"
	"github.com/menta2k/vlm-locate/pkg/coords"
	"github.com/menta2k/vlm-locate/pkg/detection"
	"github.com/menta2k/vlm-locate/pkg/extract"
	"github.com/menta2k/vlm-locate/pkg/processing"
	"github.com/menta2k/vlm-locate/pkg/response"
	"github.com/menta2k/vlm-locate/pkg/translate"
	"github.com/menta2k/vlm-locate/pkg/types"
)

// Version of the vlm-locate library
const Version = "1.0.0"

// State is one step of a query
type State string

const (
	StateIdle        State = "idle"
	StateTranslating State = "translating"
	StateExtracting  State = "extracting"
	StateAwaiting    State = "awaiting_provider_response"
	StateParsing     State = "parsing"
	StateNormalizing State = "normalizing"
	StateAnnotating  State = "annotating"
	StateDone        State = "done"
	StateNotFound    State = "not_found"
	StateFailed      State = "failed"
)

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == StateDone || s == StateNotFound || s == StateFailed
}

// Query is one request against one image
type Query struct {
	Command string
	Image   image.Image
	// Provider overrides the configured default for this query only
	Provider string
	// Language is set when the command came from speech recognition; otherwise it is guessed from the script
	Language language.Tag
}

// Outcome is everything a query produced
type Outcome struct {
	Result types.Result
	// Image is the annotated copy when something was found, the input image otherwise
	Image     image.Image
	Annotated bool
	Prompt    string
	Trace     []State
}

// Locator runs queries. It holds no per-query state and is safe for concurrent use.
type Locator struct {
	cfg        *config.Config
	translator *translate.Translator
	extractor  *extract.Extractor
	processor  *processing.Processor
	parser     *coords.Parser
	annotator  *annotate.Annotator
	responder  *response.Generator
	detector   *detection.Detector
	provider   string
	log        *logger.Logger
}

// Option configures a Locator
type Option func(*Locator)

// WithClient replaces the configured provider with c
func WithClient(c client.VisionClient) Option {
	return func(l *Locator) { l.detector = l.newDetector(c, config.EndpointConfig{}) }
}

// WithProvider pins queries to one named provider
// New fails when that provider is unknown or has no credentials instead of falling back.
func WithProvider(name string) Option { return func(l *Locator) { l.provider = name } }

// WithLogger sets the pipeline logger
func WithLogger(log *logger.Logger) Option { return func(l *Locator) { l.log = log } }

// WithVerbose makes response messages list every instance
func WithVerbose(v bool) Option { return func(l *Locator) { l.responder = response.New(v) } }

// New builds a Locator from cfg. The default provider (or the race set) is
// resolved here so a missing credential is reported before the first query.
func New(cfg *config.Config, opts ...Option) (*Locator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	parser, err := coords.NewParser(parserOptions(cfg.Parser))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "parser configuration")
	}
	marker := annotate.Options{
		StarSize:  cfg.Annotation.StarSize,
		Labels:    cfg.Annotation.Labels,
		Crosshair: cfg.Annotation.Crosshair,
	}
	l := &Locator{
		cfg:        cfg,
		translator: translate.New(),
		extractor:  extract.New(),
		processor:  processing.NewProcessor(),
		parser:     parser,
		annotator:  annotate.New(marker),
		responder:  response.New(cfg.Debug),
		log:        logger.Named("pipeline"),
	}
	for _, o := range opts {
		o(l)
	}
	if l.detector == nil {
		d, err := l.detectorFor(l.provider)
		if err != nil {
			return nil, err
		}
		l.detector = d
	}
	return l, nil
}

func parserOptions(pc config.ParserConfig) coords.Options {
	opts := coords.DefaultOptions()
	if pc.LenientFactor > 0 {
		opts.LenientFactor = pc.LenientFactor
	}
	if pc.RatioEpsilon > 0 {
		opts.RatioEpsilon = pc.RatioEpsilon
	}
	opts.DedupDistance = pc.DedupDistance
	if len(pc.NotFoundPhrases) > 0 {
		opts.NotFoundPatterns = append(append([]string{}, opts.NotFoundPatterns...), pc.NotFoundPhrases...)
	}
	return opts
}

func (l *Locator) newDetector(c client.VisionClient, ep config.EndpointConfig) *detection.Detector {
	opts := []detection.Option{
		detection.WithParser(l.parser),
		detection.WithStyle(detection.ParseStyle(ep.Prompt)),
		detection.WithLogger(logger.Named("detection")),
	}
	if ep.Temperature > 0 {
		opts = append(opts, detection.WithTemperature(ep.Temperature))
	}
	if ep.MaxTokens > 0 {
		opts = append(opts, detection.WithMaxTokens(ep.MaxTokens))
	}
	return detection.NewDetector(c, opts...)
}

// detectorFor builds a detector for name; an empty name means the configured default or race set
func (l *Locator) detectorFor(name string) (*detection.Detector, error) {
	if name == "" && len(l.cfg.Provider.Race) > 1 {
		clients := make([]client.VisionClient, 0, len(l.cfg.Provider.Race))
		for _, n := range l.cfg.Provider.Race {
			c, err := client.New(n, l.cfg)
			if err != nil {
				return nil, err
			}
			clients = append(clients, c)
		}
		return l.newDetector(client.FirstOf(clients...), config.EndpointConfig{}), nil
	}
	var (
		c   client.VisionClient
		err error
	)
	if name == "" {
		c, err = client.Default(l.cfg, "")
	} else {
		c, err = client.New(name, l.cfg)
	}
	if err != nil {
		return nil, err
	}
	ep, _ := l.cfg.Endpoint(c.Name())
	return l.newDetector(c, ep), nil
}

// Provider names the client queries go to by default
func (l *Locator) Provider() string { return l.detector.Provider() }

// Processor exposes image loading and saving
func (l *Locator) Processor() *processing.Processor { return l.processor }

// run tracks one query's state and logs every transition
type run struct {
	log   *logger.Logger
	state State
	trace []State
}

func (r *run) enter(s State) {
	r.log.Debug().Str("from", string(r.state)).Str("to", string(s)).Msg("state")
	r.state = s
	r.trace = append(r.trace, s)
}

// Locate runs q through the pipeline. The returned Outcome is never nil; err is
// set when the query ended Failed or the answer could not be understood.
func (l *Locator) Locate(ctx context.Context, q Query) (*Outcome, error) {
	queryID := uuid.NewString()
	ctx = logger.WithQuery(ctx, queryID)
	log := logger.From(ctx, l.log)
	r := &run{log: log, state: StateIdle, trace: []State{StateIdle}}

	out := &Outcome{Image: q.Image}
	res := &out.Result
	res.QueryID = queryID
	res.Status = types.StatusFailed
	res.Detections = []types.Detection{}

	finish := func(s State, err error) (*Outcome, error) {
		r.enter(s)
		out.Trace = r.trace
		if err != nil {
			res.Error = err.Error()
			res.Code = perr.CodeOf(err).String()
		}
		res.Message = l.responder.Generate(*res)
		ev := log.Info()
		if s == StateFailed {
			ev = log.Error().Err(err)
		}
		ev.Str("status", string(res.Status)).Str("target", res.TargetObject).Int("count", res.Count).Msg("query finished")
		return out, err
	}

	if q.Image == nil {
		return finish(StateFailed, perr.InvalidArgf("locate: no image"))
	}
	b := q.Image.Bounds()
	res.Image = types.ImageDescriptor{OriginalWidth: b.Dx(), OriginalHeight: b.Dy()}

	r.enter(StateTranslating)
	text, translated := l.translator.Translate(q.Command)
	res.Command = types.Command{Text: q.Command, Language: q.Language}
	if q.Language == language.Und {
		res.Command.Language = translate.DetectLanguage(q.Command)
	}
	if translated {
		log.Debug().Str("from", q.Command).Str("to", text).Msg("command translated")
	}

	r.enter(StateExtracting)
	target, err := l.extractor.Extract(text)
	if err != nil {
		res.Status = types.StatusNotIdentified
		return finish(StateFailed, err)
	}
	res.TargetObject = target.Name

	detector := l.detector
	if q.Provider != "" && q.Provider != detector.Provider() {
		if detector, err = l.detectorFor(q.Provider); err != nil {
			res.Provider = q.Provider
			return finish(StateFailed, err)
		}
	}

	if err := l.processor.ValidateImage(q.Image, l.cfg.Image.MinDim); err != nil {
		return finish(StateFailed, err)
	}
	prep, err := l.processor.PrepareImageForModel(q.Image, l.cfg.Image.SendFormat, l.cfg.Image.SendMaxDim, l.cfg.Image.SendQuality)
	if err != nil {
		return finish(StateFailed, err)
	}
	res.Image = prep.Descriptor

	r.enter(StateAwaiting)
	res.Provider = detector.Provider()
	reply, err := detector.Query(ctx, target, detection.Image{Data: prep.Data, MIME: prep.MIME, Descriptor: prep.Descriptor})
	out.Prompt = reply.Prompt
	if err != nil {
		return finish(StateFailed, err)
	}
	raw := reply.Raw
	res.Provider = reply.Provider
	res.RawResponse = raw

	r.enter(StateParsing)
	parsed := detector.Parse(raw, prep.Descriptor)
	switch parsed.Status {
	case types.ParseNotFound:
		log.Info().Str("target", target.Name).Msg("provider declared the object absent")
		res.Status = types.StatusNotFound
		return finish(StateNotFound, nil)
	case types.ParseUnparsed:
		log.Warn().Str("target", target.Name).Int("dropped", parsed.Dropped).Str("excerpt", excerpt(raw, 200)).Msg("no coordinates parsed from response")
		res.Status = types.StatusUnparsed
		return finish(StateFailed, perr.Newf(perr.ErrorCodeNoCandidatesParsed, "could not read coordinates for %q from %s", target.Name, res.Provider))
	}
	if parsed.Dropped > 0 {
		log.Debug().Int("dropped", parsed.Dropped).Msg("implausible candidates dropped")
	}

	r.enter(StateNormalizing)
	res.Detections = coords.ScaleAll(parsed.Candidates, prep.Descriptor)
	res.Count = len(res.Detections)
	res.Found = res.Count > 0
	res.Status = types.StatusFound

	r.enter(StateAnnotating)
	out.Image = l.annotator.Annotate(q.Image, res.Detections)
	out.Annotated = true

	return finish(StateDone, nil)
}

// LocateFile loads path (a file or http(s) URL) and locates command in it
func (l *Locator) LocateFile(ctx context.Context, command, path string) (*Outcome, error) {
	img, err := l.processor.LoadImageSmart(ctx, path)
	if err != nil {
		out, _ := l.Locate(ctx, Query{Command: command})
		return out, err
	}
	return l.Locate(ctx, Query{Command: command, Image: img})
}

// Saved names the files written for one outcome
type Saved struct {
	Image string `json:"image,omitempty"`
	JSON  string `json:"json,omitempty"`
}

// Save writes the annotated image as <input>_<object><suffix>.<fmt> under the
// output directory, plus the JSON result when configured. Nothing is written
// for outcomes that were not annotated.
func (l *Locator) Save(out *Outcome, inputPath string) (Saved, error) {
	var saved Saved
	if out == nil || !out.Annotated {
		return saved, nil
	}
	oc := l.cfg.Output
	if err := utils.EnsureDir(oc.Dir); err != nil {
		return saved, err
	}
	ic := l.cfg.Image
	suffix := "_" + utils.SanitizeFilename(strings.ReplaceAll(out.Result.TargetObject, " ", "_")) + oc.Suffix
	saved.Image = utils.GenerateOutputFilename(inputPath, oc.Dir, "", suffix, ic.OutputFormat)
	if err := l.processor.SaveImage(out.Image, saved.Image, ic.OutputFormat, ic.OutputQuality, ic.OutputLossless); err != nil {
		return Saved{}, err
	}
	if oc.WriteJSON {
		saved.JSON = strings.TrimSuffix(saved.Image, filepath.Ext(saved.Image)) + ".json"
		data, err := json.MarshalIndent(out.Result, "", "  ")
		if err != nil {
			return saved, err
		}
		if err := os.WriteFile(saved.JSON, data, 0644); err != nil {
			return saved, err
		}
	}
	l.log.Info().Str("image", saved.Image).Str("json", saved.JSON).Msg("result saved")
	return saved, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
