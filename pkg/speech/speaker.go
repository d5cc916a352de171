// Package speech speaks responses aloud and turns recorded commands into text
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
)

// Speaker says text out loud
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Nop discards everything
type Nop struct{}

func (Nop) Speak(context.Context, string) error { return nil }

// lookPath is swapped in tests
var lookPath = exec.LookPath

// ttsCommands are tried in order; the first one installed wins
var ttsCommands = []string{"say", "espeak", "spd-say"}

// players are tried in order for audio files
var players = [][]string{
	{"afplay"},
	{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet"},
	{"mpg123", "-q"},
}

// CommandSpeaker runs a local text-to-speech program
type CommandSpeaker struct {
	path string
	args []string
}

// NewCommandSpeaker finds say (macOS), espeak or spd-say (Linux)
func NewCommandSpeaker() (*CommandSpeaker, error) {
	for _, name := range ttsCommands {
		if p, err := lookPath(name); err == nil {
			return &CommandSpeaker{path: p}, nil
		}
	}
	return nil, perr.Unsupportedf("speech: none of %s is installed", strings.Join(ttsCommands, ", "))
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	args := append(append([]string{}, s.args...), text)
	cmd := exec.CommandContext(ctx, s.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "speech: %s failed: %s", filepath.Base(s.path), strings.TrimSpace(stderr.String()))
	}
	return nil
}

// DeepgramSpeaker synthesizes speech with Deepgram's /v1/speak and plays the file if a player exists
type DeepgramSpeaker struct {
	apiKey     string
	model      string
	baseURL    string
	outDir     string
	httpClient *http.Client
	log        *logger.Logger
}

type DeepgramOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	OutDir     string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

func NewDeepgramSpeaker(opts DeepgramOptions) (*DeepgramSpeaker, error) {
	if opts.APIKey == "" {
		return nil, perr.New(perr.ErrorCodeAuthenticationMissing, "speech: DEEPGRAM_API_KEY is not set")
	}
	if opts.Model == "" {
		opts.Model = "aura-asteria-en"
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.deepgram.com"
	}
	if opts.OutDir == "" {
		opts.OutDir = os.TempDir()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("speech")
	}
	return &DeepgramSpeaker{
		apiKey:     opts.APIKey,
		model:      opts.Model,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		outDir:     opts.OutDir,
		httpClient: opts.HTTPClient,
		log:        opts.Logger,
	}, nil
}

// Synthesize returns the audio bytes for text
func (s *DeepgramSpeaker) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload, _ := json.Marshal(map[string]string{"text": text})
	u := s.baseURL + "/v1/speak?model=" + url.QueryEscape(s.model)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Token "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeProviderUnavailable, "deepgram: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, perr.Newf(perr.ErrorCodeAuthenticationMissing, "deepgram: %s", resp.Status)
		}
		return nil, perr.Unavailablef("deepgram: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

// Speak synthesizes text, writes it under outDir and plays it
func (s *DeepgramSpeaker) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	audio, err := s.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(s.outDir, "response-"+time.Now().Format("20060102-150405.000")+".mp3")
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return err
	}
	s.log.Debug().Str("file", path).Int("bytes", len(audio)).Msg("speech written")
	return play(ctx, path, s.log)
}

func play(ctx context.Context, path string, log *logger.Logger) error {
	for _, p := range players {
		bin, err := lookPath(p[0])
		if err != nil {
			continue
		}
		args := append(append([]string{}, p[1:]...), path)
		return exec.CommandContext(ctx, bin, args...).Run()
	}
	log.Info().Str("file", path).Msg("no audio player found, speech saved only")
	return nil
}
