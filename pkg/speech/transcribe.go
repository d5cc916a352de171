package speech

import (
	"context"
	"io"
	"strings"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
	"golang.org/x/text/language"

	perr "github.com/menta2k/vlm-locate/internal/errors"
)

// Transcript is a spoken command turned into text
type Transcript struct {
	Text     string
	Language language.Tag
}

// Transcriber turns recorded audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (Transcript, error)
}

// AssemblyAI transcribes with automatic language detection, so Chinese commands arrive as Chinese text
type AssemblyAI struct {
	client *aai.Client
}

// NewAssemblyAI builds a transcriber; baseURL may be empty for the public API
func NewAssemblyAI(apiKey, baseURL string) (*AssemblyAI, error) {
	if apiKey == "" {
		return nil, perr.New(perr.ErrorCodeAuthenticationMissing, "speech: ASSEMBLYAI_API_KEY is not set")
	}
	opts := []aai.ClientOption{aai.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, aai.WithBaseURL(baseURL))
	}
	return &AssemblyAI{client: aai.NewClientWithOptions(opts...)}, nil
}

func (a *AssemblyAI) Transcribe(ctx context.Context, audio io.Reader) (Transcript, error) {
	tr, err := a.client.Transcripts.TranscribeFromReader(ctx, audio, &aai.TranscriptOptionalParams{
		LanguageDetection: aai.Bool(true),
	})
	if err != nil {
		if ctx.Err() != nil {
			return Transcript{}, ctx.Err()
		}
		return Transcript{}, perr.Wrap(err, perr.ErrorCodeProviderUnavailable, "assemblyai: transcription failed")
	}
	if string(tr.Status) == "error" {
		return Transcript{}, perr.Malformedf("assemblyai: %s", aai.ToString(tr.Error))
	}
	text := strings.TrimSpace(aai.ToString(tr.Text))
	if text == "" {
		return Transcript{}, perr.InvalidArgf("assemblyai: no speech recognized")
	}
	return Transcript{Text: text, Language: LanguageTag(string(tr.LanguageCode), text)}, nil
}

// LanguageTag parses a detected language code, falling back to a script guess over text
func LanguageTag(code, text string) language.Tag {
	if code != "" {
		if tag, err := language.Parse(code); err == nil {
			return tag
		}
	}
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			return language.Chinese
		}
	}
	return language.English
}
