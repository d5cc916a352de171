package speech

import (
	"path/filepath"

	"github.com/menta2k/vlm-locate/internal/config"
	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
)

// NewSpeaker builds the configured text-to-speech backend
func NewSpeaker(cfg *config.Config) (Speaker, error) {
	switch cfg.Speech.TTS {
	case "", "none":
		return Nop{}, nil
	case "command":
		return NewCommandSpeaker()
	case "deepgram":
		return NewDeepgramSpeaker(DeepgramOptions{
			APIKey: cfg.Speech.DeepgramKey,
			Model:  cfg.Speech.DeepgramModel,
			OutDir: filepath.Join(cfg.Output.Dir, "speech"),
			Logger: logger.Named("speech"),
		})
	default:
		return nil, perr.Unsupportedf("speech: unknown tts backend %q", cfg.Speech.TTS)
	}
}

// NewTranscriber builds the configured speech-to-text backend, nil when disabled
func NewTranscriber(cfg *config.Config) (Transcriber, error) {
	switch cfg.Speech.STT {
	case "", "none":
		return nil, nil
	case "assemblyai":
		return NewAssemblyAI(cfg.Speech.AssemblyAIKey, "")
	default:
		return nil, perr.Unsupportedf("speech: unknown stt backend %q", cfg.Speech.STT)
	}
}
