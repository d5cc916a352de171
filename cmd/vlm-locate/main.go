package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"

	vlmlocate "github.com/menta2k/vlm-locate"
	"github.com/menta2k/vlm-locate/internal/config"
	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/internal/server"
	"github.com/menta2k/vlm-locate/internal/utils"
	"github.com/menta2k/vlm-locate/pkg/client"
	"github.com/menta2k/vlm-locate/pkg/response"
	"github.com/menta2k/vlm-locate/pkg/speech"
	"github.com/menta2k/vlm-locate/pkg/types"
)

func main() {
	var in, command, audio, provider, cfgPath, outDir, serve string
	var speak, interactive, listProviders, check, verbose, initConfig bool

	flag.StringVar(&in, "image", "", "input image path, directory or URL (jpg/png/webp)")
	flag.StringVar(&command, "command", "", "what to find, in English or Chinese (e.g. \"find the cup\", \"请帮我拿可乐给我\")")
	flag.StringVar(&audio, "audio", "", "recorded voice command to transcribe instead of -command")
	flag.StringVar(&provider, "provider", "", "vision provider (grok, qwen, kimi, llava, llamacpp); default from config")
	flag.StringVar(&cfgPath, "config", "", "config file (default ~/.config/vlm-locate/config.json)")
	flag.StringVar(&outDir, "out", "", "output directory for annotated images (overrides config)")
	flag.BoolVar(&speak, "speak", false, "speak the response with the configured text-to-speech backend")
	flag.BoolVar(&interactive, "interactive", false, "read commands from stdin, one per line, against the same image")
	flag.StringVar(&serve, "serve", "", "run the HTTP API on this address (e.g. :8080)")
	flag.BoolVar(&listProviders, "list-providers", false, "list configured providers and exit")
	flag.BoolVar(&check, "check", false, "with -list-providers, ping every available provider")
	flag.BoolVar(&verbose, "verbose", false, "describe every detected instance")
	flag.BoolVar(&initConfig, "init-config", false, "write the effective configuration to -config (or the default path) and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("warning: .env: %v", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if outDir != "" {
		cfg.Output.Dir = outDir
	}

	logOpts := logger.FromEnv()
	if cfg.Debug {
		logOpts.Level = "debug"
	}
	logger.Init(logOpts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case initConfig:
		path := cfgPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", path)
		return
	case listProviders:
		printProviders(ctx, cfg, check)
		return
	}

	opts := []vlmlocate.Option{vlmlocate.WithVerbose(verbose)}
	if provider != "" {
		cfg.Provider.Default = provider
		opts = append(opts, vlmlocate.WithProvider(provider))
	}
	loc, err := vlmlocate.New(cfg, opts...)
	if err != nil {
		log.Fatalf("provider: %v", err)
	}

	if serve != "" {
		cfg.Server.Addr = serve
		if err := server.New(cfg, loc).Run(ctx); err != nil {
			log.Fatal(err)
		}
		return
	}

	if in == "" {
		log.Fatalf("usage: %s -image photo.jpg -command \"find the cup\" [-provider grok|qwen|kimi|llava|llamacpp] [-out dir] [-speak] [-interactive] | -audio cmd.wav | -serve :8080 | -list-providers",
			filepath.Base(os.Args[0]))
	}

	var speaker speech.Speaker = speech.Nop{}
	if speak {
		if speaker, err = speech.NewSpeaker(cfg); err != nil {
			log.Printf("speech disabled: %v", err)
			speaker = speech.Nop{}
		}
	}

	var lang language.Tag
	if audio != "" {
		command, lang, err = transcribe(ctx, cfg, audio)
		if err != nil {
			log.Fatalf("audio: %v", err)
		}
		log.Printf("heard: %q (%s)", command, lang)
	}

	inputs := []string{in}
	if utils.IsDir(in) {
		if inputs, err = utils.ListImageFiles(in); err != nil {
			log.Fatal(err)
		}
		if len(inputs) == 0 {
			log.Fatalf("no images found in %s", in)
		}
	}

	if interactive {
		if len(inputs) != 1 {
			log.Fatal("-interactive needs a single image")
		}
		img, err := loc.Processor().LoadImageSmart(ctx, inputs[0])
		if err != nil {
			log.Fatal(err)
		}
		runInteractive(ctx, loc, speaker, img, inputs[0])
		return
	}

	if command == "" {
		log.Fatal("missing -command (or -audio)")
	}
	failed := 0
	for _, path := range inputs {
		img, err := loc.Processor().LoadImageSmart(ctx, path)
		if err != nil {
			log.Printf("%s: %v", path, err)
			failed++
			continue
		}
		if !runQuery(ctx, loc, speaker, vlmlocate.Query{Command: command, Image: img, Language: lang}, path) {
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// runQuery locates one command, prints and speaks the answer, saves the result and reports success
func runQuery(ctx context.Context, loc *vlmlocate.Locator, speaker speech.Speaker, q vlmlocate.Query, path string) bool {
	out, err := loc.Locate(ctx, q)
	r := out.Result
	fmt.Println(r.Message)
	if r.Found {
		fmt.Print(response.Table(r.Detections))
	}
	if err != nil && !perr.IsCode(err, perr.ErrorCodeNoCandidatesParsed) {
		log.Printf("%s: %v", path, err)
	}

	saved, serr := loc.Save(out, path)
	if serr != nil {
		log.Printf("save: %v", serr)
	} else if saved.Image != "" {
		log.Printf("wrote %s", saved.Image)
	}

	if speakErr := speaker.Speak(ctx, r.Message); speakErr != nil {
		log.Printf("speech: %v", speakErr)
	}
	return err == nil || r.Status == types.StatusUnparsed
}

func runInteractive(ctx context.Context, loc *vlmlocate.Locator, speaker speech.Speaker, img image.Image, path string) {
	fmt.Printf("Provider %s. Type a command (English or Chinese), or 'quit'.\n", loc.Provider())
	sc := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "q":
			return
		}
		runQuery(ctx, loc, speaker, vlmlocate.Query{Command: line, Image: img}, path)
		if ctx.Err() != nil {
			return
		}
	}
}

func transcribe(ctx context.Context, cfg *config.Config, path string) (string, language.Tag, error) {
	tr, err := speech.NewTranscriber(cfg)
	if err != nil {
		return "", language.Und, err
	}
	if tr == nil {
		return "", language.Und, perr.Unsupportedf("speech-to-text is disabled; set speech.stt to assemblyai or VLM_ENABLE_VOICE=true")
	}
	f, err := os.Open(path)
	if err != nil {
		return "", language.Und, err
	}
	defer f.Close()
	t, err := tr.Transcribe(ctx, f)
	if err != nil {
		return "", language.Und, err
	}
	return t.Text, t.Language, nil
}

func printProviders(ctx context.Context, cfg *config.Config, check bool) {
	infos := client.Available(cfg)
	var errs map[string]error
	if check {
		var clients []client.VisionClient
		for _, info := range infos {
			if c, err := client.New(info.Name, cfg); err == nil {
				clients = append(clients, c)
			}
		}
		errs = client.Check(ctx, clients, 10*time.Second)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tMODEL\tSTATUS")
	for _, info := range infos {
		status := "ready"
		switch {
		case !info.Available:
			status = info.Reason
		case errs != nil && errs[info.Name] != nil:
			status = "unreachable: " + errs[info.Name].Error()
		case errs != nil:
			status = "reachable"
		}
		name := info.Name
		if info.Default {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", name, info.Kind, info.Model, status)
	}
	_ = tw.Flush()
}
