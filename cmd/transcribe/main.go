// Command transcribe runs the Whisper engine once on a local file and prints
// the result. With -drive-auth it instead runs the Google Drive OAuth flow
// and saves the token used by the server's Drive exporter.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/config"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/storage"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/transcription"
	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

type result struct {
	FullText           string          `json:"full_text"`
	Segments           []types.Segment `json:"segments"`
	Language           string          `json:"language"`
	LanguageConfidence float64         `json:"language_confidence"`
	DurationSeconds    float64         `json:"duration_seconds"`
}

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (default: CONFIG_PATH or config/config.yaml)")
		jsonOut    = flag.Bool("json", false, "also write <audio>_transcript.json")
		driveAuth  = flag.Bool("drive-auth", false, "authorize Google Drive export and save the token")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: transcribe [-config path] <audio_file> [--json]\n       transcribe -drive-auth\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	var audioPath string
	for _, arg := range flag.Args() {
		if arg == "--json" || arg == "-json" {
			*jsonOut = true
			continue
		}
		if audioPath == "" {
			audioPath = arg
		}
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *driveAuth {
		if err := authorizeDrive(ctx, cfg, os.Stdin, os.Stdout); err != nil {
			fatal(err)
		}
		return
	}

	if audioPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.Storage.TempDir, 0755); err != nil {
		fatal(err)
	}
	engine, err := transcription.NewWhisperTranscriber(transcription.WhisperOptions{
		Command:  cfg.Whisper.Command,
		Args:     cfg.Whisper.Args,
		Model:    cfg.Whisper.Model,
		Device:   cfg.Whisper.Device,
		Threads:  cfg.Whisper.Threads,
		Language: cfg.Whisper.Language,
		TempDir:  cfg.Storage.TempDir,
	}, slog.Default())
	if err != nil {
		fatal(err)
	}

	t, err := engine.Transcribe(ctx, audioPath)
	if err != nil {
		fatal(err)
	}

	res := result{
		FullText:           t.FullText,
		Segments:           t.Segments,
		Language:           t.Language,
		LanguageConfidence: t.LanguageConfidence,
		DurationSeconds:    t.DurationSeconds,
	}
	if res.Segments == nil {
		res.Segments = []types.Segment{}
	}
	printResult(os.Stdout, res)

	if *jsonOut {
		outputPath := jsonPath(audioPath)
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fatal(err)
		}
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			fatal(err)
		}
		fmt.Printf("Saved to %s\n", outputPath)
	}
}

func printResult(w io.Writer, r result) {
	fmt.Fprintf(w, "\nLanguage: %s (%.0f%%)\n", r.Language, r.LanguageConfidence*100)
	fmt.Fprintf(w, "Duration: %.1fs\n", r.DurationSeconds)

	fmt.Fprintln(w, "\n--- Transcription with Timestamps ---")
	for _, seg := range r.Segments {
		fmt.Fprintf(w, "[%s - %s] %s\n", clock(seg.Start), clock(seg.End), seg.Text)
	}

	fmt.Fprintf(w, "\n--- Full Text ---\n%s\n\n", r.FullText)
}

// clock formats seconds as m:ss
func clock(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// jsonPath swaps the audio extension for _transcript.json
func jsonPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + "_transcript.json"
}

func authorizeDrive(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	oauthConfig, err := storage.DriveOAuthConfig(cfg.GoogleDrive.CredentialsFile)
	if err != nil {
		return err
	}
	if err := storage.AuthorizeDrive(ctx, oauthConfig, cfg.GoogleDrive.TokenFile, in, out); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", cfg.GoogleDrive.TokenFile)
	return nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
