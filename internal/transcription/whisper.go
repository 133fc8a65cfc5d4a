package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// WhisperOptions configures the Whisper CLI invocation
type WhisperOptions struct {
	// Command is the executable; Args are prepended before the audio path.
	// Defaults run "python -m whisper".
	Command  string
	Args     []string
	Model    string
	Device   string
	Threads  int
	Language string // empty = auto-detect
	TempDir  string
}

// WhisperTranscriber wraps the Whisper command line for transcription.
// Every call works in its own temp directory, so calls may run concurrently.
type WhisperTranscriber struct {
	opts   WhisperOptions
	logger *slog.Logger
}

// NewWhisperTranscriber creates a new transcriber using the Whisper CLI
func NewWhisperTranscriber(opts WhisperOptions, logger *slog.Logger) (*WhisperTranscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Command == "" {
		opts.Command = "python"
		opts.Args = []string{"-m", "whisper"}
	}
	if opts.Model == "" {
		opts.Model = "base"
	}
	if opts.Device == "" {
		opts.Device = "cpu"
	}
	if opts.TempDir == "" {
		opts.TempDir = "temp"
	}
	if _, err := exec.LookPath(opts.Command); err != nil {
		logger.Warn("whisper command not found on PATH, transcriptions will fail until it is installed",
			"command", opts.Command)
	}

	logger.Info("whisper transcriber ready", "model", opts.Model, "device", opts.Device, "command", opts.Command)
	return &WhisperTranscriber{opts: opts, logger: logger}, nil
}

// Transcribe processes an audio file and returns the transcript
func (wt *WhisperTranscriber) Transcribe(ctx context.Context, audioPath string) (*types.Transcript, error) {
	if _, err := os.Stat(audioPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fail(KindNotFound, fmt.Errorf("file not found: %s", audioPath))
		}
		return nil, fail(KindNotFound, err)
	}
	if !ValidateAudioFormat(audioPath) {
		return nil, fail(KindUnsupportedFormat,
			fmt.Errorf("unsupported format '%s'", strings.ToLower(filepath.Ext(audioPath))))
	}

	normalized, err := NormalizeAudio(ctx, audioPath, wt.opts.TempDir)
	if err != nil {
		return nil, fail(KindDecode, err)
	}
	defer os.Remove(normalized)

	outDir := filepath.Join(wt.opts.TempDir, "whisper_"+uuid.New().String())
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fail(KindEngine, fmt.Errorf("failed to create output dir: %w", err))
	}
	defer os.RemoveAll(outDir)

	wt.logger.Debug("running whisper", "audio", audioPath, "model", wt.opts.Model)
	cmd := exec.CommandContext(ctx, wt.opts.Command, wt.commandArgs(normalized, outDir)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fail(KindEngine, fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, tail(string(output), 2000)))
	}

	baseName := strings.TrimSuffix(filepath.Base(normalized), filepath.Ext(normalized))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, fail(KindOutput, fmt.Errorf("failed to read whisper output: %w", err))
	}

	transcript, err := ParseWhisperOutput(jsonData)
	if err != nil {
		return nil, fail(KindOutput, err)
	}

	// Prefer the real file length over the last segment end
	if d, err := ProbeDuration(ctx, audioPath); err == nil {
		transcript.DurationSeconds = round(d, 2)
	} else {
		wt.logger.Debug("ffprobe unavailable, using last segment end as duration", "error", err)
	}

	wt.logger.Info("transcription finished",
		"segments", len(transcript.Segments),
		"language", transcript.Language,
		"duration", transcript.DurationSeconds)
	return transcript, nil
}

func (wt *WhisperTranscriber) commandArgs(audioPath, outDir string) []string {
	args := append([]string{}, wt.opts.Args...)
	args = append(args,
		audioPath,
		"--model", wt.opts.Model,
		"--device", wt.opts.Device,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False", // Disable fp16 for CPU compatibility
	)
	if wt.opts.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(wt.opts.Threads))
	}
	if wt.opts.Language != "" {
		args = append(args, "--language", wt.opts.Language)
	}
	return args
}

// WhisperOutput matches Whisper's JSON output format. LanguageProbability
// is only written by CTranslate2-based CLIs.
type WhisperOutput struct {
	Text                string           `json:"text"`
	Language            string           `json:"language"`
	LanguageProbability *float64         `json:"language_probability"`
	Segments            []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ParseWhisperOutput converts Whisper JSON into a transcript. Times are
// rounded to centiseconds, texts trimmed, and the duration defaults to the
// end of the last segment.
func ParseWhisperOutput(data []byte) (*types.Transcript, error) {
	var out WhisperOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}

	var fullText strings.Builder
	segments := make([]types.Segment, 0, len(out.Segments))
	for _, seg := range out.Segments {
		start := round(seg.Start, 2)
		end := round(seg.End, 2)
		if end < start {
			end = start
		}
		segments = append(segments, types.Segment{
			Start: start,
			End:   end,
			Text:  strings.TrimSpace(seg.Text),
		})
		fullText.WriteString(seg.Text)
	}

	text := strings.TrimSpace(fullText.String())
	if len(segments) == 0 {
		text = strings.TrimSpace(out.Text)
	}

	t := &types.Transcript{
		FullText: text,
		Segments: segments,
		Language: out.Language,
	}
	if out.LanguageProbability != nil {
		t.LanguageConfidence = round(*out.LanguageProbability, 4)
	}
	if len(segments) > 0 {
		t.DurationSeconds = segments[len(segments)-1].End
	}
	return t, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
