package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/transcription-pipeline/internal/types"
)

// LocalExporter saves completed transcripts to the local filesystem
type LocalExporter struct {
	outputDir string
	now       func() time.Time
}

// NewLocalExporter creates a new local transcript exporter
func NewLocalExporter(outputDir string) *LocalExporter {
	return &LocalExporter{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Name identifies the exporter in logs
func (ls *LocalExporter) Name() string { return "local" }

// Export writes the transcript text and a metadata JSON next to it
func (ls *LocalExporter) Export(_ context.Context, job *types.Job) (string, error) {
	// Dated directory structure: outputs/2025/01/23/
	now := ls.now()
	dateDir := filepath.Join(ls.outputDir,
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()))

	if err := os.MkdirAll(dateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}

	base := transcriptBaseName(now, job)
	txtPath := filepath.Join(dateDir, base+".txt")
	metaPath := filepath.Join(dateDir, base+"_meta.json")

	if err := os.WriteFile(txtPath, []byte(deref(job.FullText)), 0644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}

	metaJSON, err := transcriptMetadata(job)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(metaPath, metaJSON, 0644); err != nil {
		return "", fmt.Errorf("failed to save metadata: %w", err)
	}

	return txtPath, nil
}

// transcriptBaseName builds names like 20250123_143022_podcast_episode_<id8>
func transcriptBaseName(now time.Time, job *types.Job) string {
	name := strings.TrimSuffix(job.OriginalFilename, filepath.Ext(job.OriginalFilename))
	short := job.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s_%s_%s", now.Format("20060102_150405"), sanitizeFilename(name), short)
}

// transcriptMetadata is the JSON document written beside each transcript
func transcriptMetadata(job *types.Job) ([]byte, error) {
	metadata := map[string]interface{}{
		"job_id":              job.ID,
		"original_filename":   job.OriginalFilename,
		"duration_seconds":    job.DurationSeconds,
		"word_count":          len(strings.Fields(deref(job.FullText))),
		"language":            job.Language,
		"language_confidence": job.LanguageConfidence,
		"retry_count":         job.RetryCount,
		"created_at":          job.CreatedAt,
		"completed_at":        job.UpdatedAt,
		"segments":            job.Segments,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return metaJSON, nil
}

// sanitizeFilename replaces characters that are unsafe in file names
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, name)
	if result == "" {
		result = "untitled"
	}
	if len(result) > 100 {
		result = result[:100]
	}
	return result
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
