// Package report accumulates one row per model and renders the final
// run report.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/models"

	log "github.com/sirupsen/logrus"
)

// Row is one report entry: the collected metadata plus the model's
// final pipeline status.
type Row struct {
	Seq           int
	ModelID       string
	Name          string
	Tags          []string
	TriggerWords  []string
	BaseModel     string
	SHA256        string
	AutoV1        string
	FormattedSize string
	Nsfw          models.Classification
	Status        models.DownloadStatus
}

// Sink receives the finished rows. Implementations render or persist
// them; the pipeline only cares that Write accepts the ordered set.
type Sink interface {
	Write(rows []Row) error
}

// Builder accumulates rows during a run. Status transitions are
// monotonic: once a row reaches a terminal state it never changes.
type Builder struct {
	rows  []Row
	index map[string]int // model ID -> rows position
}

func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Add appends a row for the given metadata in Pending state. Adding the
// same model ID twice is ignored.
func (b *Builder) Add(meta models.ModelMetadata) {
	if _, exists := b.index[meta.ModelID]; exists {
		return
	}
	b.index[meta.ModelID] = len(b.rows)
	b.rows = append(b.rows, Row{
		Seq:           len(b.rows) + 1,
		ModelID:       meta.ModelID,
		Name:          meta.Name,
		Tags:          meta.Tags,
		TriggerWords:  meta.TriggerWords,
		BaseModel:     meta.BaseModel,
		SHA256:        meta.SHA256,
		AutoV1:        meta.AutoV1,
		FormattedSize: meta.FormattedSize,
		Nsfw:          meta.Nsfw,
		Status:        models.Pending(),
	})
}

// AddFailed records a row for a model whose metadata never arrived.
func (b *Builder) AddFailed(modelID string, status models.DownloadStatus) {
	if _, exists := b.index[modelID]; exists {
		b.SetStatus(modelID, status)
		return
	}
	b.index[modelID] = len(b.rows)
	b.rows = append(b.rows, Row{
		Seq:     len(b.rows) + 1,
		ModelID: modelID,
		Status:  status,
	})
}

// SetStatus moves a row out of Pending. Attempts to overwrite a terminal
// status are rejected and logged.
func (b *Builder) SetStatus(modelID string, status models.DownloadStatus) {
	pos, ok := b.index[modelID]
	if !ok {
		log.Warnf("SetStatus for unknown model %s ignored", modelID)
		return
	}
	if b.rows[pos].Status.Terminal() {
		log.Warnf("Ignoring status change for model %s: already %s", modelID, b.rows[pos].Status)
		return
	}
	b.rows[pos].Status = status
}

// Rows returns the accumulated rows in insertion order.
func (b *Builder) Rows() []Row {
	return b.rows
}

// Summary counts rows by terminal state.
type Summary struct {
	Total   int
	Success int
	Skipped int
	Failed  int
	Pending int
}

func (b *Builder) Summary() Summary {
	var s Summary
	s.Total = len(b.rows)
	for _, row := range b.rows {
		switch row.Status.Kind {
		case models.StatusSuccess:
			s.Success++
		case models.StatusSkippedExisting, models.StatusSkippedNsfw:
			s.Skipped++
		case models.StatusFailed, models.StatusMetadataFailed:
			s.Failed++
		default:
			s.Pending++
		}
	}
	return s
}

// CSVSink writes the report as a CSV file with a trailing summary line.
type CSVSink struct {
	Path string
}

var csvHeader = []string{
	"#", "Model ID", "Name", "Tags", "Trigger Words", "Base Model",
	"SHA256", "AutoV1", "Size", "NSFW", "Status",
}

func (s *CSVSink) Write(rows []Row) error {
	if dir := filepath.Dir(s.Path); dir != "." {
		if !helpers.CheckAndMakeDir(dir) {
			return fmt.Errorf("creating report directory %s", dir)
		}
	}

	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("creating report file %s: %w", s.Path, err)
	}
	defer f.Close()

	if err := writeCSV(f, rows); err != nil {
		return err
	}

	log.Infof("Report written to %s (%d rows)", s.Path, len(rows))
	return nil
}

func writeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing report header: %w", err)
	}

	success, skipped, failed := 0, 0, 0
	for _, row := range rows {
		record := []string{
			fmt.Sprintf("%d", row.Seq),
			row.ModelID,
			row.Name,
			strings.Join(row.Tags, ", "),
			strings.Join(row.TriggerWords, ", "),
			row.BaseModel,
			row.SHA256,
			row.AutoV1,
			row.FormattedSize,
			string(row.Nsfw),
			row.Status.String(),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing report row %d: %w", row.Seq, err)
		}

		switch row.Status.Kind {
		case models.StatusSuccess:
			success++
		case models.StatusSkippedExisting, models.StatusSkippedNsfw:
			skipped++
		case models.StatusFailed, models.StatusMetadataFailed:
			failed++
		}
	}

	summary := []string{
		"", "", fmt.Sprintf("Total: %d", len(rows)), "", "", "", "", "",
		fmt.Sprintf("Success: %d", success),
		fmt.Sprintf("Skipped: %d", skipped),
		fmt.Sprintf("Failed: %d", failed),
	}
	if err := cw.Write(summary); err != nil {
		return fmt.Errorf("writing report summary: %w", err)
	}

	cw.Flush()
	return cw.Error()
}
