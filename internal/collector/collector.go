// Package collector fetches per-model metadata and distills it into the
// record the rest of the pipeline works from.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrPartialData is returned when a model payload lacks the version or
// file structures needed to build a usable record.
var ErrPartialData = errors.New("model metadata incomplete")

// ModelAPI is the slice of the API client the collector needs.
type ModelAPI interface {
	GetModelDetails(ctx context.Context, modelID string) (models.Model, error)
}

// Collector turns model references into ModelMetadata records.
type Collector struct {
	api    ModelAPI
	apiKey string
}

func New(api ModelAPI, apiKey string) *Collector {
	return &Collector{api: api, apiKey: apiKey}
}

// Collect fetches one model's detail and extracts the representative
// artifact: the first version and that version's first file. Models with
// multiple versions or files only ever report the first.
func (c *Collector) Collect(ctx context.Context, ref models.ModelRef) (models.ModelMetadata, error) {
	model, err := c.api.GetModelDetails(ctx, ref.ModelID)
	if err != nil {
		return models.ModelMetadata{}, fmt.Errorf("fetching model %s: %w", ref.ModelID, err)
	}

	if len(model.ModelVersions) == 0 {
		return models.ModelMetadata{}, fmt.Errorf("%w: model %s has no versions", ErrPartialData, ref.ModelID)
	}
	version := model.ModelVersions[0]

	if len(version.Files) == 0 {
		return models.ModelMetadata{}, fmt.Errorf("%w: model %s version %d has no files", ErrPartialData, ref.ModelID, version.ID)
	}
	file := version.Files[0]

	classification := Classify(model.Tags, model.Nsfw)
	sizeBytes := uint64(file.SizeKB * 1024)

	meta := models.ModelMetadata{
		ModelID:       ref.ModelID,
		Name:          model.Name,
		Tags:          model.Tags,
		TriggerWords:  []string(version.TrainedWords),
		BaseModel:     version.BaseModel,
		SHA256:        file.Hashes.SHA256,
		AutoV1:        file.Hashes.AutoV1,
		SizeBytes:     sizeBytes,
		FormattedSize: helpers.BytesToSize(sizeBytes),
		Nsfw:          classification,
		Internal: models.InternalMeta{
			DownloadURL: c.tokenizedURL(file.DownloadUrl),
			Filename:    SuggestedFilename(model.Name),
			VersionID:   fmt.Sprintf("%d", version.ID),
			IsNsfw:      classification == models.ClassNSFW,
		},
	}

	log.WithFields(log.Fields{
		"model": meta.Name,
		"size":  meta.FormattedSize,
		"nsfw":  meta.Nsfw,
	}).Debug("Collected model metadata")

	return meta, nil
}

// Classify applies the NSFW heuristic: any tag containing "nsfw"
// (case-insensitive) wins, then the model's explicit flag, else SFW.
// Absence of tags alone never forces NSFW.
func Classify(tags []string, explicitFlag bool) models.Classification {
	for _, tag := range tags {
		if strings.Contains(strings.ToLower(tag), "nsfw") {
			return models.ClassNSFW
		}
	}
	if explicitFlag {
		return models.ClassNSFW
	}
	return models.ClassSFW
}

// SuggestedFilename builds a filesystem-safe fallback name from the
// model name, used when the server sends no content-disposition.
func SuggestedFilename(modelName string) string {
	slug := helpers.ConvertToSlug(modelName)
	if slug == "" {
		slug = "model"
	}
	return slug + ".safetensors"
}

// tokenizedURL appends the API credential to a download URL so the file
// host authorizes the transfer.
func (c *Collector) tokenizedURL(downloadURL string) string {
	if downloadURL == "" || c.apiKey == "" {
		return downloadURL
	}
	sep := "?"
	if strings.Contains(downloadURL, "?") {
		sep = "&"
	}
	return downloadURL + sep + "token=" + c.apiKey
}
