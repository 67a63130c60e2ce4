// Package pipeline drives a bulk run: collect metadata, apply the NSFW
// policy, download, and report.
package pipeline

import (
	"context"
	"errors"

	"path/filepath"

	"go-civitai-fetch/internal/api"
	"go-civitai-fetch/internal/filter"
	"go-civitai-fetch/internal/models"
	"go-civitai-fetch/internal/paths"
	"go-civitai-fetch/internal/report"

	log "github.com/sirupsen/logrus"
)

// Collector fetches metadata for one model reference.
type Collector interface {
	Collect(ctx context.Context, ref models.ModelRef) (models.ModelMetadata, error)
}

// FileFetcher downloads one model file.
type FileFetcher interface {
	FetchFile(ctx context.Context, url, destDir, fallbackFilename string, hashes models.Hashes, verify bool) (string, bool, error)
}

// Pipeline runs the full download flow for a batch of model references.
// All work is sequential; failures are scoped to a single model and
// recorded in the report rather than aborting the batch. The only
// exceptions are context cancellation and an authentication error during
// metadata collection, which short-circuits all remaining network work
// since retrying cannot help.
type Pipeline struct {
	collector Collector
	fetcher   FileFetcher
	sink      report.Sink

	SavePath     string
	PathPattern  string
	DownloadNsfw bool
	VerifyHash   bool
}

func New(collector Collector, fetcher FileFetcher, sink report.Sink, cfg models.Config) *Pipeline {
	return &Pipeline{
		collector:    collector,
		fetcher:      fetcher,
		sink:         sink,
		SavePath:     cfg.SavePath,
		PathPattern:  cfg.Download.PathPattern,
		DownloadNsfw: cfg.Download.Nsfw,
		VerifyHash:   cfg.Download.VerifyHash,
	}
}

// Run executes the batch and returns the final report summary. The sink
// receives the rows once after collection (all Pending or
// MetadataFailed) and once more with final statuses.
func (p *Pipeline) Run(ctx context.Context, refs []models.ModelRef) (report.Summary, error) {
	builder := report.NewBuilder()

	collected, err := p.collectAll(ctx, refs, builder)
	if err != nil {
		// Flush whatever rows exist so nothing fails silently.
		if writeErr := p.sink.Write(builder.Rows()); writeErr != nil {
			log.WithError(writeErr).Error("Failed to write report after aborted collection")
		}
		return builder.Summary(), err
	}

	if writeErr := p.sink.Write(builder.Rows()); writeErr != nil {
		log.WithError(writeErr).Error("Failed to write initial report")
	}

	if n := filter.CountNsfw(collected); n > 0 && !p.DownloadNsfw {
		log.Infof("NSFW policy: skipping %d of %d models", n, len(collected))
	}
	toDownload, toSkip := filter.Partition(collected, p.DownloadNsfw)
	for _, meta := range toSkip {
		builder.SetStatus(meta.ModelID, models.SkippedNsfw())
	}

	runErr := p.downloadAll(ctx, toDownload, builder)

	if writeErr := p.sink.Write(builder.Rows()); writeErr != nil {
		log.WithError(writeErr).Error("Failed to write final report")
		if runErr == nil {
			runErr = writeErr
		}
	}

	summary := builder.Summary()
	log.Infof("Run complete: %d total, %d success, %d skipped, %d failed",
		summary.Total, summary.Success, summary.Skipped, summary.Failed)
	return summary, runErr
}

// collectAll fetches metadata for every reference. Per-model failures
// become MetadataFailed rows; an authentication error stops collection
// and marks all remaining models.
func (p *Pipeline) collectAll(ctx context.Context, refs []models.ModelRef, builder *report.Builder) ([]models.ModelMetadata, error) {
	collected := make([]models.ModelMetadata, 0, len(refs))

	for i, ref := range refs {
		if ctx.Err() != nil {
			markRemaining(refs[i:], builder, "cancelled")
			return collected, ctx.Err()
		}

		meta, err := p.collector.Collect(ctx, ref)
		if err != nil {
			if errors.Is(err, api.ErrUnauthorized) {
				log.Error("Authentication failed, aborting remaining work")
				markRemaining(refs[i:], builder, "authentication error")
				return collected, err
			}
			log.WithError(err).Warnf("Metadata fetch failed for model %s", ref.ModelID)
			builder.AddFailed(ref.ModelID, models.MetadataFailed(err.Error()))
			continue
		}

		builder.Add(meta)
		collected = append(collected, meta)
	}

	return collected, nil
}

// downloadAll downloads every filtered model, recording terminal
// statuses. Failures, including auth rejections from the file host,
// become per-model Failed rows; only cancellation stops the loop.
func (p *Pipeline) downloadAll(ctx context.Context, metas []models.ModelMetadata, builder *report.Builder) error {
	for i, meta := range metas {
		if ctx.Err() != nil {
			markRemainingMetas(metas[i:], builder, "cancelled")
			return ctx.Err()
		}

		destDir, err := p.destDir(meta)
		if err != nil {
			log.WithError(err).Warnf("Bad save path for model %s", meta.ModelID)
			builder.SetStatus(meta.ModelID, models.Failed(err.Error()))
			continue
		}

		hashes := models.Hashes{SHA256: meta.SHA256, AutoV1: meta.AutoV1}
		filename, skipped, err := p.fetcher.FetchFile(ctx, meta.Internal.DownloadURL, destDir, meta.Internal.Filename, hashes, p.VerifyHash)
		switch {
		case err != nil:
			if errors.Is(err, context.Canceled) {
				markRemainingMetas(metas[i:], builder, "cancelled")
				return err
			}
			log.WithError(err).Warnf("Download failed for model %s", meta.ModelID)
			builder.SetStatus(meta.ModelID, models.Failed(err.Error()))
		case skipped:
			builder.SetStatus(meta.ModelID, models.SkippedExisting())
		default:
			builder.SetStatus(meta.ModelID, models.Success(filename))
		}
	}
	return nil
}

// destDir resolves the directory one model's file lands in: the flat
// save path, or a per-model subdirectory when a path pattern is set.
func (p *Pipeline) destDir(meta models.ModelMetadata) (string, error) {
	if p.PathPattern == "" {
		return p.SavePath, nil
	}
	sub, err := paths.GeneratePath(p.PathPattern, map[string]string{
		"modelId":   meta.ModelID,
		"modelName": meta.Name,
		"versionId": meta.Internal.VersionID,
		"baseModel": meta.BaseModel,
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(p.SavePath, sub), nil
}

func markRemaining(refs []models.ModelRef, builder *report.Builder, reason string) {
	for _, ref := range refs {
		builder.AddFailed(ref.ModelID, models.MetadataFailed(reason))
	}
}

func markRemainingMetas(metas []models.ModelMetadata, builder *report.Builder, reason string) {
	for _, meta := range metas {
		builder.SetStatus(meta.ModelID, models.Failed(reason))
	}
}
