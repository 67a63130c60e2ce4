// Package gallery walks the paginated image listing for one model and
// downloads every image it yields.
package gallery

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/models"

	log "github.com/sirupsen/logrus"
)

// PageFetcher fetches one page of the image listing.
type PageFetcher interface {
	GetImagePage(ctx context.Context, params models.GalleryParams) (models.GalleryPage, error)
}

// ImageFetcher downloads one image into a directory under the given
// filename, reporting whether it was skipped because it already existed.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url, destDir, filename string) (bool, error)
}

// Summary is the outcome of a full gallery walk.
type Summary struct {
	Downloaded int
	Skipped    int
	Failed     int
	Pages      int
}

// Walker pages through a model's gallery to completion.
type Walker struct {
	pages  PageFetcher
	images ImageFetcher

	// PageLimit is the per-page item count requested from the API.
	PageLimit int
	// MaxPages bounds the walk; 0 means unbounded.
	MaxPages int
	// PageDelay is the pause between page fetches.
	PageDelay time.Duration
}

func NewWalker(pages PageFetcher, images ImageFetcher, cfg models.ImagesConfig) *Walker {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	return &Walker{
		pages:     pages,
		images:    images,
		PageLimit: limit,
		MaxPages:  cfg.MaxPages,
		PageDelay: time.Duration(cfg.PageDelayMs) * time.Millisecond,
	}
}

var allowedExtensions = []string{"jpg", "jpeg", "png", "webp", "gif"}

// Download walks every page of the gallery for ref, saving images into
// destDir. nsfwMode is passed through to the API: "" fetches everything,
// "false" SFW only, "true" NSFW only. The walk terminates when a page
// returns zero items; the API's own next-page hint is advisory only.
// Per-image failures are counted and never abort the walk. A failed page
// request ends the walk with the partial summary and the error.
func (w *Walker) Download(ctx context.Context, ref models.ModelRef, nsfwMode, destDir string) (Summary, error) {
	var summary Summary
	processed := make(map[int]bool)

	for page := 1; ; page++ {
		if w.MaxPages > 0 && page > w.MaxPages {
			log.Infof("Reached page cap (%d), stopping gallery walk", w.MaxPages)
			return summary, nil
		}

		params := models.GalleryParams{
			ModelID:   ref.ModelID,
			VersionID: ref.VersionID,
			Nsfw:      nsfwMode,
			Page:      page,
			Limit:     w.PageLimit,
		}

		result, err := w.pages.GetImagePage(ctx, params)
		if err != nil {
			log.WithError(err).Errorf("Gallery page %d request failed, stopping with partial results", page)
			return summary, fmt.Errorf("fetching gallery page %d: %w", page, err)
		}
		summary.Pages++

		if len(result.Items) == 0 {
			log.Debugf("Gallery page %d empty, walk complete", page)
			return summary, nil
		}

		for _, item := range result.Items {
			if item.ID == 0 || item.URL == "" {
				log.Warnf("Skipping gallery item missing ID or URL: %+v", item)
				continue
			}
			if processed[item.ID] {
				log.Debugf("Image %d already processed this walk, skipping duplicate", item.ID)
				continue
			}
			processed[item.ID] = true

			filename := ImageFilename(item)
			skipped, err := w.images.FetchImage(ctx, item.URL, destDir, filename)
			if err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				log.WithError(err).Warnf("Failed to download image %d", item.ID)
				summary.Failed++
				continue
			}
			if skipped {
				summary.Skipped++
			} else {
				summary.Downloaded++
			}
		}

		if w.PageDelay > 0 {
			timer := time.NewTimer(w.PageDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return summary, ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// ImageFilename builds the destination name for one gallery item. The
// image ID guarantees per-model uniqueness; the extension comes from the
// URL's trailing segment, constrained to a known-good set with jpg as
// the default.
func ImageFilename(item models.GalleryItem) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(item.URL), "."))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}

	if !helpers.StringSliceContains(allowedExtensions, ext) {
		ext = "jpg"
	}
	return fmt.Sprintf("img_%d.%s", item.ID, ext)
}
