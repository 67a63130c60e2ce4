// Package filter applies the run-wide NSFW download policy to a set of
// collected models.
package filter

import (
	"go-civitai-fetch/internal/models"
)

// Partition splits collected models into those to download and those to
// skip under the global NSFW policy. The decision is made once per run;
// when downloadNsfw is true everything proceeds. Input order is preserved
// in both outputs and no other effects occur.
func Partition(metas []models.ModelMetadata, downloadNsfw bool) (toDownload, toSkip []models.ModelMetadata) {
	if downloadNsfw {
		return metas, nil
	}

	for _, meta := range metas {
		if meta.Nsfw == models.ClassNSFW {
			toSkip = append(toSkip, meta)
			continue
		}
		toDownload = append(toDownload, meta)
	}
	return toDownload, toSkip
}

// CountNsfw reports how many collected models are classified NSFW, used
// for the policy log before partitioning.
func CountNsfw(metas []models.ModelMetadata) int {
	n := 0
	for _, meta := range metas {
		if meta.Nsfw == models.ClassNSFW {
			n++
		}
	}
	return n
}
