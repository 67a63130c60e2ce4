// Package resolver normalizes raw user input (full Civitai URLs or bare
// numeric IDs) into canonical model references.
package resolver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go-civitai-fetch/internal/models"

	log "github.com/sirupsen/logrus"
)

// ErrInvalidInput is returned when no usable model reference can be
// extracted from the given input.
var ErrInvalidInput = errors.New("invalid input")

var (
	modelIDRe   = regexp.MustCompile(`/models/(\d+)`)
	versionIDRe = regexp.MustCompile(`modelVersionId=(\d+)`)
	bareIDRe    = regexp.MustCompile(`^\d+$`)
)

// Resolve turns a list of raw entries into unique ModelRefs, preserving
// first-seen order. Each entry is either a civitai.com model URL (with an
// optional modelVersionId query parameter) or a literal ID. Entries with
// the same model ID are collapsed onto the first occurrence; version IDs
// are ignored for dedup purposes.
func Resolve(rawEntries []string) ([]models.ModelRef, error) {
	if len(rawEntries) == 0 {
		return nil, fmt.Errorf("%w: no entries supplied", ErrInvalidInput)
	}

	seen := make(map[string]bool)
	refs := make([]models.ModelRef, 0, len(rawEntries))
	total := 0

	for _, raw := range rawEntries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		total++

		ref := parseEntry(entry)
		if seen[ref.ModelID] {
			log.Debugf("Duplicate model ID %s, keeping first occurrence", ref.ModelID)
			continue
		}
		seen[ref.ModelID] = true
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: no model IDs found in %d entries", ErrInvalidInput, total)
	}

	log.Infof("Resolved %d unique models from %d entries", len(refs), total)
	return refs, nil
}

// ParseGalleryURL extracts a model reference from a single gallery URL.
// Unlike Resolve, a bare non-numeric entry is rejected: the gallery flow
// requires an explicit /models/<id> URL or a numeric ID.
func ParseGalleryURL(rawURL string) (models.ModelRef, error) {
	entry := strings.TrimSpace(rawURL)
	if entry == "" {
		return models.ModelRef{}, fmt.Errorf("%w: empty URL", ErrInvalidInput)
	}

	if m := modelIDRe.FindStringSubmatch(entry); m != nil {
		ref := models.ModelRef{ModelID: m[1]}
		if v := versionIDRe.FindStringSubmatch(entry); v != nil {
			ref.VersionID = v[1]
		}
		return ref, nil
	}

	if bareIDRe.MatchString(entry) {
		return models.ModelRef{ModelID: entry}, nil
	}

	return models.ModelRef{}, fmt.Errorf("%w: no model ID found in %q", ErrInvalidInput, entry)
}

// parseEntry extracts a ModelRef from one trimmed entry. When no
// /models/ segment exists the whole entry is taken as a literal ID, so
// malformed entries surface later as metadata failures in the report
// instead of disappearing here.
func parseEntry(entry string) models.ModelRef {
	if m := modelIDRe.FindStringSubmatch(entry); m != nil {
		ref := models.ModelRef{ModelID: m[1]}
		if v := versionIDRe.FindStringSubmatch(entry); v != nil {
			ref.VersionID = v[1]
		}
		return ref
	}

	return models.ModelRef{ModelID: entry}
}
