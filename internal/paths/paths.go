// Package paths builds the filesystem layout for downloaded content:
// model files under the save path, per-model gallery directories under
// the images path, and report files under the report path.
package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/models"
)

var allowedTags = map[string]struct{}{
	"modelId":   {},
	"modelName": {},
	"versionId": {},
	"baseModel": {},
	"imageId":   {},
}

var tagRegex = regexp.MustCompile(`\{([^}]+)\}`)

// GeneratePath substitutes placeholders in a pattern string with
// sanitized values from the data map and returns a safe relative path.
func GeneratePath(pattern string, data map[string]string) (string, error) {
	generatedPath := pattern

	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		if len(match) < 2 {
			continue
		}
		tagName := match[1]
		tagWithBraces := match[0]

		if _, allowed := allowedTags[tagName]; !allowed {
			return "", fmt.Errorf("unknown tag in path pattern: %s", tagWithBraces)
		}

		sanitized := helpers.ConvertToSlug(data[tagName])
		if sanitized == "" {
			sanitized = "empty_" + tagName
		}
		generatedPath = strings.ReplaceAll(generatedPath, tagWithBraces, sanitized)
	}

	cleaned := filepath.Clean(generatedPath)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("path pattern %q produced an empty path", pattern)
	}
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("generated path contains invalid sequence '..': %s", cleaned)
	}

	return cleaned, nil
}

// GalleryDir returns the per-model image directory name:
// <model-name-slug>_<modelId>, plus _<versionId> when a version was
// requested.
func GalleryDir(modelName string, ref models.ModelRef) string {
	slug := helpers.ConvertToSlug(modelName)
	if slug == "" {
		slug = "model"
	}
	dir := fmt.Sprintf("%s_%s", slug, ref.ModelID)
	if ref.VersionID != "" {
		dir = fmt.Sprintf("%s_%s", dir, ref.VersionID)
	}
	return dir
}

// ReportFilename returns a timestamped report name so successive runs
// never overwrite each other.
func ReportFilename(now time.Time) string {
	return fmt.Sprintf("civitai_report_%s.csv", now.Format("2006-01-02_150405"))
}
