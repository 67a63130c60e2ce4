package models

import (
	"encoding/json"
	"fmt"
)

// StringOrStringSlice is a custom type that can unmarshal from either
// a JSON string or a JSON array of strings. Some Civitai fields return
// either format depending on the model.
type StringOrStringSlice []string

// UnmarshalJSON implements json.Unmarshaler for StringOrStringSlice
func (s *StringOrStringSlice) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = []string{str}
		return nil
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	*s = arr
	return nil
}

type (
	// Config holds the application's configuration settings.
	Config struct {
		SavePath            string         `toml:"SavePath" json:"SavePath"`
		ImagesPath          string         `toml:"ImagesPath" json:"ImagesPath"`
		ReportPath          string         `toml:"ReportPath" json:"ReportPath"`
		IndexPath           string         `toml:"IndexPath" json:"IndexPath"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		APIKey              string         `toml:"ApiKey" json:"ApiKey"`
		Torrent             TorrentConfig  `toml:"Torrent" json:"Torrent"`
		Download            DownloadConfig `toml:"Download" json:"Download"`
		Images              ImagesConfig   `toml:"Images" json:"Images"`
		APIDelayMs          int            `toml:"ApiDelayMs" json:"ApiDelayMs"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		MaxRetries          int            `toml:"MaxRetries" json:"MaxRetries"`
		InitialRetryDelayMs int            `toml:"InitialRetryDelayMs" json:"InitialRetryDelayMs"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// DownloadConfig holds settings specific to the 'download' command.
	DownloadConfig struct {
		// PathPattern lays models out under SavePath using {modelId},
		// {modelName}, {versionId} and {baseModel} placeholders. Empty
		// means a flat SavePath.
		PathPattern string `toml:"PathPattern"`
		Nsfw        bool   `toml:"Nsfw"`       // Download NSFW-classified models
		VerifyHash  bool   `toml:"VerifyHash"` // Verify SHA256 after download
	}

	// ImagesConfig holds settings specific to the 'images' command.
	ImagesConfig struct {
		Nsfw        string `toml:"Nsfw"` // "", "false" or "true"
		Limit       int    `toml:"Limit"`
		MaxPages    int    `toml:"MaxPages"`
		PageDelayMs int    `toml:"PageDelayMs"`
	}

	// TorrentConfig holds settings specific to the 'torrent' command.
	TorrentConfig struct {
		OutputDir     string `toml:"OutputDir"`
		Trackers      string `toml:"Trackers"`
		PieceLengthKB int    `toml:"PieceLengthKB"`
		Overwrite     bool   `toml:"Overwrite"`
		MagnetLinks   bool   `toml:"MagnetLinks"`
	}

	// --- Civitai API payloads ---

	Model struct {
		Name          string         `json:"name"`
		Description   string         `json:"description"`
		Type          string         `json:"type"`
		Creator       Creator        `json:"creator"`
		Tags          []string       `json:"tags"`
		ModelVersions []ModelVersion `json:"modelVersions"`
		ID            int            `json:"id"`
		Nsfw          bool           `json:"nsfw"`
		Poi           bool           `json:"poi"`
	}

	Creator struct {
		Username string `json:"username"`
		Image    string `json:"image"`
	}

	ModelVersion struct {
		Name         string              `json:"name"`
		BaseModel    string              `json:"baseModel"`
		DownloadUrl  string              `json:"downloadUrl"`
		CreatedAt    string              `json:"createdAt"`
		PublishedAt  string              `json:"publishedAt"`
		TrainedWords StringOrStringSlice `json:"trainedWords"`
		Files        []File              `json:"files"`
		ID           int                 `json:"id"`
		ModelId      int                 `json:"modelId"`
	}

	File struct {
		Name        string   `json:"name"`
		Type        string   `json:"type"`
		DownloadUrl string   `json:"downloadUrl"`
		Metadata    Metadata `json:"metadata"`
		Hashes      Hashes   `json:"hashes"`
		SizeKB      float64  `json:"sizeKB"`
		ID          int      `json:"id"`
		Primary     bool     `json:"primary"`
	}

	Metadata struct {
		Fp     string `json:"fp"`
		Size   string `json:"size"`
		Format string `json:"format"`
	}

	Hashes struct {
		AutoV1 string `json:"AutoV1"`
		AutoV2 string `json:"AutoV2"`
		SHA256 string `json:"SHA256"`
		CRC32  string `json:"CRC32"`
		BLAKE3 string `json:"BLAKE3"`
	}

	// GalleryPage is the response of the paginated /images endpoint.
	GalleryPage struct {
		Items    []GalleryItem `json:"items"`
		Metadata PageMetadata  `json:"metadata"`
	}

	// GalleryItem is a single image entry from the /images endpoint.
	GalleryItem struct {
		Nsfw     interface{} `json:"nsfw,omitempty"`
		URL      string      `json:"url"`
		Hash     string      `json:"hash"`
		Username string      `json:"username,omitempty"`
		ID       int         `json:"id"`
		Width    int         `json:"width"`
		Height   int         `json:"height"`
	}

	PageMetadata struct {
		NextPage    string `json:"nextPage"`
		PrevPage    string `json:"prevPage"`
		TotalItems  int    `json:"totalItems"`
		CurrentPage int    `json:"currentPage"`
		PageSize    int    `json:"pageSize"`
		TotalPages  int    `json:"totalPages"`
	}

	// GalleryParams defines the query parameters for one /images page request.
	GalleryParams struct {
		ModelID   string
		VersionID string
		Nsfw      string // "" omits the parameter, otherwise "false" or "true"
		Page      int
		Limit     int
	}
)

// ModelRef is a canonical (model ID, optional version ID) pair derived
// once from raw user input. Dedup key is the model ID only.
type ModelRef struct {
	ModelID   string
	VersionID string
}

// Classification is the NSFW/SFW verdict for a model.
type Classification string

const (
	ClassSFW  Classification = "SFW"
	ClassNSFW Classification = "NSFW"
)

// ModelMetadata is the extracted per-model record the pipeline reports on.
// Fields are set once by the collector; only the report status moves.
type ModelMetadata struct {
	ModelID       string
	Name          string
	Tags          []string
	TriggerWords  []string
	BaseModel     string
	SHA256        string
	AutoV1        string
	SizeBytes     uint64
	FormattedSize string
	Nsfw          Classification

	// Internal carries routing fields that never appear in the report.
	Internal InternalMeta
}

// InternalMeta holds download-phase routing data for a collected model.
type InternalMeta struct {
	DownloadURL string
	Filename    string
	VersionID   string
	IsNsfw      bool
}

// StatusKind enumerates the pipeline states of one unit of work.
type StatusKind int

const (
	StatusPending StatusKind = iota
	StatusSuccess
	StatusSkippedExisting
	StatusSkippedNsfw
	StatusFailed
	StatusMetadataFailed
)

// DownloadStatus is the per-model outcome recorded in the report.
// Transitions are monotonic: Pending moves to exactly one terminal state.
type DownloadStatus struct {
	Kind   StatusKind
	Detail string // filename for Success, reason for failures
}

// Terminal reports whether the status can no longer change.
func (s DownloadStatus) Terminal() bool {
	return s.Kind != StatusPending
}

func (s DownloadStatus) String() string {
	switch s.Kind {
	case StatusPending:
		return "Pending"
	case StatusSuccess:
		if s.Detail != "" {
			return fmt.Sprintf("Success - %s", s.Detail)
		}
		return "Success"
	case StatusSkippedExisting:
		return "Skipped (already exists)"
	case StatusSkippedNsfw:
		return "Skipped (NSFW)"
	case StatusFailed:
		if s.Detail != "" {
			return fmt.Sprintf("Failed - %s", s.Detail)
		}
		return "Download failed"
	case StatusMetadataFailed:
		return "Failed to fetch metadata"
	default:
		return "Unknown"
	}
}

// Pending is the initial status of every report row.
func Pending() DownloadStatus { return DownloadStatus{Kind: StatusPending} }

func Success(filename string) DownloadStatus {
	return DownloadStatus{Kind: StatusSuccess, Detail: filename}
}

func SkippedExisting() DownloadStatus { return DownloadStatus{Kind: StatusSkippedExisting} }

func SkippedNsfw() DownloadStatus { return DownloadStatus{Kind: StatusSkippedNsfw} }

func Failed(reason string) DownloadStatus {
	return DownloadStatus{Kind: StatusFailed, Detail: reason}
}

func MetadataFailed(reason string) DownloadStatus {
	return DownloadStatus{Kind: StatusMetadataFailed, Detail: reason}
}
