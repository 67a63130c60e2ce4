// Package index maintains a local full-text catalog of downloaded
// models, searchable from the CLI.
package index

import (
	"os"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"go-civitai-fetch/internal/models"
)

const defaultIndexPath = "civitai-fetch.bleve"

// Entry is one cataloged model. All fields are indexed and searchable
// by their lowercase JSON tag names (e.g. '+baseModel:"SD 1.5"' or
// '+tags:anime').
type Entry struct {
	ID            string   `json:"id"` // model ID
	Name          string   `json:"name"`
	Filename      string   `json:"filename,omitempty"`
	BaseModel     string   `json:"baseModel,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	TriggerWords  []string `json:"triggerWords,omitempty"`
	SHA256        string   `json:"sha256,omitempty"`
	Nsfw          string   `json:"nsfw"`
	FormattedSize string   `json:"size,omitempty"`
	Status        string   `json:"status,omitempty"`
}

// EntryFromMetadata builds an index entry from a collected model and
// its final pipeline status.
func EntryFromMetadata(meta models.ModelMetadata, status models.DownloadStatus) Entry {
	return Entry{
		ID:            meta.ModelID,
		Name:          meta.Name,
		Filename:      meta.Internal.Filename,
		BaseModel:     meta.BaseModel,
		Tags:          meta.Tags,
		TriggerWords:  meta.TriggerWords,
		SHA256:        meta.SHA256,
		Nsfw:          string(meta.Nsfw),
		FormattedSize: meta.FormattedSize,
		Status:        status.String(),
	}
}

// OpenOrCreate opens the catalog at indexPath, creating it on first use.
func OpenOrCreate(indexPath string) (bleve.Index, error) {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}

	idx, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Infof("Creating new catalog index at %s", indexPath)
		mapping := bleve.NewIndexMapping()
		return bleve.New(indexPath, mapping)
	}
	if err != nil {
		return nil, err
	}
	log.Debugf("Opened existing catalog index at %s", indexPath)
	return idx, nil
}

// Add inserts or updates one entry.
func Add(idx bleve.Index, entry Entry) error {
	return idx.Index(entry.ID, entry)
}

// Search runs a query-string query against the catalog.
func Search(idx bleve.Index, query string) (*bleve.SearchResult, error) {
	searchQuery := bleve.NewQueryStringQuery(query)
	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = []string{"*"}
	return idx.Search(searchRequest)
}

// Delete removes the catalog directory entirely.
func Delete(indexPath string) error {
	if indexPath == "" {
		indexPath = defaultIndexPath
	}
	log.Warnf("Deleting catalog index at %s", indexPath)
	return os.RemoveAll(indexPath)
}
