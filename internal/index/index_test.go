package index

import (
	"path/filepath"
	"testing"

	"go-civitai-fetch/internal/models"
)

func TestOpenAddSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.bleve")

	idx, err := OpenOrCreate(path)
	if err != nil {
		t.Fatalf("OpenOrCreate failed: %v", err)
	}
	defer idx.Close()

	meta := models.ModelMetadata{
		ModelID:   "1102",
		Name:      "Anime Style Model",
		BaseModel: "SD 1.5",
		Tags:      []string{"anime", "style"},
		Nsfw:      models.ClassSFW,
		Internal:  models.InternalMeta{Filename: "anime_style_model.safetensors"},
	}

	if err := Add(idx, EntryFromMetadata(meta, models.Success("anime_style_model.safetensors"))); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	results, err := Search(idx, "anime")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results.Total != 1 {
		t.Fatalf("Expected 1 hit, got %d", results.Total)
	}
	if results.Hits[0].ID != "1102" {
		t.Errorf("Expected hit ID 1102, got %s", results.Hits[0].ID)
	}
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.bleve")

	idx, err := OpenOrCreate(path)
	if err != nil {
		t.Fatalf("First open failed: %v", err)
	}
	if err := Add(idx, Entry{ID: "1", Name: "persisted"}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	idx.Close()

	idx2, err := OpenOrCreate(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer idx2.Close()

	results, err := Search(idx2, "persisted")
	if err != nil {
		t.Fatalf("Search after reopen failed: %v", err)
	}
	if results.Total != 1 {
		t.Errorf("Expected persisted entry to survive reopen, got %d hits", results.Total)
	}
}
