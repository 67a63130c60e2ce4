package filter

import (
	"testing"

	"go-civitai-fetch/internal/models"
)

func metas() []models.ModelMetadata {
	return []models.ModelMetadata{
		{ModelID: "1", Name: "clean-a", Nsfw: models.ClassSFW},
		{ModelID: "2", Name: "spicy", Nsfw: models.ClassNSFW},
		{ModelID: "3", Name: "clean-b", Nsfw: models.ClassSFW},
		{ModelID: "4", Name: "spicier", Nsfw: models.ClassNSFW},
	}
}

func TestPartition_PolicyOff(t *testing.T) {
	toDownload, toSkip := Partition(metas(), false)

	if len(toDownload) != 2 || len(toSkip) != 2 {
		t.Fatalf("Expected 2/2 split, got %d/%d", len(toDownload), len(toSkip))
	}

	if toDownload[0].ModelID != "1" || toDownload[1].ModelID != "3" {
		t.Errorf("Download order not preserved: %v", toDownload)
	}
	if toSkip[0].ModelID != "2" || toSkip[1].ModelID != "4" {
		t.Errorf("Skip order not preserved: %v", toSkip)
	}
}

func TestPartition_PolicyOn(t *testing.T) {
	all := metas()
	toDownload, toSkip := Partition(all, true)

	if len(toDownload) != len(all) {
		t.Errorf("Expected all %d models to proceed, got %d", len(all), len(toDownload))
	}
	if len(toSkip) != 0 {
		t.Errorf("Expected no skips with policy on, got %d", len(toSkip))
	}
}

func TestPartition_Empty(t *testing.T) {
	toDownload, toSkip := Partition(nil, false)
	if len(toDownload) != 0 || len(toSkip) != 0 {
		t.Errorf("Expected empty outputs, got %d/%d", len(toDownload), len(toSkip))
	}
}

func TestCountNsfw(t *testing.T) {
	if got := CountNsfw(metas()); got != 2 {
		t.Errorf("Expected 2 NSFW models, got %d", got)
	}
	if got := CountNsfw(nil); got != 0 {
		t.Errorf("Expected 0 for empty set, got %d", got)
	}
}
