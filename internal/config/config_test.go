package config

import (
	"os"
	"path/filepath"
	"testing"
)

// missingConfigFlags points the config file at a nonexistent path so
// tests never pick up a developer's local config.toml.
func missingConfigFlags(t *testing.T) CliFlags {
	t.Helper()
	path := filepath.Join(t.TempDir(), "missing.toml")
	return CliFlags{ConfigFilePath: &path}
}

// TestConfigInitialization tests basic configuration initialization
func TestConfigInitialization(t *testing.T) {
	cfg, transport, err := Initialize(missingConfigFlags(t))
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.SavePath != DefaultSavePath {
		t.Errorf("Expected default save path %q, got %q", DefaultSavePath, cfg.SavePath)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("Expected default max retries %d, got %d", DefaultMaxRetries, cfg.MaxRetries)
	}
	if cfg.Images.Limit != DefaultImagesLimit {
		t.Errorf("Expected default images limit %d, got %d", DefaultImagesLimit, cfg.Images.Limit)
	}
	if !cfg.Download.VerifyHash {
		t.Error("Expected hash verification on by default")
	}
	if cfg.Download.Nsfw {
		t.Error("Expected NSFW downloads off by default")
	}
	if transport == nil {
		t.Error("Expected a transport to be returned")
	}
}

// TestFlagOverrides tests that CLI flags override default values
func TestFlagOverrides(t *testing.T) {
	flags := missingConfigFlags(t)
	savePath := "/tmp/custom-models"
	maxRetries := 7
	nsfw := true
	imagesLimit := 25
	flags.SavePath = &savePath
	flags.MaxRetries = &maxRetries
	flags.Download = &CliDownloadFlags{Nsfw: &nsfw}
	flags.Images = &CliImagesFlags{Limit: &imagesLimit}

	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.SavePath != savePath {
		t.Errorf("Expected save path %q from flag, got %q", savePath, cfg.SavePath)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("Expected max retries 7 from flag, got %d", cfg.MaxRetries)
	}
	if !cfg.Download.Nsfw {
		t.Error("Expected NSFW flag override to apply")
	}
	if cfg.Images.Limit != 25 {
		t.Errorf("Expected images limit 25 from flag, got %d", cfg.Images.Limit)
	}
}

// TestConfigFile tests that a TOML config file is read and merged
func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `SavePath = "from-file"
MaxRetries = 2

[Download]
Nsfw = true

[Images]
Limit = 42
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Writing config file: %v", err)
	}

	flags := CliFlags{ConfigFilePath: &path}
	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.SavePath != "from-file" {
		t.Errorf("Expected save path from file, got %q", cfg.SavePath)
	}
	if cfg.MaxRetries != 2 {
		t.Errorf("Expected max retries 2 from file, got %d", cfg.MaxRetries)
	}
	if !cfg.Download.Nsfw {
		t.Error("Expected Download.Nsfw from file")
	}
	if cfg.Images.Limit != 42 {
		t.Errorf("Expected images limit 42 from file, got %d", cfg.Images.Limit)
	}
}

// TestFlagBeatsFile tests that flags take precedence over file values
func TestFlagBeatsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`SavePath = "from-file"`), 0600); err != nil {
		t.Fatalf("Writing config file: %v", err)
	}

	savePath := "from-flag"
	flags := CliFlags{ConfigFilePath: &path, SavePath: &savePath}
	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}

	if cfg.SavePath != "from-flag" {
		t.Errorf("Expected flag to beat file, got %q", cfg.SavePath)
	}
}

// TestImagesNsfwValidation tests rejection of invalid gallery NSFW modes
func TestImagesNsfwValidation(t *testing.T) {
	for _, valid := range []string{"", "false", "true"} {
		flags := missingConfigFlags(t)
		mode := valid
		flags.Images = &CliImagesFlags{Nsfw: &mode}
		if _, _, err := Initialize(flags); err != nil {
			t.Errorf("Mode %q should be valid: %v", valid, err)
		}
	}

	flags := missingConfigFlags(t)
	bad := "Mature"
	flags.Images = &CliImagesFlags{Nsfw: &bad}
	if _, _, err := Initialize(flags); err == nil {
		t.Error("Expected invalid NSFW mode to be rejected")
	}
}

// TestEmptySavePathRejected tests the SavePath validation
func TestEmptySavePathRejected(t *testing.T) {
	flags := missingConfigFlags(t)
	empty := ""
	flags.SavePath = &empty
	if _, _, err := Initialize(flags); err == nil {
		t.Error("Expected empty SavePath to be rejected")
	}
}

// TestImagesPathDefaultsUnderSavePath tests the derived images path
func TestImagesPathDefaultsUnderSavePath(t *testing.T) {
	flags := missingConfigFlags(t)
	savePath := "/data/civitai"
	empty := ""
	flags.SavePath = &savePath
	flags.ImagesPath = &empty
	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Failed to initialize config: %v", err)
	}
	if cfg.ImagesPath != filepath.Join(savePath, "images") {
		t.Errorf("Expected derived images path, got %q", cfg.ImagesPath)
	}
}

// TestPathPatternValidation tests Download.PathPattern tag checking
func TestPathPatternValidation(t *testing.T) {
	flags := missingConfigFlags(t)
	bad := "{creatorName}/{modelId}"
	flags.Download = &CliDownloadFlags{PathPattern: &bad}
	if _, _, err := Initialize(flags); err == nil {
		t.Error("Expected unknown pattern tag to be rejected")
	}

	flags = missingConfigFlags(t)
	good := "{baseModel}/{modelName}_{modelId}"
	flags.Download = &CliDownloadFlags{PathPattern: &good}
	cfg, _, err := Initialize(flags)
	if err != nil {
		t.Fatalf("Valid pattern rejected: %v", err)
	}
	if cfg.Download.PathPattern != good {
		t.Errorf("Expected pattern %q, got %q", good, cfg.Download.PathPattern)
	}
}
