// Package config merges defaults, a TOML config file, environment
// variables, and CLI flags into the runtime configuration.
// Precedence: flags > environment > config file > defaults.
package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go-civitai-fetch/internal/api"
	"go-civitai-fetch/internal/models"
	"go-civitai-fetch/internal/paths"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DefaultSavePath            = "models"
	DefaultImagesPath          = "images"
	DefaultReportPath          = "reports"
	DefaultIndexPath           = "civitai-fetch.bleve"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"
	DefaultAPIDelayMs          = 500
	DefaultAPIClientTimeoutSec = 60
	DefaultMaxRetries          = 5
	DefaultInitialRetryDelayMs = 1000
	DefaultLogApiRequests      = false

	DefaultDownloadNsfw        = false
	DefaultDownloadVerifyHash  = true
	DefaultDownloadPathPattern = "" // flat SavePath

	DefaultImagesNsfw        = "" // fetch everything
	DefaultImagesLimit       = 100
	DefaultImagesMaxPages    = 0
	DefaultImagesPageDelayMs = 500

	DefaultTorrentOutputDir     = "torrents"
	DefaultTorrentTrackers      = "udp://tracker.openbittorrent.com:80,udp://tracker.opentrackr.org:1337/announce"
	DefaultTorrentPieceLengthKB = 256
	DefaultTorrentOverwrite     = false
	DefaultTorrentMagnetLinks   = false
)

// DefaultConfig returns a Config populated with the built-in defaults,
// suitable for seeding a new config file.
func DefaultConfig() models.Config {
	return models.Config{
		SavePath:            DefaultSavePath,
		ImagesPath:          DefaultImagesPath,
		ReportPath:          DefaultReportPath,
		IndexPath:           DefaultIndexPath,
		LogLevel:            DefaultLogLevel,
		LogFormat:           DefaultLogFormat,
		LogApiRequests:      DefaultLogApiRequests,
		APIDelayMs:          DefaultAPIDelayMs,
		APIClientTimeoutSec: DefaultAPIClientTimeoutSec,
		MaxRetries:          DefaultMaxRetries,
		InitialRetryDelayMs: DefaultInitialRetryDelayMs,
		Download: models.DownloadConfig{
			PathPattern: DefaultDownloadPathPattern,
			Nsfw:        DefaultDownloadNsfw,
			VerifyHash:  DefaultDownloadVerifyHash,
		},
		Images: models.ImagesConfig{
			Nsfw:        DefaultImagesNsfw,
			Limit:       DefaultImagesLimit,
			MaxPages:    DefaultImagesMaxPages,
			PageDelayMs: DefaultImagesPageDelayMs,
		},
		Torrent: models.TorrentConfig{
			OutputDir:     DefaultTorrentOutputDir,
			Trackers:      DefaultTorrentTrackers,
			PieceLengthKB: DefaultTorrentPieceLengthKB,
			Overwrite:     DefaultTorrentOverwrite,
			MagnetLinks:   DefaultTorrentMagnetLinks,
		},
	}
}

func setViperDefaults(v *viper.Viper) {
	v.SetDefault("apikey", "")
	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("imagespath", DefaultImagesPath)
	v.SetDefault("reportpath", DefaultReportPath)
	v.SetDefault("indexpath", DefaultIndexPath)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("logapirequests", DefaultLogApiRequests)
	v.SetDefault("apidelayms", DefaultAPIDelayMs)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("maxretries", DefaultMaxRetries)
	v.SetDefault("initialretrydelayms", DefaultInitialRetryDelayMs)

	v.SetDefault("download.nsfw", DefaultDownloadNsfw)
	v.SetDefault("download.verifyhash", DefaultDownloadVerifyHash)
	v.SetDefault("download.pathpattern", DefaultDownloadPathPattern)

	v.SetDefault("images.nsfw", DefaultImagesNsfw)
	v.SetDefault("images.limit", DefaultImagesLimit)
	v.SetDefault("images.maxpages", DefaultImagesMaxPages)
	v.SetDefault("images.pagedelayms", DefaultImagesPageDelayMs)

	v.SetDefault("torrent.outputdir", DefaultTorrentOutputDir)
	v.SetDefault("torrent.trackers", DefaultTorrentTrackers)
	v.SetDefault("torrent.piecelengthkb", DefaultTorrentPieceLengthKB)
	v.SetDefault("torrent.overwrite", DefaultTorrentOverwrite)
	v.SetDefault("torrent.magnetlinks", DefaultTorrentMagnetLinks)
}

// CliFlags holds values received from command-line flags. Nil fields
// mean the flag was not provided.
type CliFlags struct {
	ConfigFilePath      *string
	APIKey              *string
	SavePath            *string
	ImagesPath          *string
	ReportPath          *string
	IndexPath           *string
	LogLevel            *string
	LogFormat           *string
	LogApiRequests      *bool
	APIDelayMs          *int
	APIClientTimeoutSec *int
	MaxRetries          *int
	InitialRetryDelayMs *int

	Download *CliDownloadFlags
	Images   *CliImagesFlags
	Torrent  *CliTorrentFlags
}

type CliDownloadFlags struct {
	PathPattern *string // --path-pattern
	Nsfw        *bool   // --nsfw
	VerifyHash  *bool   // --verify
}

type CliImagesFlags struct {
	Nsfw        *string // --nsfw ("", "false", "true")
	Limit       *int    // --limit
	MaxPages    *int    // --max-pages
	PageDelayMs *int    // --page-delay
}

type CliTorrentFlags struct {
	OutputDir   *string // -o
	Trackers    *string // --trackers
	Overwrite   *bool   // -f
	MagnetLinks *bool   // --magnet-links
}

// Initialize loads the configuration and builds the HTTP transport,
// wrapping it with request logging when enabled.
func Initialize(flags CliFlags) (models.Config, http.RoundTripper, error) {
	v := viper.New()
	v.SetEnvPrefix("CIVITAI")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setViperDefaults(v)

	configFilePath := DefaultConfigFilePath
	if flags.ConfigFilePath != nil {
		configFilePath = *flags.ConfigFilePath
	}
	v.SetConfigFile(configFilePath)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Debugf("Config file %s not found, using defaults and flags", configFilePath)
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debugf("Config file %s not found, using defaults and flags", configFilePath)
		} else {
			log.WithError(err).Warnf("Error reading config file %s, using defaults and flags", configFilePath)
		}
	} else {
		log.Debugf("Loaded config file %s", v.ConfigFileUsed())
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyFlags(&cfg, flags)

	if cfg.SavePath == "" {
		return models.Config{}, nil, fmt.Errorf("SavePath cannot be empty (set via --save-path or SavePath in config)")
	}
	if cfg.ImagesPath == "" {
		cfg.ImagesPath = filepath.Join(cfg.SavePath, "images")
	}
	if nsfw := cfg.Images.Nsfw; nsfw != "" && nsfw != "true" && nsfw != "false" {
		return models.Config{}, nil, fmt.Errorf("invalid Images.Nsfw value %q (use \"\", \"false\" or \"true\")", nsfw)
	}
	if pattern := cfg.Download.PathPattern; pattern != "" {
		if _, err := paths.GeneratePath(pattern, map[string]string{
			"modelId": "0", "modelName": "sample", "versionId": "0", "baseModel": "sample",
		}); err != nil {
			return models.Config{}, nil, fmt.Errorf("invalid Download.PathPattern: %w", err)
		}
	}

	transport := buildTransport(cfg)
	return cfg, transport, nil
}

func applyFlags(cfg *models.Config, flags CliFlags) {
	if flags.APIKey != nil {
		cfg.APIKey = *flags.APIKey
	}
	if flags.SavePath != nil {
		cfg.SavePath = *flags.SavePath
	}
	if flags.ImagesPath != nil {
		cfg.ImagesPath = *flags.ImagesPath
	}
	if flags.ReportPath != nil {
		cfg.ReportPath = *flags.ReportPath
	}
	if flags.IndexPath != nil {
		cfg.IndexPath = *flags.IndexPath
	}
	if flags.LogLevel != nil {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.LogFormat != nil {
		cfg.LogFormat = *flags.LogFormat
	}
	if flags.LogApiRequests != nil {
		cfg.LogApiRequests = *flags.LogApiRequests
	}
	if flags.APIDelayMs != nil {
		cfg.APIDelayMs = *flags.APIDelayMs
	}
	if flags.APIClientTimeoutSec != nil {
		cfg.APIClientTimeoutSec = *flags.APIClientTimeoutSec
	}
	if flags.MaxRetries != nil {
		cfg.MaxRetries = *flags.MaxRetries
	}
	if flags.InitialRetryDelayMs != nil {
		cfg.InitialRetryDelayMs = *flags.InitialRetryDelayMs
	}

	if flags.Download != nil {
		if flags.Download.PathPattern != nil {
			cfg.Download.PathPattern = *flags.Download.PathPattern
		}
		if flags.Download.Nsfw != nil {
			cfg.Download.Nsfw = *flags.Download.Nsfw
		}
		if flags.Download.VerifyHash != nil {
			cfg.Download.VerifyHash = *flags.Download.VerifyHash
		}
	}

	if flags.Images != nil {
		if flags.Images.Nsfw != nil {
			cfg.Images.Nsfw = *flags.Images.Nsfw
		}
		if flags.Images.Limit != nil {
			cfg.Images.Limit = *flags.Images.Limit
		}
		if flags.Images.MaxPages != nil {
			cfg.Images.MaxPages = *flags.Images.MaxPages
		}
		if flags.Images.PageDelayMs != nil {
			cfg.Images.PageDelayMs = *flags.Images.PageDelayMs
		}
	}

	if flags.Torrent != nil {
		if flags.Torrent.OutputDir != nil {
			cfg.Torrent.OutputDir = *flags.Torrent.OutputDir
		}
		if flags.Torrent.Trackers != nil {
			cfg.Torrent.Trackers = *flags.Torrent.Trackers
		}
		if flags.Torrent.Overwrite != nil {
			cfg.Torrent.Overwrite = *flags.Torrent.Overwrite
		}
		if flags.Torrent.MagnetLinks != nil {
			cfg.Torrent.MagnetLinks = *flags.Torrent.MagnetLinks
		}
	}
}

// buildTransport returns the HTTP transport for all API traffic,
// wrapped with file logging when LogApiRequests is set.
func buildTransport(cfg models.Config) http.RoundTripper {
	base := http.DefaultTransport
	if !cfg.LogApiRequests {
		return base
	}

	logFilePath := "api.log"
	if cfg.SavePath != "" {
		if _, err := os.Stat(cfg.SavePath); err == nil {
			logFilePath = filepath.Join(cfg.SavePath, logFilePath)
		}
	}

	loggingTransport, err := api.NewLoggingTransport(base, logFilePath)
	if err != nil {
		log.WithError(err).Error("Failed to initialize API request logging, continuing without it")
		return base
	}
	log.Infof("API requests logged to %s", logFilePath)
	return loggingTransport
}
