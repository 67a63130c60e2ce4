package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-fetch/internal/api"
	"go-civitai-fetch/internal/config"
	"go-civitai-fetch/internal/models"
)

// Persistent flag values. Whether a flag was actually set is checked via
// cobra before it is allowed to override the config file.
var (
	cfgFile        string
	apiKeyFlag     string
	savePathFlag   string
	imagesPathFlag string
	reportPathFlag string
	indexPathFlag  string
	logLevelFlag   string
	logFormatFlag  string
	logApiFlag     bool
	apiDelayFlag   int
	apiTimeoutFlag int
	maxRetriesFlag int
	retryDelayFlag int
)

// globalConfig and globalTransport are populated once per invocation in
// PersistentPreRunE and read by every subcommand.
var (
	globalConfig    models.Config
	globalTransport http.RoundTripper
)

var rootCmd = &cobra.Command{
	Use:   "civitai-fetch",
	Short: "Download and catalog models from Civitai",
	Long: `civitai-fetch downloads model files and galleries from Civitai.com,
collects their metadata into a run report, and maintains a searchable
local catalog of everything fetched.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute runs the root command. Called once from main.
func Execute() {
	defer api.CloseAllLoggingTransports()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Configuration file path (default ./config.toml)")
	pf.StringVar(&apiKeyFlag, "api-key", "", "Civitai API key (overrides config)")
	pf.StringVar(&savePathFlag, "save-path", "", "Directory for model files (overrides config)")
	pf.StringVar(&imagesPathFlag, "images-path", "", "Directory for gallery images (overrides config)")
	pf.StringVar(&reportPathFlag, "report-path", "", "Directory for run reports (overrides config)")
	pf.StringVar(&indexPathFlag, "index-path", "", "Path of the local catalog index (overrides config)")
	pf.StringVar(&logLevelFlag, "log-level", "", "Logging level (trace, debug, info, warn, error)")
	pf.StringVar(&logFormatFlag, "log-format", "", "Logging format (text, json)")
	pf.BoolVar(&logApiFlag, "log-api", false, "Mirror API requests/responses into api.log")
	pf.IntVar(&apiDelayFlag, "api-delay", -1, "Minimum delay between API calls in ms")
	pf.IntVar(&apiTimeoutFlag, "api-timeout", -1, "API HTTP client timeout in seconds")
	pf.IntVar(&maxRetriesFlag, "max-retries", -1, "Attempt cap for retryable requests")
	pf.IntVar(&retryDelayFlag, "retry-delay", -1, "Base retry backoff delay in ms")
}

// loadGlobalConfig merges defaults, config file, environment, and flags,
// then configures logging.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	flags := config.CliFlags{}
	set := cmd.Flags().Changed

	if set("config") {
		flags.ConfigFilePath = &cfgFile
	}
	if set("api-key") {
		flags.APIKey = &apiKeyFlag
	}
	if set("save-path") {
		flags.SavePath = &savePathFlag
	}
	if set("images-path") {
		flags.ImagesPath = &imagesPathFlag
	}
	if set("report-path") {
		flags.ReportPath = &reportPathFlag
	}
	if set("index-path") {
		flags.IndexPath = &indexPathFlag
	}
	if set("log-level") {
		flags.LogLevel = &logLevelFlag
	}
	if set("log-format") {
		flags.LogFormat = &logFormatFlag
	}
	if set("log-api") {
		flags.LogApiRequests = &logApiFlag
	}
	if set("api-delay") {
		flags.APIDelayMs = &apiDelayFlag
	}
	if set("api-timeout") {
		flags.APIClientTimeoutSec = &apiTimeoutFlag
	}
	if set("max-retries") {
		flags.MaxRetries = &maxRetriesFlag
	}
	if set("retry-delay") {
		flags.InitialRetryDelayMs = &retryDelayFlag
	}

	collectCommandFlags(cmd, &flags)

	cfg, transport, err := config.Initialize(flags)
	if err != nil {
		return err
	}
	globalConfig = cfg
	globalTransport = transport

	setupLogging(cfg)
	return nil
}

// collectCommandFlags picks up subcommand-specific flag overrides.
func collectCommandFlags(cmd *cobra.Command, flags *config.CliFlags) {
	set := cmd.Flags().Changed

	switch cmd.Name() {
	case "download":
		dl := &config.CliDownloadFlags{}
		if set("path-pattern") {
			dl.PathPattern = &downloadPatternFlag
		}
		if set("nsfw") {
			dl.Nsfw = &downloadNsfwFlag
		}
		if set("verify") {
			dl.VerifyHash = &downloadVerifyFlag
		}
		flags.Download = dl
	case "images":
		img := &config.CliImagesFlags{}
		if set("nsfw") {
			img.Nsfw = &imagesNsfwFlag
		}
		if set("limit") {
			img.Limit = &imagesLimitFlag
		}
		if set("max-pages") {
			img.MaxPages = &imagesMaxPagesFlag
		}
		if set("page-delay") {
			img.PageDelayMs = &imagesPageDelayFlag
		}
		flags.Images = img
	case "torrent":
		tor := &config.CliTorrentFlags{}
		if set("output-dir") {
			tor.OutputDir = &torrentOutputDirFlag
		}
		if set("trackers") {
			tor.Trackers = &torrentTrackersFlag
		}
		if set("overwrite") {
			tor.Overwrite = &torrentOverwriteFlag
		}
		if set("magnet-links") {
			tor.MagnetLinks = &torrentMagnetFlag
		}
		flags.Torrent = tor
	}
}

func setupLogging(cfg models.Config) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// commandContext returns a context cancelled on SIGINT/SIGTERM so an
// interrupt unwinds cleanly mid-download.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
