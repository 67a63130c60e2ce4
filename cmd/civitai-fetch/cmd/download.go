package cmd

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-fetch/internal/api"
	"go-civitai-fetch/internal/collector"
	"go-civitai-fetch/internal/downloader"
	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/index"
	"go-civitai-fetch/internal/models"
	"go-civitai-fetch/internal/paths"
	"go-civitai-fetch/internal/pipeline"
	"go-civitai-fetch/internal/report"
	"go-civitai-fetch/internal/resolver"
)

var (
	downloadFileFlag    string
	downloadPatternFlag string
	downloadNsfwFlag    bool
	downloadVerifyFlag  bool
	downloadNoIndex     bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [url|id]...",
	Short: "Download model files with metadata report",
	Long: `Downloads the primary file of each given model, writes a CSV report of
the collected metadata and final statuses, and updates the local catalog.
Models can be given as civitai.com URLs or bare numeric IDs, directly as
arguments or via --file with one entry per line.`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadFileFlag, "file", "f", "", "File with one model URL/ID per line")
	downloadCmd.Flags().StringVar(&downloadPatternFlag, "path-pattern", "", "Subdirectory pattern under the save path, e.g. \"{baseModel}/{modelName}_{modelId}\"")
	downloadCmd.Flags().BoolVar(&downloadNsfwFlag, "nsfw", false, "Also download NSFW-classified models")
	downloadCmd.Flags().BoolVar(&downloadVerifyFlag, "verify", true, "Verify file hashes after download")
	downloadCmd.Flags().BoolVar(&downloadNoIndex, "no-index", false, "Skip updating the local catalog index")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	entries, err := gatherEntries(args, downloadFileFlag)
	if err != nil {
		return err
	}

	refs, err := resolver.Resolve(entries)
	if err != nil {
		return err
	}

	cfg := globalConfig
	client := api.NewClient(cfg.APIKey, &http.Client{Transport: globalTransport}, cfg)
	coll := collector.New(client, cfg.APIKey)

	dl := downloader.NewDownloader(&http.Client{Transport: globalTransport, Timeout: 15 * time.Minute}, cfg)
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()
	dl.OnProgress = func(written, total uint64) {
		if total > 0 {
			fmt.Fprintf(writer, "Downloading... %s / %s\n", helpers.BytesToSize(written), helpers.BytesToSize(total))
		} else {
			fmt.Fprintf(writer, "Downloading... %s\n", helpers.BytesToSize(written))
		}
	}

	reportFile := filepath.Join(cfg.ReportPath, paths.ReportFilename(time.Now()))
	sink := &teeSink{next: &report.CSVSink{Path: reportFile}}

	pipe := pipeline.New(coll, dl, sink, cfg)
	summary, runErr := pipe.Run(ctx, refs)

	if !downloadNoIndex {
		if err := updateCatalog(cfg.IndexPath, sink.last); err != nil {
			log.WithError(err).Warn("Failed to update catalog index")
		}
	}

	fmt.Printf("Done: %d models, %d downloaded, %d skipped, %d failed\n",
		summary.Total, summary.Success, summary.Skipped, summary.Failed)
	fmt.Printf("Report: %s\n", reportFile)
	return runErr
}

// gatherEntries merges positional arguments with lines from --file.
func gatherEntries(args []string, listFile string) ([]string, error) {
	entries := append([]string(nil), args...)

	if listFile != "" {
		f, err := os.Open(helpers.SanitizePath(listFile))
		if err != nil {
			return nil, fmt.Errorf("opening list file %s: %w", listFile, err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			entries = append(entries, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading list file %s: %w", listFile, err)
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("no model URLs or IDs given (pass arguments or --file)")
	}
	return entries, nil
}

// teeSink forwards rows to the real sink and remembers the latest set
// so the catalog can be updated after the run.
type teeSink struct {
	next report.Sink
	last []report.Row
}

func (t *teeSink) Write(rows []report.Row) error {
	t.last = rows
	return t.next.Write(rows)
}

// updateCatalog indexes all terminal rows of the finished run.
func updateCatalog(indexPath string, rows []report.Row) error {
	if len(rows) == 0 {
		return nil
	}

	idx, err := index.OpenOrCreate(indexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	indexed := 0
	for _, row := range rows {
		if !row.Status.Terminal() {
			continue
		}
		filename := ""
		if row.Status.Kind == models.StatusSuccess {
			filename = row.Status.Detail
		}
		entry := index.Entry{
			ID:            row.ModelID,
			Name:          row.Name,
			Filename:      filename,
			BaseModel:     row.BaseModel,
			Tags:          row.Tags,
			TriggerWords:  row.TriggerWords,
			SHA256:        row.SHA256,
			Nsfw:          string(row.Nsfw),
			FormattedSize: row.FormattedSize,
			Status:        row.Status.String(),
		}
		if err := index.Add(idx, entry); err != nil {
			log.WithError(err).Warnf("Failed to index model %s", row.ModelID)
			continue
		}
		indexed++
	}

	log.Debugf("Indexed %d models into the catalog", indexed)
	return nil
}
