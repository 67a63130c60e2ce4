package cmd

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-fetch/internal/api"
	"go-civitai-fetch/internal/downloader"
	"go-civitai-fetch/internal/gallery"
	"go-civitai-fetch/internal/helpers"
	"go-civitai-fetch/internal/paths"
	"go-civitai-fetch/internal/resolver"
)

var (
	imagesNsfwFlag      string
	imagesLimitFlag     int
	imagesMaxPagesFlag  int
	imagesPageDelayFlag int
)

var imagesCmd = &cobra.Command{
	Use:   "images <url|id>",
	Short: "Download a model's full image gallery",
	Long: `Walks the paginated image gallery of one model to completion and
downloads every image into a per-model directory. The NSFW filter
is passed to the API: omit for everything, "false" for SFW only,
"true" for NSFW only.`,
	Args: cobra.ExactArgs(1),
	RunE: runImages,
}

func init() {
	imagesCmd.Flags().StringVar(&imagesNsfwFlag, "nsfw", "", `Gallery NSFW filter: "", "false" or "true"`)
	imagesCmd.Flags().IntVar(&imagesLimitFlag, "limit", 100, "Images per page request")
	imagesCmd.Flags().IntVar(&imagesMaxPagesFlag, "max-pages", 0, "Page cap, 0 for unbounded")
	imagesCmd.Flags().IntVar(&imagesPageDelayFlag, "page-delay", 500, "Delay between page fetches in ms")
	rootCmd.AddCommand(imagesCmd)
}

func runImages(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	ref, err := resolver.ParseGalleryURL(args[0])
	if err != nil {
		return err
	}

	cfg := globalConfig
	client := api.NewClient(cfg.APIKey, &http.Client{Transport: globalTransport}, cfg)

	// The model name feeds the gallery directory; a failed lookup falls
	// back to the bare IDs rather than aborting the walk.
	modelName := ""
	if model, err := client.GetModelDetails(ctx, ref.ModelID); err == nil {
		modelName = model.Name
	} else {
		log.WithError(err).Warnf("Could not fetch model %s name, using IDs for directory", ref.ModelID)
	}

	destDir := filepath.Join(cfg.ImagesPath, paths.GalleryDir(modelName, ref))
	if !helpers.CheckAndMakeDir(destDir) {
		return fmt.Errorf("failed to create image directory %s", destDir)
	}

	dl := downloader.NewDownloader(&http.Client{Transport: globalTransport, Timeout: 5 * time.Minute}, cfg)
	writer := uilive.New()
	writer.Start()
	defer writer.Stop()
	dl.OnProgress = func(written, total uint64) {
		fmt.Fprintf(writer, "Downloading image... %s\n", helpers.BytesToSize(written))
	}

	walker := gallery.NewWalker(client, dl, cfg.Images)

	summary, err := walker.Download(ctx, ref, cfg.Images.Nsfw, destDir)

	fmt.Printf("Gallery: %d downloaded, %d skipped, %d failed across %d pages\n",
		summary.Downloaded, summary.Skipped, summary.Failed, summary.Pages)
	fmt.Printf("Images: %s\n", destDir)
	return err
}
