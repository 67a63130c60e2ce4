package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-civitai-fetch/internal/helpers"
)

var (
	torrentOutputDirFlag string
	torrentTrackersFlag  string
	torrentOverwriteFlag bool
	torrentMagnetFlag    bool
)

var torrentCmd = &cobra.Command{
	Use:   "torrent <path>...",
	Short: "Generate .torrent files for downloaded models",
	Long: `Generates a BitTorrent metainfo (.torrent) file for each given file or
directory under the save path, so fetched models can be reshared.
Tracker announce URLs come from --trackers or the config file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTorrent,
}

func init() {
	torrentCmd.Flags().StringVarP(&torrentOutputDirFlag, "output-dir", "o", "", "Directory for generated .torrent files")
	torrentCmd.Flags().StringVar(&torrentTrackersFlag, "trackers", "", "Comma-separated tracker announce URLs")
	torrentCmd.Flags().BoolVarP(&torrentOverwriteFlag, "overwrite", "f", false, "Overwrite existing .torrent files")
	torrentCmd.Flags().BoolVar(&torrentMagnetFlag, "magnet-links", false, "Also write magnet link files")
	rootCmd.AddCommand(torrentCmd)
}

func runTorrent(cmd *cobra.Command, args []string) error {
	cfg := globalConfig

	trackers := splitTrackers(cfg.Torrent.Trackers)
	if len(trackers) == 0 {
		return fmt.Errorf("no valid tracker URLs configured (--trackers or Torrent.Trackers)")
	}

	outputDir := cfg.Torrent.OutputDir
	if !helpers.CheckAndMakeDir(outputDir) {
		return fmt.Errorf("failed to create torrent output directory %s", outputDir)
	}

	generated, failed := 0, 0
	for _, sourcePath := range args {
		if _, err := os.Stat(sourcePath); err != nil {
			log.WithError(err).Errorf("Skipping %s", sourcePath)
			failed++
			continue
		}

		outPath := filepath.Join(outputDir, filepath.Base(sourcePath)+".torrent")
		if !cfg.Torrent.Overwrite {
			if _, err := os.Stat(outPath); err == nil {
				log.Infof("Torrent %s already exists, skipping (use -f to overwrite)", outPath)
				continue
			}
		}

		mi, info, err := buildMetainfo(sourcePath, trackers, cfg.Torrent.PieceLengthKB)
		if err != nil {
			log.WithError(err).Errorf("Failed to build torrent for %s", sourcePath)
			failed++
			continue
		}

		if err := writeTorrentFile(outPath, mi); err != nil {
			log.WithError(err).Errorf("Failed to write %s", outPath)
			failed++
			continue
		}
		generated++
		fmt.Printf("Wrote %s\n", outPath)

		if cfg.Torrent.MagnetLinks {
			magnetPath := strings.TrimSuffix(outPath, ".torrent") + "-magnet.txt"
			uri := magnetURI(mi, info)
			if err := os.WriteFile(magnetPath, []byte(uri+"\n"), 0600); err != nil {
				log.WithError(err).Warnf("Failed to write magnet file %s", magnetPath)
			} else {
				fmt.Printf("Wrote %s\n", magnetPath)
			}
		}
	}

	fmt.Printf("Torrents: %d generated, %d failed\n", generated, failed)
	if failed > 0 {
		return fmt.Errorf("%d torrent(s) failed", failed)
	}
	return nil
}

// splitTrackers parses the comma-separated tracker list, dropping URLs
// with unsupported schemes.
func splitTrackers(raw string) []string {
	var valid []string
	for _, tracker := range strings.Split(raw, ",") {
		tracker = strings.TrimSpace(tracker)
		if tracker == "" {
			continue
		}
		parsed, err := url.Parse(tracker)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "udp") {
			log.Warnf("Ignoring invalid tracker URL: %s", tracker)
			continue
		}
		valid = append(valid, tracker)
	}
	return valid
}

// buildMetainfo constructs the torrent metainfo for one file or directory.
func buildMetainfo(sourcePath string, trackers []string, pieceLengthKB int) (*metainfo.MetaInfo, metainfo.Info, error) {
	mi := metainfo.MetaInfo{
		CreatedBy:    "civitai-fetch",
		CreationDate: time.Now().Unix(),
		Announce:     trackers[0],
		AnnounceList: [][]string{trackers},
	}

	if pieceLengthKB <= 0 {
		pieceLengthKB = 256
	}
	info := metainfo.Info{
		PieceLength: int64(pieceLengthKB) * 1024,
		Name:        filepath.Base(sourcePath),
	}

	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("building torrent info from %s: %w", sourcePath, err)
	}
	if len(info.Files) == 0 && info.Length == 0 {
		return nil, metainfo.Info{}, fmt.Errorf("no files found under %s", sourcePath)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("marshaling torrent info: %w", err)
	}
	mi.InfoBytes = infoBytes

	return &mi, info, nil
}

func writeTorrentFile(outPath string, mi *metainfo.MetaInfo) error {
	f, err := os.Create(helpers.SanitizePath(outPath))
	if err != nil {
		return fmt.Errorf("creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()

	if err := mi.Write(f); err != nil {
		if removeErr := os.Remove(outPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.WithError(removeErr).Warnf("Failed to remove partial torrent file %s", outPath)
		}
		return fmt.Errorf("writing torrent file %s: %w", outPath, err)
	}
	return nil
}

// magnetURI renders a magnet link for the generated torrent.
func magnetURI(mi *metainfo.MetaInfo, info metainfo.Info) string {
	parts := []string{
		fmt.Sprintf("magnet:?xt=urn:btih:%s", mi.HashInfoBytes().HexString()),
		fmt.Sprintf("dn=%s", url.QueryEscape(info.Name)),
	}
	for _, tier := range mi.AnnounceList {
		for _, tracker := range tier {
			parts = append(parts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
		}
	}
	return strings.Join(parts, "&")
}
