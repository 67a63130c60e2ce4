package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"go-civitai-fetch/internal/index"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the local catalog of fetched models",
	Long: `Searches the local catalog built up by the download command. The query
uses bleve query-string syntax, e.g. 'anime', '+baseModel:"SD 1.5"',
or '+tags:style +nsfw:SFW'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	idx, err := index.OpenOrCreate(globalConfig.IndexPath)
	if err != nil {
		return fmt.Errorf("opening catalog index: %w", err)
	}
	defer idx.Close()

	query := strings.Join(args, " ")
	results, err := index.Search(idx, query)
	if err != nil {
		return fmt.Errorf("searching catalog: %w", err)
	}

	if results.Total == 0 {
		fmt.Println("No matches.")
		return nil
	}

	fmt.Printf("%d match(es):\n", results.Total)
	for _, hit := range results.Hits {
		name, _ := hit.Fields["name"].(string)
		baseModel, _ := hit.Fields["baseModel"].(string)
		nsfw, _ := hit.Fields["nsfw"].(string)
		size, _ := hit.Fields["size"].(string)
		status, _ := hit.Fields["status"].(string)

		fmt.Printf("  %s  %s", hit.ID, name)
		if baseModel != "" {
			fmt.Printf("  [%s]", baseModel)
		}
		if size != "" {
			fmt.Printf("  %s", size)
		}
		if nsfw != "" {
			fmt.Printf("  %s", nsfw)
		}
		if status != "" {
			fmt.Printf("  (%s)", status)
		}
		fmt.Println()
	}
	return nil
}
