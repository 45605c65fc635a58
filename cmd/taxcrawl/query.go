package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/taxcrawl/search"
	"github.com/urfave/cli/v2"
)

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Find stored chunks similar to a query",
		ArgsUsage: "QUERY",
		Action:    runSearch,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of results",
				Value: search.DefaultLimit,
			},
			&cli.Float64Flag{
				Name:  "threshold",
				Usage: "Minimum similarity score (defaults to store.score_threshold)",
			},
		},
	}
}

func runSearch(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return errors.New("a search query is required")
	}

	cfg := loadedConfig(c)
	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	var opts []search.Option
	if c.IsSet("threshold") {
		opts = append(opts, search.WithScoreThreshold(float32(c.Float64("threshold"))))
	}
	searcher, err := idx.NewSearcher(opts...)
	if err != nil {
		return err
	}

	results, err := searcher.Search(c.Context, query, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := c.App.Writer
	fmt.Fprintf(out, "Found %d results\n", len(results))
	for i, hit := range results {
		chunk := hit.Chunk
		fmt.Fprintf(out, "%d. [%0.3f] %s\n   %s\n", i+1, hit.Score, chunk.Title, chunk.URL)
		var meta []string
		meta = append(meta, "type="+string(chunk.PageType))
		if chunk.TaxYear != "" {
			meta = append(meta, "year="+chunk.TaxYear)
		}
		if chunk.FormNumber != "" {
			meta = append(meta, "form="+chunk.FormNumber)
		}
		fmt.Fprintf(out, "   %s\n", strings.Join(meta, " "))
	}
	return nil
}
