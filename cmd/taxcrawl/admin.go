package main

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/taxcrawl"
	"github.com/poiesic/taxcrawl/config"
	"github.com/poiesic/taxcrawl/core"
	"github.com/poiesic/taxcrawl/reembed"
	"github.com/poiesic/taxcrawl/validate"
	"github.com/urfave/cli/v2"
)

// verifyTimeout bounds each network check made by verify.
const verifyTimeout = 30 * time.Second

func infoCommand() *cli.Command {
	return &cli.Command{
		Name:   "info",
		Usage:  "Show collection statistics and validator settings",
		Action: runInfo,
	}
}

func runInfo(c *cli.Context) error {
	cfg := loadedConfig(c)
	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	info, err := idx.Store().Info(c.Context)
	if err != nil {
		return fmt.Errorf("failed to read collection info: %w", err)
	}

	return writeJSON(c, struct {
		Collection *core.CollectionInfo  `json:"collection"`
		Validator  validate.Description `json:"validator"`
	}{info, idx.NewValidator().Describe()})
}

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:   "runs",
		Usage:  "List recent crawl reports",
		Action: runRuns,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of reports",
				Value: 10,
			},
		},
	}
}

func runRuns(c *cli.Context) error {
	if c.Int("limit") <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}

	idx, err := openIndex(c.Context, loadedConfig(c))
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	reports, err := idx.Runs().ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if reports == nil {
		reports = []*core.RunReport{}
	}
	return writeJSON(c, reports)
}

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:   "reembed",
		Usage:  "Recompute the vectors of every stored chunk (badger backend only)",
		Action: runReembed,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of chunks to process in each batch",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N chunks",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "max-retries",
				Usage: "Maximum retry attempts for failed operations",
				Value: 3,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Base delay for exponential backoff",
				Value: 1 * time.Second,
			},
		},
	}
}

func runReembed(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}

	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	cfg := loadedConfig(c)
	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	reembedder, err := idx.NewReembedder(reembedConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.ErrWriter, "Data dir: %s\n", cfg.DataDir)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AIConfig().EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.Embedding.Model)
	fmt.Fprintln(c.App.ErrWriter)

	if _, err := reembedder.Run(c.Context); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func deleteCollectionCommand() *cli.Command {
	return &cli.Command{
		Name:   "delete-collection",
		Usage:  "Delete every stored chunk and the collection",
		Action: runDeleteCollection,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm deletion",
			},
		},
	}
}

func runDeleteCollection(c *cli.Context) error {
	cfg := loadedConfig(c)
	if !c.Bool("yes") {
		return fmt.Errorf("refusing to delete collection %q without --yes", cfg.Qdrant.CollectionName)
	}

	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}
	defer idx.Close()

	if err := idx.Store().DeleteCollection(c.Context); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Deleted collection %s\n", cfg.Qdrant.CollectionName)
	return nil
}

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:   "verify",
		Usage:  "Check configuration, the embedding service and the vector store",
		Action: runVerify,
	}
}

// runVerify runs every check, printing one line per check, and fails if any
// check failed.
func runVerify(c *cli.Context) error {
	out := c.App.Writer
	cfg := loadedConfig(c)
	failed := 0

	check := func(name string, err error, detail string) {
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL %s: %v\n", name, err)
			return
		}
		fmt.Fprintf(out, "ok   %s%s\n", name, detail)
	}

	masked := cfg.Masked()
	fmt.Fprintf(out, "store backend:   %s\n", masked.Store.Backend)
	fmt.Fprintf(out, "collection:      %s\n", masked.Qdrant.CollectionName)
	fmt.Fprintf(out, "embedding:       %s (%s, %d dims)\n", masked.Embedding.Host, masked.Embedding.Model, masked.Embedding.VectorSize)
	if masked.Store.Backend == config.BackendQdrant {
		fmt.Fprintf(out, "qdrant endpoint: %s\n", masked.Qdrant.Endpoint)
		fmt.Fprintf(out, "qdrant api key:  %s\n", masked.Qdrant.APIKey)
	}

	if err := cfg.Validate(); err != nil {
		check("configuration", err, "")
		return verifyResult(failed)
	}
	check("configuration", nil, "")

	idx, err := openIndex(c.Context, cfg)
	if err != nil {
		check("vector store", err, "")
		return verifyResult(failed)
	}
	defer idx.Close()

	check("embedding service", verifyEmbedder(c.Context, idx, cfg), "")

	ctx, cancel := context.WithTimeout(c.Context, verifyTimeout)
	defer cancel()
	info, err := idx.Store().Info(ctx)
	detail := ""
	if err == nil {
		detail = fmt.Sprintf(" (%s, %d points)", info.Name, info.PointsCount)
	}
	check("vector store", err, detail)

	return verifyResult(failed)
}

func verifyEmbedder(ctx context.Context, idx *taxcrawl.Index, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	vector, err := idx.Embedder().EmbedText(ctx, "Canada Revenue Agency income tax")
	if err != nil {
		return err
	}
	if len(vector) != cfg.Embedding.VectorSize {
		return fmt.Errorf("%w: embedder returned %d dimensions, embedding.vector_size is %d",
			core.ErrConfiguration, len(vector), cfg.Embedding.VectorSize)
	}
	return nil
}

func verifyResult(failed int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%d check(s) failed", failed)
}
