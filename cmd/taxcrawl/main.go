// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.



package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/taxcrawl"
	"github.com/poiesic/taxcrawl/config"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

// openIndex opens the stores and provider for a command. Tests replace it.
var openIndex = func(ctx context.Context, cfg *config.Config, opts ...taxcrawl.IndexOption) (*taxcrawl.Index, error) {
	return taxcrawl.Open(ctx, cfg, opts...)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "taxcrawl",
		Usage: "Crawl Canada Revenue Agency pages into a searchable vector index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a yaml, json or toml config file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides log_level",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory for the local database; overrides data_dir",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			crawlCommand(),
			searchCommand(),
			infoCommand(),
			runsCommand(),
			reembedCommand(),
			deleteCollectionCommand(),
			verifyCommand(),
		},
	}
}

// setupLogger loads configuration, applies global flag overrides and
// installs the default slog handler.
func setupLogger(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if c.IsSet("log-level") {
		levelStr := strings.ToLower(c.String("log-level"))
		switch levelStr {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = strings.ToUpper(levelStr)
		default:
			return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
		}
	}

	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func loadedConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
