package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/ankiport/internal"
	pkgconfig "github.com/starford/ankiport/pkg/config"
)

// loadConfig reads the config file named by --config. The default path may be
// missing, in which case the built-in defaults apply.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	load := pkgconfig.LoadOptional[internal.Config]
	if cmd.IsSet("config") {
		load = pkgconfig.Load[internal.Config]
	}
	if err := load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func importFiles(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() == 0 {
		return fmt.Errorf("import: at least one .apkg, .colpkg, .anki2 or .anki21 file is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("deck-prefix") {
		cfg.Import.DeckPrefix = cmd.String("deck-prefix")
	}
	if cmd.IsSet("allow-update") {
		cfg.Import.AllowUpdate = cmd.Bool("allow-update")
	}
	return internal.RunImport(ctx, cmd.Args().Slice(), internal.WithConfig(cfg))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:   "ankiport",
		Usage:  "Import Anki decks and collections into a local collection",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, event stream and inbox watcher",
				Action: serve,
			},
			{
				Name:      "import",
				Usage:     "Import the given files one after another and print their logs",
				ArgsUsage: "FILE...",
				Action:    importFiles,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "deck-prefix",
						Usage: "Place imported decks under this parent deck",
					},
					&cli.BoolFlag{
						Name:  "allow-update",
						Usage: "Update existing notes whose source copy is newer",
					},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the import tools over MCP stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
