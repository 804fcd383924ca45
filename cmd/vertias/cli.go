package main

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/EstellaNines/Vertias-sub003/internal/config"
	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/live"
	"github.com/EstellaNines/Vertias-sub003/internal/mcp"
	"github.com/EstellaNines/Vertias-sub003/internal/ops"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// runtimeEnv carries what every command needs to build an engine.
type runtimeEnv struct {
	db      *sql.DB
	cfg     *config.Config
	dataDir string
	logger  *slog.Logger
}

// newCLIApp creates the CLI application. env may be nil for --help/--version.
func newCLIApp(env *runtimeEnv) *cli.App {
	app := &cli.App{
		Name:    "vertias",
		Usage:   "Equipment and container persistence engine",
		Version: Version,
		Commands: []*cli.Command{
			saveCmd(env),
			loadCmd(env),
			clearCmd(env),
			statsCmd(env),
			historyCmd(env),
			migrateCmd(env),
			reportCmd(env),
			serveCmd(env),
		},
	}
	// Errors are already printed by outputError; suppress urfave's default output.
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

var catalogFlag = &cli.StringFlag{
	Name:    "catalog",
	Aliases: []string{"c"},
	Usage:   "Item catalog JSON file (default: built-in demo catalog)",
}

func saveCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "save",
		Usage: "Save the live state read from stdin",
		Flags: []cli.Flag{catalogFlag},
		Action: func(c *cli.Context) error {
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("save reads the live state JSON from stdin"))
			}
			catalog, err := loadCatalog(c.String("catalog"))
			if err != nil {
				return outputError(err)
			}
			factory := live.NewFactory(catalog)
			eq, err := live.DecodeState(os.Stdin, factory)
			if err != nil {
				return outputError(err)
			}

			e, err := env.engine(catalog, factory, eq)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Save(c.Context, e)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func loadCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "load",
		Usage: "Restore saved equipment and containers into an empty live state",
		Flags: []cli.Flag{catalogFlag},
		Action: func(c *cli.Context) error {
			catalog, err := loadCatalog(c.String("catalog"))
			if err != nil {
				return outputError(err)
			}

			e, err := env.engine(catalog, nil, nil)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Load(c.Context, e)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func clearCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete all saved data, backups and history",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "Confirm deletion"},
		},
		Action: func(c *cli.Context) error {
			if !c.Bool("yes") {
				return outputError(errors.NewInvalidRequest("clear deletes all saved data; pass --yes to confirm"))
			}

			e, err := env.engine(nil, nil, nil)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Clear(c.Context, e, ops.ClearInput{Confirm: true})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func statsCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Summarize saved data",
		Action: func(c *cli.Context) error {
			e, err := env.engine(nil, nil, nil)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Stats(c.Context, e)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func historyCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recorded saves, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "domain", Aliases: []string{"d"}, Usage: "Filter by domain (equipment, containers)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultHistoryLimit, Usage: "Maximum rows"},
		},
		Action: func(c *cli.Context) error {
			e, err := env.engine(nil, nil, nil)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.History(e, ops.HistoryInput{
				Domain: c.String("domain"),
				Limit:  c.Int("limit"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func migrateCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Rewrite legacy keys and import legacy preferences",
		Action: func(c *cli.Context) error {
			e, err := env.engine(nil, nil, nil)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Migrate(c.Context, e)
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func reportCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Build a diagnostics report",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "html", Usage: "Render to HTML"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Also write the report to this path"},
			&cli.IntFlag{Name: "history", Value: ops.DefaultReportHistory, Usage: "Recent saves to include"},
		},
		Action: func(c *cli.Context) error {
			e, err := env.engine(nil, nil, nil)
			if err != nil {
				return outputError(err)
			}
			output, err := ops.Report(c.Context, e, ops.ReportInput{
				HTML:         c.Bool("html"),
				HistoryLimit: c.Int("history"),
				Path:         c.String("out"),
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

func serveCmd(env *runtimeEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP tool server on stdio",
		Flags: []cli.Flag{catalogFlag},
		Action: func(c *cli.Context) error {
			catalog, err := loadCatalog(c.String("catalog"))
			if err != nil {
				return outputError(err)
			}
			return serve(c.Context, env, catalog)
		},
	}
}

// serve runs the MCP server against a fresh engine. The engine starts so
// that the automatic migration and restore run before the first tool call.
func serve(ctx context.Context, env *runtimeEnv, catalog *live.Catalog) error {
	if unknown := mcp.ValidateDisabledTools(env.cfg.DisabledTools); len(unknown) > 0 {
		env.logger.Warn("ignoring unknown disabled_tools", slog.Any("names", unknown))
	}
	e, err := env.engine(catalog, nil, nil)
	if err != nil {
		return err
	}
	if err := e.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := e.Shutdown(context.Background()); err != nil {
			env.logger.Error("shutdown save failed", slog.Any("error", err))
		}
	}()
	return mcp.Run(e, Version)
}

// Helper functions

// engine builds an engine over the data directory. Nil collaborators fall
// back to the engine defaults.
func (env *runtimeEnv) engine(catalog *live.Catalog, factory *live.Factory, eq *live.Equipment) (*engine.Engine, error) {
	if env == nil {
		return nil, errors.NewNotReady("no data directory")
	}
	s, err := store.New(store.Config{
		Dir:     env.dataDir,
		Backups: env.cfg.Backups(),
		Logger:  env.logger,
	})
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Config:    env.cfg,
		Store:     s,
		DB:        env.db,
		Logger:    env.logger,
		Equipment: eq,
		Catalog:   catalog,
		Factory:   factory,
	})
}

// loadCatalog reads a catalog file, or returns the demo catalog for "".
func loadCatalog(path string) (*live.Catalog, error) {
	if path == "" {
		return live.DemoCatalog(), nil
	}
	return live.LoadCatalog(path)
}

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var vErr *errors.VertiasError
	if stderrors.As(err, &vErr) && err == error(vErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", vErr.Code, vErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
