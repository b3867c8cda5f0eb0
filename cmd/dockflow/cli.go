package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"dockflow/internal/catalog"
	"dockflow/internal/checkpoint"
	"dockflow/internal/config"
	"dockflow/internal/engine"
	"dockflow/internal/errors"
	"dockflow/internal/hits"
	"dockflow/internal/layout"
	"dockflow/internal/ledger"
	"dockflow/internal/logging"
	"dockflow/internal/report"
	"dockflow/internal/scoredb"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	app := &cli.App{
		Name:    "dockflow",
		Usage:   "Resumable batch docking of candidate ligands against protein targets",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "workspace", Aliases: []string{"C"}, Value: ".", Usage: "Workspace root directory"},
			&cli.BoolFlag{Name: "debug", Usage: "Plain progress output, tool command echo, debug-level log"},
		},
		Commands: []*cli.Command{
			runCmd(),
			statusCmd(),
			resetCacheCmd(),
			hitsCmd(),
			reportCmd(),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// runCmd creates the run command, the default pipeline entry point.
func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run (or resume) the docking pipeline",
		Action: func(c *cli.Context) error {
			l := layout.New(c.String("workspace"))
			if err := l.EnsureDirs(); err != nil {
				return outputError(errors.NewInternal(err))
			}

			cfg, err := config.Load(l.ConfigDir())
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			logger, err := logging.New(l.RunLog(), c.Bool("debug"))
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer logger.Sync()

			cat, err := catalog.Load(l)
			if err != nil {
				return outputError(err)
			}

			cp, err := checkpoint.Init(l.ProgressCache())
			if err != nil {
				return outputError(err)
			}

			db, err := scoredb.Init(l.ScoreDB())
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s := &engine.Session{
				ID:         engine.NewRunID(),
				Layout:     l,
				Config:     cfg,
				Catalog:    cat,
				Checkpoint: cp,
				Ledger:     ledger.NewFileLedger(l),
				DB:         db,
				Log:        logger,
				Display:    engine.NewDisplay(os.Stdout, c.Bool("debug")),
				Debug:      c.Bool("debug"),
			}

			if err := s.Run(ctx); err != nil {
				return outputError(err)
			}
			if s.Interrupted {
				fmt.Fprintln(os.Stderr, "interrupted; progress is checkpointed, rerun to resume")
				return nil
			}
			fmt.Println("run complete")
			return nil
		},
	}
}

// statusCmd creates the status command.
func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show checkpoint cursors and recorded score counts",
		Action: func(c *cli.Context) error {
			l := layout.New(c.String("workspace"))

			cp, err := checkpoint.Load(l.ProgressCache())
			if err != nil {
				if errors.Is(err, errors.ErrCheckpointMissing) {
					fmt.Println("no checkpoint; the pipeline has not run in this workspace")
					return nil
				}
				return outputError(err)
			}

			fmt.Printf("reference ligand cursor: %d\n", cp.Get(checkpoint.ReferenceLigand))
			fmt.Printf("reference target cursor: %d\n", cp.Get(checkpoint.ReferenceTarget))
			fmt.Printf("ligand cursor:           %d\n", cp.Get(checkpoint.Ligand))
			fmt.Printf("pose cursor:             %d\n", cp.Get(checkpoint.Model))
			fmt.Printf("target cursor:           %d\n", cp.Get(checkpoint.Target))

			led := ledger.NewFileLedger(l)
			for _, target := range ledgerTargets(l) {
				records, err := led.Records(target)
				if err != nil {
					return outputError(err)
				}
				fmt.Printf("%s: %d scores\n", target, len(records))
			}
			return nil
		},
	}
}

// resetCacheCmd creates the reset-cache command.
func resetCacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "reset-cache",
		Usage: "Back up and reset the cache so the next run starts from scratch",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "everything", Usage: "Also delete all results (no backup)"},
		},
		Action: func(c *cli.Context) error {
			l := layout.New(c.String("workspace"))
			if err := resetCache(l, c.Bool("everything")); err != nil {
				return outputError(err)
			}
			if c.Bool("everything") {
				fmt.Println("cache and results reset")
			} else {
				fmt.Println("cache backed up and reset")
			}
			return nil
		},
	}
}

// hitsCmd creates the hits command.
func hitsCmd() *cli.Command {
	return &cli.Command{
		Name:  "hits",
		Usage: "Collect the best-scoring docked poses for a target",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "target", Aliases: []string{"t"}, Required: true, Usage: "Target name"},
			&cli.IntFlag{Name: "top", Aliases: []string{"n"}, Usage: "Select the N best scores"},
			&cli.Float64Flag{Name: "min", Usage: "Lower score bound (with --max)"},
			&cli.Float64Flag{Name: "max", Usage: "Upper score bound (with --min)"},
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output directory (default: results/hits_<target>)"},
		},
		Action: func(c *cli.Context) error {
			l := layout.New(c.String("workspace"))

			db, err := scoredb.Init(l.ScoreDB())
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer db.Close()

			outDir := c.String("out")
			if outDir == "" {
				outDir = filepath.Join(l.ResultsDir(), "hits_"+c.String("target"))
			}

			records, err := hits.Collect(db, l, hits.Options{
				Target: c.String("target"),
				TopN:   c.Int("top"),
				Min:    c.Float64("min"),
				Max:    c.Float64("max"),
				OutDir: outDir,
			})
			if err != nil {
				return outputError(err)
			}
			fmt.Printf("collected %d hits into %s\n", len(records), outDir)
			return nil
		},
	}
}

// reportCmd creates the report command.
func reportCmd() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Generate the HTML run report from recorded scores",
		Action: func(c *cli.Context) error {
			l := layout.New(c.String("workspace"))

			cat, err := catalog.Load(l)
			if err != nil {
				return outputError(err)
			}

			path, err := report.Write(report.Input{
				Layout:     l,
				Ledger:     ledger.NewFileLedger(l),
				Targets:    entryNames(cat.Targets),
				References: entryNames(cat.References),
			})
			if err != nil {
				return outputError(err)
			}
			fmt.Printf("report written to %s\n", path)
			return nil
		},
	}
}

// resetCache moves the current cache into a backup directory so the
// next run re-derives everything. With everything set, the cache and
// all results are deleted instead, backup included.
func resetCache(l layout.Layout, everything bool) error {
	if everything {
		if err := os.RemoveAll(l.CacheDir()); err != nil {
			return errors.NewInternal(err)
		}
		if err := os.RemoveAll(l.ResultsDir()); err != nil {
			return errors.NewInternal(err)
		}
		if err := l.EnsureDirs(); err != nil {
			return errors.NewInternal(err)
		}
		return nil
	}

	entries, err := os.ReadDir(l.CacheDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewInternal(err)
	}

	backup := l.CacheBackupDir()
	for n := 1; ; n++ {
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			break
		}
		backup = fmt.Sprintf("%s_copy%d", l.CacheBackupDir(), n)
	}
	if err := os.MkdirAll(backup, 0755); err != nil {
		return errors.NewInternal(err)
	}

	base := filepath.Base(l.CacheBackupDir())
	for _, e := range entries {
		// Earlier backups stay where they are.
		if strings.HasPrefix(e.Name(), base) {
			continue
		}
		src := filepath.Join(l.CacheDir(), e.Name())
		if err := os.Rename(src, filepath.Join(backup, e.Name())); err != nil {
			return errors.NewInternal(err)
		}
	}
	return nil
}

// ledgerTargets lists the targets that have a ledger file on disk.
func ledgerTargets(l layout.Layout) []string {
	matches, err := filepath.Glob(filepath.Join(l.ScoresDir(), "scores_*.txt"))
	if err != nil {
		return nil
	}
	var targets []string
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".txt")
		name = strings.TrimPrefix(name, "scores_")
		// RMS rankings and stats summaries share the prefix.
		if strings.HasSuffix(name, "_RMS") || strings.HasSuffix(name, "_stats") {
			continue
		}
		targets = append(targets, name)
	}
	return targets
}

// entryNames extracts the name column of a catalog entry list.
func entryNames(entries []catalog.Entry) []string {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// outputError formats an error for the CLI.
func outputError(err error) error {
	if dErr, ok := err.(*errors.Error); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, dErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
