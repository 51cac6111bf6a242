package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/johndauphine/dsv-extract/internal/checkpoint"
	"github.com/johndauphine/dsv-extract/internal/config"
	"github.com/johndauphine/dsv-extract/internal/console"
	"github.com/johndauphine/dsv-extract/internal/exitcodes"
	"github.com/johndauphine/dsv-extract/internal/logging"
	"github.com/johndauphine/dsv-extract/internal/orchestrator"
	"github.com/johndauphine/dsv-extract/internal/pipeline"
	"github.com/johndauphine/dsv-extract/internal/progress"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "dsv-extract",
		Usage:   "Extract catalog queries into delimiter-separated files",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Profile name stored in SQLite",
			},
			&cli.BoolFlag{
				Name:  "output-json",
				Usage: "Output JSON result to stdout on completion (logs go to stderr)",
			},
			&cli.StringFlag{
				Name:  "output-file",
				Usage: "Write JSON result to file on completion",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "headless",
				Usage: "Never start the interactive console",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return exitcodes.NewExitError(err, exitcodes.ConfigError)
			}
			logging.SetLevel(level)

			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}

			// Keep stdout clean for the JSON result.
			if jsonOutput(c) {
				logging.SetOutput(os.Stderr)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return runExtraction(c)
			}
			return cli.ShowAppHelp(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run every entry of the catalog",
				Action: runExtraction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run-id",
						Usage: "Explicit run ID (default: auto-generated)",
					},
					&cli.StringFlag{
						Name:  "catalog",
						Usage: "Override extract.catalog",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Override extract.output_dir",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Override extract.workers",
					},
					&cli.BoolFlag{
						Name:  "progress-json",
						Usage: "Emit JSON progress lines to stderr",
					},
				},
			},
			{
				Name:   "validate",
				Usage:  "Check the catalog and the source connection without extracting",
				Action: validateCatalog,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "skip-source",
						Usage: "Only parse the catalog",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output the report as JSON",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show status of the last run",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
				},
			},
			{
				Name:  "history",
				Usage: "List extraction runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
					&cli.DurationFlag{
						Name:  "prune",
						Usage: "Delete finished runs older than this (e.g. 720h) before listing",
					},
				},
				Action: showHistory,
			},
			{
				Name:  "profile",
				Usage: "Manage encrypted profiles stored in SQLite",
				Subcommands: []*cli.Command{
					{
						Name:   "save",
						Usage:  "Save a profile from a config file",
						Action: saveProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "name",
								Aliases: []string{"n"},
								Usage:   "Profile name (inferred from profile.name or filename if omitted)",
							},
							&cli.StringFlag{
								Name:    "config",
								Aliases: []string{"c"},
								Value:   "config.yaml",
								Usage:   "Path to configuration file",
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List saved profiles",
						Action: listProfiles,
					},
					{
						Name:   "delete",
						Usage:  "Delete a saved profile",
						Action: deleteProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Aliases:  []string{"n"},
								Required: true,
								Usage:    "Profile name",
							},
						},
					},
					{
						Name:   "export",
						Usage:  "Export a profile to a config file",
						Action: exportProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Aliases:  []string{"n"},
								Required: true,
								Usage:    "Profile name",
							},
							&cli.StringFlag{
								Name:    "out",
								Aliases: []string{"o"},
								Value:   "config.yaml",
								Usage:   "Output path for exported config",
							},
						},
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Exit code %d: %s\n", code, exitcodes.Description(code))
		os.Exit(code)
	}
}

func jsonOutput(c *cli.Context) bool {
	return c.Bool("output-json") || c.String("output-file") != ""
}

// consoleRun routes the console's exit key through the orchestrator so the
// run is recorded before the process ends.
type consoleRun struct {
	*pipeline.Pipeline
	orch *orchestrator.Orchestrator
}

func (r consoleRun) ExitImmediately(msg string) {
	r.orch.Abort(msg)
}

func runExtraction(c *cli.Context) error {
	cfg, profileName, configPath, err := loadConfigWithOrigin(c)
	if err != nil {
		return err
	}

	if c.IsSet("catalog") {
		cfg.Extract.Catalog = c.String("catalog")
	}
	if c.IsSet("output-dir") {
		cfg.Extract.OutputDir = c.String("output-dir")
	}
	if c.IsSet("workers") {
		cfg.Extract.Workers = c.Int("workers")
	}

	interactive := !c.Bool("headless") && !jsonOutput(c) && console.Interactive(os.Stdout)

	logFile, err := logging.OpenLogFile(cfg.Extract.LogDir, time.Now())
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.IOError)
	}
	defer logFile.Close()
	switch {
	case interactive:
		logging.SetOutput(logFile)
	case jsonOutput(c):
		logging.SetOutput(io.MultiWriter(os.Stderr, logFile))
	default:
		logging.SetOutput(io.MultiWriter(os.Stdout, logFile))
	}

	opts := orchestrator.Options{
		RunID:       c.String("run-id"),
		ProfileName: profileName,
		ConfigPath:  configPath,
		ProgressBar: !interactive && !jsonOutput(c) && !c.Bool("headless") && console.Interactive(os.Stderr),
	}
	if c.Bool("progress-json") {
		reporter := progress.NewJSONReporter(os.Stderr, 2*time.Second)
		defer reporter.Close()
		opts.Reporter = reporter
	}

	orch, err := orchestrator.New(cfg, opts)
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "\nReceived %s, terminating immediately\n", sig)
		orch.Abort(fmt.Sprintf("Interrupted by %s", sig))
		cancel()
		os.Exit(exitcodes.Cancelled)
	}()

	var (
		result *orchestrator.RunResult
		runErr error
	)
	if interactive {
		p, err := orch.Prepare()
		if err != nil {
			return err
		}
		exec := func(ctx context.Context) (*pipeline.Summary, error) {
			result, runErr = orch.Run(ctx)
			return nil, runErr
		}
		res, err := console.Start(ctx, consoleRun{Pipeline: p, orch: orch}, exec, console.Options{
			Title:   "dsv-extract " + orch.RunID(),
			LogPath: logFile.Name(),
		})
		if err != nil {
			return err
		}
		if res.Exited {
			fmt.Println("Extraction stopped from console")
			return nil
		}
		printSummary(os.Stdout, result)
	} else {
		result, runErr = orch.Run(ctx)
	}

	if jsonOutput(c) && result != nil {
		if err := outputJSON(c, result); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to output JSON: %v\n", err)
		}
	}
	return runErr
}

func printSummary(w io.Writer, r *orchestrator.RunResult) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Run %s %s: %d rows in %d chunk files, %d entries succeeded, %d failed, %d skipped\n",
		r.RunID, r.Status, r.RowsWritten, r.ChunksWritten, r.EntriesSuccess, r.EntriesFailed, r.EntriesSkipped)
	if len(r.FailedEntries) > 0 {
		fmt.Fprintf(w, "Failed entries: %s\n", strings.Join(r.FailedEntries, ", "))
	}
}

func validateCatalog(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	if c.Bool("json") {
		// Skip lines would otherwise interleave with the report.
		logging.SetOutput(os.Stderr)
	}
	v, err := orch.Validate(context.Background(), c.Bool("skip-source"))
	if err != nil {
		return exitcodes.NewExitError(err, exitcodes.CatalogError)
	}

	if c.Bool("json") {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal validation: %w", err)
		}
		fmt.Println(string(data))
	} else {
		orchestrator.PrintValidation(os.Stdout, v)
	}

	switch {
	case v.Health != nil && !v.Health.Connected:
		return exitcodes.NewExitError(errors.New("source is not reachable"), exitcodes.ConnectionError)
	case !v.OK():
		return exitcodes.NewExitError(errors.New("catalog has no runnable entries or contains errors"), exitcodes.CatalogError)
	}
	return nil
}

func showStatus(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	if c.Bool("json") {
		result, err := orch.GetStatusResult()
		if err != nil {
			result = &orchestrator.StatusResult{Status: "no_runs"}
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}
	return orch.ShowStatus(os.Stdout)
}

func showHistory(c *cli.Context) error {
	cfg, _, _, err := loadConfigWithOrigin(c)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(cfg, orchestrator.Options{})
	if err != nil {
		return err
	}
	defer orch.Close()

	if c.IsSet("prune") {
		n, err := orch.PruneHistory(c.Duration("prune"))
		if err != nil {
			return exitcodes.NewExitError(err, exitcodes.StateError)
		}
		fmt.Printf("Pruned %d runs\n", n)
	}

	if runID := c.String("run"); runID != "" {
		return orch.ShowRunDetails(os.Stdout, runID)
	}
	return orch.ShowHistory(os.Stdout)
}

func loadConfigWithOrigin(c *cli.Context) (*config.Config, string, string, error) {
	profileName := c.String("profile")
	if profileName != "" {
		cfg, err := loadProfileConfig(profileName)
		return cfg, profileName, "", err
	}

	configPath := c.String("config")
	if _, err := os.Stat(configPath); os.IsNotExist(err) && !c.IsSet("config") {
		return nil, "", "", exitcodes.NewExitError(fmt.Errorf("configuration file not found: %s", configPath), exitcodes.ConfigError)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, "", configPath, nil
}

func openProfileStore() (*checkpoint.State, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.StateError)
	}
	state, err := checkpoint.New(dataDir)
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.StateError)
	}
	return state, nil
}

func loadProfileConfig(name string) (*config.Config, error) {
	state, err := openProfileStore()
	if err != nil {
		return nil, err
	}
	defer state.Close()

	blob, err := state.GetProfile(name)
	if err != nil {
		return nil, exitcodes.NewExitError(err, exitcodes.ConfigError)
	}
	return config.LoadBytes(blob)
}

func saveProfile(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	name := c.String("name")
	if name == "" {
		if cfg.Profile.Name != "" {
			name = cfg.Profile.Name
		} else {
			base := filepath.Base(configPath)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	state, err := openProfileStore()
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.SaveProfile(name, cfg.Profile.Description, payload); err != nil {
		if strings.Contains(err.Error(), checkpoint.MasterKeyEnv+" is not set") {
			return fmt.Errorf("%s is not set; set it before saving profiles", checkpoint.MasterKeyEnv)
		}
		return err
	}
	fmt.Printf("Saved profile %q\n", name)
	return nil
}

func listProfiles(c *cli.Context) error {
	state, err := openProfileStore()
	if err != nil {
		return err
	}
	defer state.Close()

	profiles, err := state.ListProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles found")
		return nil
	}
	fmt.Printf("%-20s %-40s %-20s %-20s\n", "Name", "Description", "Created", "Updated")
	for _, p := range profiles {
		desc := strings.ReplaceAll(strings.TrimSpace(p.Description), "\n", " ")
		fmt.Printf("%-20s %-40s %-20s %-20s\n",
			p.Name,
			desc,
			p.CreatedAt.Format("2006-01-02 15:04:05"),
			p.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func deleteProfile(c *cli.Context) error {
	name := c.String("name")
	state, err := openProfileStore()
	if err != nil {
		return err
	}
	defer state.Close()

	if err := state.DeleteProfile(name); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %q\n", name)
	return nil
}

func exportProfile(c *cli.Context) error {
	name := c.String("name")
	outPath := c.String("out")

	state, err := openProfileStore()
	if err != nil {
		return err
	}
	defer state.Close()

	blob, err := state.GetProfile(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, blob, 0600); err != nil {
		return exitcodes.NewExitError(err, exitcodes.IOError)
	}
	fmt.Printf("Exported profile %q to %s\n", name, outPath)
	return nil
}

// outputJSON writes the run result as JSON to stdout and/or a file
func outputJSON(c *cli.Context, result *orchestrator.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if c.Bool("output-json") {
		fmt.Println(string(data))
	}

	if outputFile := c.String("output-file"); outputFile != "" {
		if err := os.WriteFile(outputFile, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
	}

	return nil
}
