package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/storage"
)

const deployListHelp = `Usage: deploygw deploy list [--config PATH] [--limit N] [--json]
Show recently recorded deploy events, newest first.
`

func runDeployNoun(args []string) int {
	return dispatchNoun("deploy", args,
		map[string]func([]string) int{"list": runDeployList},
		map[string]string{"list": deployListHelp},
	)
}

func runDeployList(args []string) int {
	fs := flag.NewFlagSet("deploy list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Maximum number of events")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *limit <= 0 {
		fmt.Fprintln(stderr, "--limit must be positive")
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	cfg, err := config.Read(path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read config: %v\n", err)
		return 1
	}
	if cfg.State.Path == "" {
		fmt.Fprintln(stderr, "Deploy history is disabled (state.path is empty)")
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	records, err := storage.NewDeployLog(db).Recent(ctx, *limit)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to list deploys: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	t := newTheme()
	if len(records) == 0 {
		fmt.Fprintln(stdout, t.Dim.Render("No deploy events recorded."))
		return 0
	}
	fmt.Fprint(stdout, t.deployTable(records))
	return 0
}
