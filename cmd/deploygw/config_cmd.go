package main

import (
	"flag"
	"fmt"

	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/doctor"
)

const configCheckHelp = `Usage: deploygw config check [--config PATH] [--json] [--strict]
Validate syntax, policy, and integrity. --strict fails on warnings too.

Exit codes:
  0  Configuration valid
  1  Errors found (or warnings with --strict)
`

const configLockHelp = `Usage: deploygw config lock [--config PATH] [--dry-run]
Record the config file's BLAKE3 hash in .checksums so later edits are detected.
`

func runConfigNoun(args []string) int {
	return dispatchNoun("config", args,
		map[string]func([]string) int{
			"check": runConfigCheck,
			"lock":  runConfigLock,
		},
		map[string]string{
			"check": configCheckHelp,
			"lock":  configLockHelp,
		},
	)
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output the report as JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
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

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, out)
	} else {
		fmt.Fprint(stdout, newTheme().colorReport(doctor.FormatHuman(result), result.Valid))
	}

	if !result.Valid || (*strict && len(result.Warnings) > 0) {
		return 1
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute the hash without writing .checksums")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	report, err := config.Lock(path, *dryRun)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	t := newTheme()
	fmt.Fprintf(stdout, "%s %s\n", t.Dim.Render("config:"), report.ConfigPath)
	fmt.Fprintf(stdout, "%s %s\n", t.Dim.Render("blake3:"), report.Hash)
	if report.Written {
		fmt.Fprintf(stdout, "%s %s\n", t.OK.Render("locked:"), report.ChecksumPath)
	} else {
		fmt.Fprintln(stdout, t.Warn.Render("dry run: .checksums not written"))
	}
	return 0
}
