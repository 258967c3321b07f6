//go:build linux

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gitlab.com/stephen-fox/trackit/layout"
	"gitlab.com/stephen-fox/trackit/proc"
	"gitlab.com/stephen-fox/trackit/record"
	"gitlab.com/stephen-fox/trackit/scan"
)

const (
	pidArg      = "pid"
	profilesArg = "profiles"
	contextArg  = "context"
	budgetArg   = "budget"
	templateArg = "template"
	verboseArg  = "v"
	helpArg     = "h"

	appName = "scanonce"
	usage   = appName + `
Performs a single full-region scan of a running process and writes the
discovered records to stdout as JSON. Useful for checking a layout profile
against a live target before running the daemon.

usage:
` + appName + ` -` + pidArg + ` <pid> [options]

options:
`
)

func main() {
	pid := flag.Int(
		pidArg,
		0,
		"The pid of the target process")
	profilesPath := flag.String(
		profilesArg,
		"",
		"An optional layout profile file (yaml)")
	contextName := flag.String(
		contextArg,
		"",
		"The profile context to select")
	budget := flag.Duration(
		budgetArg,
		5*time.Second,
		"The scan's wall-clock budget (0 for unbounded)")
	template := flag.Bool(
		templateArg,
		false,
		"Write a profile file for the default layout to stdout and exit")
	verbose := flag.Bool(
		verboseArg,
		false,
		"Enable verbose logging")
	help := flag.Bool(
		helpArg,
		false,
		"Display this help page")

	flag.Parse()

	if *help {
		os.Stderr.WriteString(usage)
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *template {
		b, err := layout.FileTemplate(layout.DefaultContext, layout.Default())
		if err != nil {
			log.Fatalln(err)
		}

		os.Stdout.Write(b)
		os.Exit(0)
	}

	if *pid <= 0 {
		log.Fatalf("please specify a target pid with -%s", pidArg)
	}

	profile := layout.Default()
	if *profilesPath != "" {
		table, err := layout.LoadFile(*profilesPath)
		if err != nil {
			log.Fatalf("failed to load profile file - %s", err)
		}

		if *contextName != "" {
			table.SetContext(*contextName)
		}

		profile, err = table.Current()
		if err != nil {
			log.Fatalln(err)
		}
	}

	process, err := proc.Attach(*pid)
	if err != nil {
		log.Fatalf("failed to attach to pid %d - %s", *pid, err)
	}

	validator, err := record.NewValidator(record.ValidatorConfig{
		Profile: profile,
		Mem:     process,
	})
	if err != nil {
		log.Fatalf("failed to create validator - %s", err)
	}

	config := scan.FullScannerConfig{
		Mem:         process,
		Regions:     process.Regions,
		Validator:   validator,
		MaxDuration: *budget,
	}

	if *verbose {
		config.Verbose = log.Default()
	}

	scanner, err := scan.NewFullScanner(config)
	if err != nil {
		log.Fatalf("failed to create scanner - %s", err)
	}

	records, stats, err := scanner.Scan(0)
	if err != nil {
		log.Fatalf("scan failed - %s", err)
	}

	fmt.Fprintln(os.Stderr, stats)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	err = encoder.Encode(records)
	if err != nil {
		log.Fatalf("failed to encode records - %s", err)
	}
}
