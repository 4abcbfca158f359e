// Command posture-replay runs a recorded landmark session through the
// posture detector on a simulated clock. It prints every analysis that
// passes the change filter and can plot the full trace.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/posture.report/internal/config"
)

func main() {
	var opts Options
	configFile := flag.String("config", "", "Path to posture config JSON")
	flag.StringVar(&opts.Recording, "in", "", "JSON-lines landmark recording (required)")
	flag.StringVar(&opts.OutputDir, "out", "", "Directory for PNG plots (skipped when empty)")
	flag.BoolVar(&opts.Calibrate, "calibrate", false, "Capture the first frame as the calibration baseline")
	flag.BoolVar(&opts.JSON, "json", false, "Print forwarded analyses as JSON lines")
	flag.Parse()

	if opts.Recording == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *configFile != "" {
		cfg, err := config.LoadPostureConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		opts.Posture = cfg
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, opts, os.Stdout)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}
	if !opts.JSON {
		printSummary(os.Stdout, res)
	}
}
