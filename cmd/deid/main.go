// Command deid de-identifies clinical text.
//
// It reads a document from a file (or stdin when no file is given), runs
// the normalize/detect/resolve/transform pipeline, and writes a JSON
// result with the rewritten text and the audit trail to stdout.
//
// Usage:
//
//	# From a file, with a subject id for cross-document consistency
//	./deid -subject patient-1234 note.txt
//
//	# From stdin, metrics summary on stderr
//	cat note.txt | ./deid -metrics
//
//	# Custom config and persistent subject state
//	DEID_SALT=$(cat salt.key) ./deid -config deid-config.yaml -state subjects.db note.txt
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"phi-deidentify/internal/config"
	"phi-deidentify/internal/logger"
	"phi-deidentify/internal/pipeline"
	"phi-deidentify/internal/transform"
)

func main() {
	var (
		configPath  = flag.String("config", "", "config file path (default deid-config.yaml)")
		subjectID   = flag.String("subject", "", "subject id for pseudonym and date-shift consistency")
		statePath   = flag.String("state", "", "subject state database path (overrides config)")
		showMetrics = flag.Bool("metrics", false, "print a metrics snapshot to stderr after processing")
	)
	flag.Parse()

	log := logger.New("DEID", "info")

	cfg, err := config.Load(*configPath, logger.New("CONFIG", "info"))
	if err != nil {
		log.Errorf("config", "%v", err)
		os.Exit(1)
	}
	log.SetLevel(cfg.LogLevel)
	if *statePath != "" {
		cfg.StatePath = *statePath
	}

	var store transform.StateStore
	if cfg.StatePath != "" {
		store, err = transform.NewBoltStore(cfg.StatePath, logger.New("TRANSFORM", cfg.LogLevel))
		if err != nil {
			log.Errorf("state", "%v", err)
			os.Exit(1)
		}
	}

	text, err := readInput(flag.Arg(0))
	if err != nil {
		log.Errorf("input", "%v", err)
		os.Exit(1)
	}

	p := pipeline.New(pipeline.Options{
		RuleBook: cfg.RuleBook(),
		Salt:     cfg.Salt,
		Store:    store,
		LogLevel: cfg.LogLevel,
	})
	defer p.Close() //nolint:errcheck // best-effort close on exit

	result := p.Process(text, *subjectID, nil, nil)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Errorf("encode", "%v", err)
		os.Exit(1)
	}

	if *showMetrics {
		snap, err := json.MarshalIndent(p.Metrics(), "", "  ")
		if err == nil {
			fmt.Fprintln(os.Stderr, string(snap))
		}
	}
}

// readInput reads the document from path, or stdin when path is empty.
func readInput(path string) (string, error) {
	if path == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
