// thinking-gateway: a local proxy that right-sizes model reasoning budgets
// and keeps thought signatures alive across conversation turns.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/budget"
	"github.com/compresr/thinking-gateway/internal/config"
	"github.com/compresr/thinking-gateway/internal/detector"
	"github.com/compresr/thinking-gateway/internal/gateway"
	"github.com/compresr/thinking-gateway/internal/monitoring"
	"github.com/compresr/thinking-gateway/internal/signature"
	"github.com/compresr/thinking-gateway/internal/store"
)

func main() {
	// Parse flags
	var (
		configFlag string
		portFlag   string
		dbFlag     string
		debugFlag  bool
	)

	args := os.Args[1:]
	i := 0
	for i < len(args) {
		switch args[i] {
		case "-h", "--help":
			printHelp()
			return
		case "-c", "--config":
			if i+1 < len(args) {
				configFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --config requires a value")
				os.Exit(1)
			}
		case "-p", "--port":
			if i+1 < len(args) {
				portFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --port requires a value")
				os.Exit(1)
			}
		case "--db":
			if i+1 < len(args) {
				dbFlag = args[i+1]
				i += 2
			} else {
				fmt.Fprintln(os.Stderr, "Error: --db requires a value")
				os.Exit(1)
			}
		case "-d", "--debug":
			debugFlag = true
			i++
		default:
			if strings.HasPrefix(args[i], "-") {
				fmt.Fprintf(os.Stderr, "Error: unknown option: %s\n", args[i])
				os.Exit(1)
			}
			i++
		}
	}

	loadEnvFiles()

	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if portFlag != "" {
		port, err := strconv.Atoi(portFlag)
		if err != nil || port <= 0 || port > 65535 {
			fmt.Fprintf(os.Stderr, "Error: invalid port '%s'\n", portFlag)
			os.Exit(1)
		}
		cfg.Server.Port = port
	}
	if dbFlag != "" {
		cfg.Storage.Path = dbFlag
	}

	initLogging(cfg.Logging.Level, debugFlag)

	g, cleanup, err := buildGateway(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build gateway")
	}
	defer cleanup()

	go func() {
		if err := g.Start(); err != nil {
			log.Fatal().Err(err).Msg("gateway exited")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

// buildGateway wires every subsystem together. Persistence is optional:
// with no storage path the gateway runs memory-only.
func buildGateway(cfg *config.Config) (*gateway.Gateway, func(), error) {
	var (
		db     *store.Store
		writer *store.AsyncWriter
	)
	if cfg.Storage.Path != "" {
		var err error
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, err
		}
		writer = store.NewAsyncWriter(db)
	}

	optimizer := budget.NewOptimizer(patternSink(writer))
	if db != nil {
		patterns, err := db.LoadPatterns()
		if err != nil {
			log.Warn().Err(err).Msg("could not restore budget patterns")
		} else if len(patterns) > 0 {
			optimizer.Patterns().Load(patterns)
			log.Info().Int("patterns", len(patterns)).Msg("restored budget patterns")
		}
	}

	monitor := monitoring.NewCacheMonitor()
	if db != nil {
		if hits, misses, savings, err := db.LoadCacheReport(); err != nil {
			log.Warn().Err(err).Msg("could not restore cache metrics")
		} else if hits+misses > 0 {
			monitor.Restore(hits, misses, savings)
		}
	}

	det := detector.NewSufficiencyDetector(cfg.Escalation.TruncationThreshold)
	escalation := detector.NewEscalationManager(cfg.Escalation.MaxRetries, recordSink(writer))
	violations := monitoring.NewViolationMetrics()
	tables := signature.NewTableCache(monitor, "default")
	continuity := signature.NewContinuityCache(
		cfg.Signature.Capacity,
		time.Duration(cfg.Signature.TTLDays)*24*time.Hour,
	)

	g := gateway.New(cfg, gateway.Deps{
		Optimizer:  optimizer,
		Detector:   det,
		Escalation: escalation,
		Violations: violations,
		Monitor:    monitor,
		Tables:     tables,
		Continuity: continuity,
		Writer:     writer,
	})

	cleanup := func() {
		if writer != nil {
			writer.Close()
		}
		if db != nil {
			_ = db.Close()
		}
	}
	return g, cleanup, nil
}

// patternSink returns the writer as a budget.PatternSink, keeping the
// typed-nil out of the interface when persistence is disabled.
func patternSink(w *store.AsyncWriter) budget.PatternSink {
	if w == nil {
		return nil
	}
	return w
}

func recordSink(w *store.AsyncWriter) detector.RecordSink {
	if w == nil {
		return nil
	}
	return w
}

// initLogging configures zerolog for console output.
func initLogging(level string, debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	switch strings.ToLower(level) {
	case "trace":
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func printHelp() {
	fmt.Println(`thinking-gateway - adaptive thinking budget proxy

Usage:
  thinking-gateway [options]

Options:
  -c, --config <file>   Config file (YAML)
  -p, --port <port>     Listen port (default 8318)
      --db <file>       SQLite database path (default: in-memory only)
  -d, --debug           Debug logging
  -h, --help            Show this help`)
}
