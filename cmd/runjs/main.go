package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cryguy/runjs"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to a YAML config file")
		script     = flag.Bool("script", false, "Run the entry as a classic script with built-ins as globals")
		logLevel   = flag.String("log-level", "", "Log level: none, error, warn, info, debug")
	)
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: runjs [-config file] [-script] [-log-level level] <entry>")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), *configFile, *script, *logLevel); err != nil {
		var f *runjs.Failure
		if errors.As(err, &f) {
			fmt.Fprintln(os.Stderr, f.Report())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(entry, configFile string, script bool, logLevel string) error {
	cfg := runjs.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = runjs.LoadConfig(configFile); err != nil {
			return err
		}
	}
	if script {
		cfg.Script = true
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := runjs.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	runjs.SetLogger(log)

	rt, err := runjs.New(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rt.RunFile(ctx, entry)
}
