// Command kcrun lists and runs the kernelcall compute workloads.
//
//	kcrun -list
//	kcrun -workload ElemwiseSqrt,Matmul1024 -verify sampled
//	kcrun -config kcrun.toml -backend software -v
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/gogpu/kernelcall"
	"github.com/gogpu/kernelcall/internal/config"
	"github.com/gogpu/kernelcall/report"
	"github.com/gogpu/kernelcall/workload"

	_ "github.com/gogpu/kernelcall/backend/halgpu"
	_ "github.com/gogpu/kernelcall/backend/software"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		backend    = flag.String("backend", "", "gpucore backend (empty selects the best available)")
		list       = flag.Bool("list", false, "list workloads and exit")
		workloads  = flag.String("workload", "", "comma-separated workloads to run (default all)")
		verbose    = flag.Bool("v", false, "debug logging")
		mapTimeout = flag.Duration("map-timeout", 0, "readback timeout (0 waits indefinitely)")
		sqrtN      = flag.Int("sqrt-n", 0, "ElemwiseSqrt input length")
		verify     = flag.String("verify", "", "matmul verification: full, sampled or none")
		color      = flag.String("color", "", "colour error lines: auto, always or never")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	kernelcall.SetLogger(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		return 2
	}

	// Flags given on the command line override the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = *backend
		case "map-timeout":
			cfg.MapTimeout = config.Duration(*mapTimeout)
		case "sqrt-n":
			cfg.Sqrt.N = *sqrtN
		case "verify":
			cfg.Matmul.Verify = *verify
		case "color":
			cfg.Color = *color
		case "workload":
			cfg.Workloads = splitList(*workloads)
		}
	})
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "err", err)
		return 2
	}

	reg, err := cfg.Registry()
	if err != nil {
		logger.Error("build registry", "err", err)
		return 2
	}
	if *list {
		for _, name := range reg.Names() {
			fmt.Println(name)
		}
		return 0
	}

	mode, _ := report.ParseColorMode(cfg.Color)
	sink := report.NewWriter(os.Stdout, mode)

	var opts []kernelcall.Option
	if cfg.Backend != "" {
		opts = append(opts, kernelcall.WithBackend(cfg.Backend))
	}
	if cfg.MapTimeout > 0 {
		opts = append(opts, kernelcall.WithMapTimeout(cfg.MapTimeout.Std()))
	}
	runner := workload.NewRunner(reg, sink, workload.WithCallOptions(opts...))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	names := cfg.Workloads
	if len(names) == 0 {
		names = reg.Names()
	}
	failed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		sink.Log("== " + name)
		if err := runner.Run(ctx, name); err != nil {
			failed++
		}
	}
	if failed > 0 {
		logger.Error("workloads failed", "failed", failed, "total", len(names))
		return 1
	}
	return 0
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
