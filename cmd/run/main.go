package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/hostbridge/bridge"
	"github.com/wippyai/hostbridge/engine"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to module wasm file")
		configFile  = flag.String("config", "", "Engine configuration (TOML)")
		funcName    = flag.String("func", "", "Function to call (optional)")
		strArg      = flag.String("arg", "", "String argument, passed as (ptr, len)")
		numArgs     = flag.String("args", "", "Numeric arguments (comma-separated)")
		noThreads   = flag.Bool("no-threads", false, "Disable shared memory and worker pools")
		list        = flag.Bool("list", false, "List exported functions and exit")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
		verbose     = flag.Bool("v", false, "Log engine and bridge activity")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: run -wasm <file.wasm> [-func name] [-arg string | -args 1,2] [-config engine.toml]")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       run -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	opts := options{
		wasmFile:   *wasmFile,
		configFile: *configFile,
		funcName:   *funcName,
		noThreads:  *noThreads,
		verbose:    *verbose,
	}
	switch {
	case *strArg != "":
		opts.input = strconv.Quote(*strArg)
	case *numArgs != "":
		opts.input = *numArgs
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		// Log lines would tear the TUI.
		opts.verbose = false
		if err := runInteractive(opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(opts, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	wasmFile   string
	configFile string
	funcName   string
	input      string
	noThreads  bool
	verbose    bool
}

// session is a loaded engine with its module.
type session struct {
	eng    *engine.Engine
	mod    *engine.Module
	logger *zap.Logger
}

func open(ctx context.Context, opts options) (*session, error) {
	data, err := os.ReadFile(opts.wasmFile)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	cfg := engine.DefaultConfig()
	if opts.configFile != "" {
		if cfg, err = engine.LoadConfig(opts.configFile); err != nil {
			return nil, err
		}
	}
	if opts.noThreads {
		cfg.Threads = false
	}

	logger := zap.NewNop()
	if opts.verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		cfg.Debug = true
	}
	engine.SetLogger(logger)
	bridge.SetLogger(logger)

	eng, err := engine.New(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	mod, err := eng.Load(ctx, opts.wasmFile, data)
	if err != nil {
		eng.Close(ctx)
		return nil, fmt.Errorf("load module: %w", err)
	}
	return &session{eng: eng, mod: mod, logger: logger}, nil
}

func (s *session) Close(ctx context.Context) {
	s.eng.Close(ctx)
	_ = s.logger.Sync()
}

func run(opts options, listOnly bool) error {
	ctx := context.Background()

	s, err := open(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	exports := s.mod.Exports()
	fmt.Printf("Module: %s\n", opts.wasmFile)
	fmt.Printf("Shared memory: %v\n", s.mod.SharesMemory())
	fmt.Printf("\nExported functions:\n")
	for _, e := range exports {
		fmt.Printf("  %s\n", signature(e))
	}
	if listOnly {
		return nil
	}

	fmt.Printf("\nInstantiating module...\n")
	inst, err := s.mod.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("instantiate: %w", err)
	}
	defer inst.Close(ctx)

	exp, ok := pickExport(exports, opts.funcName)
	if !ok {
		if opts.funcName != "" {
			return fmt.Errorf("function %q is not exported", opts.funcName)
		}
		fmt.Printf("\nNo function specified and no common entry point found.\n")
		fmt.Printf("Use -func to specify a function to call.\n")
		return nil
	}

	args, err := parseArgs(ctx, inst, exp.Params, opts.input)
	if err != nil {
		return fmt.Errorf("arguments for %s: %w", exp.Name, err)
	}

	fmt.Printf("\nCalling %s...\n", signature(exp))
	res, err := inst.Call(ctx, exp.Name, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", exp.Name, err)
	}
	inst.RunPending()

	fmt.Printf("Result: %s\n", formatResults(ctx, inst, exp.Results, res))
	fmt.Printf("\n%s\n", statsLine(inst.Context().Stats()))
	for i, p := range inst.Pools() {
		fmt.Printf("pool %d: %s, %d/%d workers ready\n", i, p.State(), p.Ready(), p.Descriptor().Threads)
	}
	return nil
}

// pickExport returns the named export, or a common entry point when name
// is empty.
func pickExport(exports []engine.Export, name string) (engine.Export, bool) {
	find := func(n string) (engine.Export, bool) {
		for _, e := range exports {
			if e.Name == n {
				return e, true
			}
		}
		return engine.Export{}, false
	}
	if name != "" {
		return find(name)
	}
	for _, n := range []string{"_start", "run", "main"} {
		if e, ok := find(n); ok {
			return e, true
		}
	}
	return engine.Export{}, false
}
