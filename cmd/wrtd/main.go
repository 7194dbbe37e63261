package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/wrt/budget"
	"github.com/wippyai/wrt/engine"
	"github.com/wippyai/wrt/errors"
	"github.com/wippyai/wrt/runtime"
	"github.com/wippyai/wrt/safemem"
	"github.com/wippyai/wrt/wasm"
)

// Exit codes per the daemon contract.
const (
	exitOK         = 0
	exitTrap       = 1
	exitLink       = 2
	exitValidation = 3
	exitBudget     = 4
	exitUsage      = 64
)

const defaultBudgetBytes = 64 << 20

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}
	switch os.Args[1] {
	case "run":
		os.Exit(runCmd(os.Args[2:]))
	case "-h", "--help", "help":
		usage()
		os.Exit(exitOK)
	default:
		fmt.Fprintf(os.Stderr, "wrtd: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(exitUsage)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: wrtd run <module.wasm> [--fuel N] [--max-mem-pages N]")
	fmt.Fprintln(os.Stderr, "                [--verify off|basic|sampling|full|redundant]")
	fmt.Fprintln(os.Stderr, "                [--checkpoint path] [--invoke name] [--args a,b,...]")
	fmt.Fprintln(os.Stderr, "                [--stats] [-i] [-v]")
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fuel := fs.Uint64("fuel", 0, "initial fuel (0 uses WRT_FUEL_DEFAULT or unlimited)")
	maxMemPages := fs.Uint("max-mem-pages", 0, "cap linear memory growth in pages")
	verifyFlag := fs.String("verify", "", "verification level (default from WRT_DEFAULT_VERIFY)")
	checkpointPath := fs.String("checkpoint", "", "checkpoint file: restored if present, written on fuel exhaustion")
	invoke := fs.String("invoke", "", "exported function to call (default: start function only)")
	argList := fs.String("args", "", "comma-separated integer arguments")
	stats := fs.Bool("stats", false, "print execution statistics")
	interactive := fs.Bool("i", false, "interactive inspector")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		usage()
		return exitUsage
	}
	modulePath := fs.Arg(0)

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}
	engine.SetLogger(logger)

	level, code := resolveVerify(*verifyFlag)
	if code != exitOK {
		return code
	}

	initialFuel := *fuel
	if initialFuel == 0 {
		if raw := os.Getenv("WRT_FUEL_DEFAULT"); raw != "" {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				fmt.Fprintf(os.Stderr, "wrtd: bad WRT_FUEL_DEFAULT %q\n", raw)
				return exitUsage
			}
			initialFuel = v
		} else {
			initialFuel = ^uint64(0)
		}
	}

	data, err := os.ReadFile(modulePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
		return exitUsage
	}
	img, err := wasm.ParseImageValidate(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: validation: %v\n", err)
		return exitValidation
	}

	reg := budget.NewRegistry()
	reg.SetLogger(logger)
	if err := reg.ConfigureFromEnv(defaultBudgetBytes); err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: budget: %v\n", err)
		return exitUsage
	}

	store := runtime.NewStore(runtime.StoreConfig{
		Registry:    reg,
		Hosts:       runtime.NewHostRegistry(),
		Logger:      logger,
		Verify:      level,
		MaxMemPages: uint32(*maxMemPages),
	})

	if *interactive {
		return runInteractive(modulePath, img, store, reg, initialFuel, level)
	}

	inst, err := store.Instantiate(img)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
		return exitCodeFor(err)
	}
	defer inst.Close()

	eng, err := engine.New(inst, engine.Config{
		Registry: reg,
		Logger:   logger,
		Verify:   level,
		Fuel:     initialFuel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
		return exitCodeFor(err)
	}
	defer eng.Close()

	ctx := context.Background()

	restored := false
	if *checkpointPath != "" {
		if raw, err := os.ReadFile(*checkpointPath); err == nil {
			if err := eng.Restore(raw); err != nil {
				fmt.Fprintf(os.Stderr, "wrtd: restore: %v\n", err)
				return exitValidation
			}
			restored = true
			fmt.Fprintf(os.Stderr, "wrtd: restored checkpoint from %s\n", *checkpointPath)
		}
	}

	var results []runtime.Value
	var callErr error
	if restored {
		results, callErr = eng.Resume(ctx)
	} else {
		if err := eng.RunStart(ctx); err != nil {
			return reportFailure(eng, err, *checkpointPath)
		}
		if *invoke == "" {
			fmt.Println("ok")
			return exitOK
		}
		callArgs, err := parseArgs(img, *invoke, *argList)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
			return exitUsage
		}
		results, callErr = eng.Invoke(ctx, *invoke, callArgs)
	}

	if callErr != nil {
		return reportFailure(eng, callErr, *checkpointPath)
	}

	for _, v := range results {
		fmt.Println(v.String())
	}
	if *stats {
		printStats(eng)
	}
	if err := reg.CheckLeaks(); err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
		return exitBudget
	}
	return exitOK
}

// reportFailure maps a failed call to the exit code contract, writing
// a checkpoint when the failure is a fuel pause and a path was given.
func reportFailure(eng *engine.Engine, err error, checkpointPath string) int {
	if stderrors.Is(err, errors.ErrFuelExhausted) && eng.State() == engine.StatePaused {
		if checkpointPath != "" {
			data, saveErr := eng.Save()
			if saveErr == nil {
				saveErr = os.WriteFile(checkpointPath, data, 0o644)
			}
			if saveErr != nil {
				fmt.Fprintf(os.Stderr, "wrtd: checkpoint: %v\n", saveErr)
				return exitTrap
			}
			fmt.Fprintf(os.Stderr, "wrtd: fuel exhausted, checkpoint written to %s\n", checkpointPath)
			return exitOK
		}
		fmt.Fprintln(os.Stderr, "wrtd: fuel exhausted")
		return exitTrap
	}

	fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
	if trap := eng.Trap(); trap != nil {
		fmt.Fprintln(os.Stderr, eng.StackTrace())
	}
	return exitCodeFor(err)
}

// exitCodeFor maps the error taxonomy onto the daemon's exit codes.
func exitCodeFor(err error) int {
	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return exitTrap
	}
	switch structured.Category {
	case errors.CategoryLink:
		return exitLink
	case errors.CategoryValidation:
		return exitValidation
	case errors.CategoryResource:
		return exitBudget
	default:
		return exitTrap
	}
}

func resolveVerify(flagValue string) (safemem.Level, int) {
	raw := flagValue
	if raw == "" {
		raw = os.Getenv("WRT_DEFAULT_VERIFY")
	}
	if raw == "" {
		return safemem.Basic, exitOK
	}
	level, err := safemem.ParseLevel(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wrtd: %v\n", err)
		return safemem.Off, exitUsage
	}
	return level, exitOK
}

// parseArgs converts the comma-separated argument list using the
// target's signature.
func parseArgs(img *wasm.Image, name, argList string) ([]runtime.Value, error) {
	funcIdx, ok := img.ExportedFunc(name)
	if !ok {
		return nil, fmt.Errorf("export %q not found", name)
	}
	sig, _ := img.FuncSignature(funcIdx)

	var parts []string
	if argList != "" {
		parts = strings.Split(argList, ",")
	}
	if len(parts) != len(sig.Params) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", name, len(sig.Params), len(parts))
	}

	values := make([]runtime.Value, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		switch sig.Params[i] {
		case wasm.ValI32:
			v, err := strconv.ParseInt(p, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			values[i] = runtime.I32(int32(v))
		case wasm.ValI64:
			v, err := strconv.ParseInt(p, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			values[i] = runtime.I64(v)
		case wasm.ValF32:
			v, err := strconv.ParseFloat(p, 32)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			values[i] = runtime.F32(float32(v))
		case wasm.ValF64:
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %d: %w", i, err)
			}
			values[i] = runtime.F64(v)
		default:
			return nil, fmt.Errorf("argument %d: unsupported parameter type %s", i, sig.Params[i])
		}
	}
	return values, nil
}

func printStats(eng *engine.Engine) {
	s := eng.Governor().Stats()
	fmt.Fprintf(os.Stderr, "instructions: %d\n", s.InstructionsExecuted)
	fmt.Fprintf(os.Stderr, "calls:        %d\n", s.FunctionCalls)
	fmt.Fprintf(os.Stderr, "memory ops:   %d\n", s.MemoryOperations)
	fmt.Fprintf(os.Stderr, "fuel used:    %d\n", s.FuelConsumed)
	fmt.Fprintf(os.Stderr, "peak frames:  %d\n", s.PeakFrameDepth)
	fmt.Fprintf(os.Stderr, "peak operands: %d\n", s.PeakOperandHeight)
}
