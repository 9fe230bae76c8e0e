// Package main provides the Loom CLI.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/peterh/liner"

	loom "github.com/everydev1618/goloom"
	"github.com/everydev1618/goloom/ast"
	"github.com/everydev1618/goloom/llm"
	"github.com/everydev1618/goloom/store"
)

var (
	version = "dev"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "run":
		runCmd(args)
	case "resume":
		resumeCmd(args)
	case "list":
		listCmd(args)
	case "inspect":
		inspectCmd(args)
	case "version":
		fmt.Printf("loom %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Loom - resumable AI workflow runtime

Usage:
  loom <command> [options]

Commands:
  run       Start a new run from a program document
  resume    Resume a stored run
  list      List stored runs
  inspect   Show a stored run's state and AI interactions
  version   Print version information
  help      Show this help message

Examples:
  loom run workflow.json
  loom resume 2f1c9c1e-7c5a-4e57-a2bd-91d1f42de551
  loom inspect 2f1c9c1e-7c5a-4e57-a2bd-91d1f42de551 --interactions

Run 'loom <command> --help' for more information on a command.`)
}

// runCmd starts a new run from a program document and drives it until it
// finishes or suspends on something the CLI cannot answer.
func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "loom.yaml", "Config file path")
	modulePath := fs.String("modules", "", "Directory searched for imported modules")

	fs.Usage = func() {
		fmt.Println(`Usage: loom run <program.json> [options]

Start a new run from a program document.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no program document specified")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	setupLogging(cfg)

	program, err := loadProgram(fs.Arg(0))
	if err != nil {
		fatal("load program: %v", err)
	}

	var opts []loom.Option
	opts = append(opts, loom.WithConfig(cfg), loom.WithParser(parseProgramJSON))
	if *modulePath != "" {
		opts = append(opts, loom.WithModulePath(*modulePath))
	}
	engine := loom.NewEngine(opts...)

	st, err := engine.NewRun(program)
	if err != nil {
		fatal("create run: %v", err)
	}
	fmt.Printf("run %s\n", st.ID)

	drive(engine, cfg, st)
}

// resumeCmd reloads a stored run and drives it again.
func resumeCmd(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "loom.yaml", "Config file path")

	fs.Usage = func() {
		fmt.Println(`Usage: loom resume <run-id> [options]

Resume a stored run.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: no run ID specified")
		fs.Usage()
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	setupLogging(cfg)

	db := openStore(cfg)
	defer db.Close()

	st, err := db.LoadRun(context.Background(), fs.Arg(0))
	if err != nil {
		fatal("load run: %v", err)
	}
	if st.Status.Terminal() {
		fatal("run %s already finished with status %s", st.ID, st.Status)
	}

	engine := loom.NewEngine(loom.WithConfig(cfg), loom.WithParser(parseProgramJSON))
	drive(engine, cfg, st)
}

// drive services a run to completion with the CLI's provider, store, and
// interactive input.
func drive(engine *loom.Engine, cfg loom.Config, st *loom.State) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		fatal("ANTHROPIC_API_KEY is not set")
	}
	provider := llm.NewAnthropic(llm.WithAPIKey(apiKey), llm.WithModel(cfg.DefaultModel))

	db := openStore(cfg)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := loom.NewDriver(engine, provider,
		loom.WithSnapshots(db),
		loom.WithInput(promptUser),
	)

	start := time.Now()
	err := driver.Run(ctx, st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run %s stopped after %s: %v\n", st.ID, time.Since(start).Round(time.Millisecond), err)
		os.Exit(1)
	}
	fmt.Printf("run %s completed in %s\n", st.ID, time.Since(start).Round(time.Millisecond))
	if !st.LastResult.IsNull() {
		fmt.Println(st.LastResult.Display())
	}
}

// promptUser answers an ask operation from the terminal.
func promptUser(ctx context.Context, prompt string) (string, error) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	fmt.Println(prompt)
	answer, err := line.Prompt("> ")
	if err != nil {
		return "", err
	}
	line.AppendHistory(answer)
	return answer, nil
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "loom.yaml", "Config file path")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)
	db := openStore(cfg)
	defer db.Close()

	runs, err := db.ListRuns(context.Background())
	if err != nil {
		fatal("list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("no stored runs")
		return
	}
	for _, info := range runs {
		fmt.Printf("%s  %-20s %s\n", info.ID, info.Status, info.UpdatedAt.Local().Format(time.RFC3339))
	}
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "loom.yaml", "Config file path")
	interactions := fs.Bool("interactions", false, "Show the AI interaction log")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() < 1 {
		fatal("no run ID specified")
	}

	cfg := loadConfig(*configPath)
	db := openStore(cfg)
	defer db.Close()

	st, err := db.LoadRun(context.Background(), fs.Arg(0))
	if err != nil {
		fatal("load run: %v", err)
	}

	fmt.Printf("run:    %s\n", st.ID)
	fmt.Printf("status: %s\n", st.Status)
	if err := st.Err(); err != nil {
		fmt.Printf("error:  %v\n", err)
	}
	if !st.LastResult.IsNull() {
		fmt.Printf("result: %s\n", st.LastResult.Display())
	}
	if req, err := st.Request(); err == nil {
		pending, _ := json.MarshalIndent(req, "", "  ")
		fmt.Printf("pending:\n%s\n", pending)
	}

	if *interactions {
		for _, it := range st.AIInteractions() {
			fmt.Printf("\n[%s] %s round %d (model %s, %d in / %d out tokens)\n",
				it.At.Local().Format(time.RFC3339), it.Op, it.Round, it.Model,
				it.Usage.InputTokens, it.Usage.OutputTokens)
			fmt.Printf("  prompt:   %s\n", it.Prompt)
			fmt.Printf("  response: %s\n", it.Response)
		}
	}
}

func loadConfig(path string) loom.Config {
	cfg, err := loom.LoadConfig(path)
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

func setupLogging(cfg loom.Config) {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.SlogLevel(),
		TimeFormat: time.Kitchen,
	})
	slog.SetDefault(slog.New(handler))
}

func openStore(cfg loom.Config) store.Store {
	db, err := store.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		fatal("open store %s: %v", cfg.StorePath, err)
	}
	return db
}

// loadProgram reads a program document: the JSON encoding of an
// ast.Program produced by a front end.
func loadProgram(path string) (*ast.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	program := &ast.Program{}
	if err := json.Unmarshal(data, program); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	program.Path = path
	return program, nil
}

// parseProgramJSON is the CLI's ParseFunc: modules and generated code are
// exchanged as program documents, not surface syntax.
func parseProgramJSON(src string) (*ast.Program, error) {
	program := &ast.Program{}
	if err := json.Unmarshal([]byte(src), program); err != nil {
		return nil, err
	}
	return program, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
