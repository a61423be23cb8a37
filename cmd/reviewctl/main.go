// Command reviewctl drives parse, schema review and extraction of one document
// against a running statement extraction server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/client"
	"github.com/BerylCAtieno/statement-extraction-api/internal/grounding"
	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/pipeline"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

const usage = `usage: reviewctl [global flags] <command> [flags]

commands:
  parse    parse a document (cached unless -force)
  extract  extract transactions from the cached parse
  schema   show, replace or revert a document's extraction schema
  chunks   print chunk boxes for one page at a given render size
  status   print the processing status of a document

exit codes: 3 unsaved schema changes, 4 timeout, 5 unresolved amounts

global flags:
`

// errUnresolvedAmounts is returned after printing an extraction that has rows
// without a usable amount.
var errUnresolvedAmounts = errors.New("extraction has unresolved amounts")

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		printError("Error: failed to encode output: %v\n", err)
	}
}

type app struct {
	api    *client.Client
	orch   *pipeline.Orchestrator
	logger *utils.Logger
}

func main() {
	var (
		apiURL         = flag.String("api", envOr("REVIEWCTL_API", "http://localhost:8080/api/v1"), "processing API base URL")
		remoteTimeout  = flag.Duration("remote-timeout", 10*time.Minute, "timeout for parse and extract")
		requestTimeout = flag.Duration("request-timeout", 30*time.Second, "timeout for other calls")
		logLevel       = flag.String("log-level", "warn", "log level")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := utils.NewLogger(*logLevel)
	api := client.New(*apiURL, client.Options{
		RemoteTimeout:  *remoteTimeout,
		RequestTimeout: *requestTimeout,
		Logger:         logger,
	})
	a := &app{
		api:    api,
		orch:   pipeline.NewOrchestrator(api, pipeline.NewMachine(), logger),
		logger: logger,
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "parse":
		err = a.parse(args)
	case "extract":
		err = a.extract(args)
	case "schema":
		err = a.schema(args)
	case "chunks":
		err = a.chunks(args)
	case "status":
		err = a.status(args)
	default:
		printError("Error: unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		printError("Error: %v\n", err)
		var unsaved *pipeline.UnsavedChangesError
		switch {
		case errors.As(err, &unsaved):
			os.Exit(3)
		case errors.Is(err, pipeline.ErrTimeout):
			os.Exit(4)
		case errors.Is(err, errUnresolvedAmounts):
			os.Exit(5)
		}
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// documentFlags registers -folder and -file on fs.
func documentFlags(fs *flag.FlagSet) func() (models.DocumentKey, error) {
	folder := fs.String("folder", "", "folder ID (required)")
	file := fs.String("file", "", "document filename (required)")
	return func() (models.DocumentKey, error) {
		if *folder == "" || *file == "" {
			return models.DocumentKey{}, errors.New("-folder and -file are required")
		}
		return models.DocumentKey{Folder: *folder, Filename: *file}, nil
	}
}

func (a *app) parse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	doc := documentFlags(fs)
	force := fs.Bool("force", false, "parse again even when a cached parse exists")
	retries := fs.Int("retries", 0, "retry a failed parse up to this many times")
	fs.Parse(args)

	key, err := doc()
	if err != nil {
		return err
	}
	ctx := context.Background()
	resp, err := a.orch.Parse(ctx, key, *force)
	for i := 0; err != nil && i < *retries && a.failed(key); i++ {
		printError("Parse failed: %v; retrying (%d/%d)\n", err, i+1, *retries)
		resp, err = a.orch.RetryParse(ctx, key)
	}
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func (a *app) extract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	doc := documentFlags(fs)
	fieldsFile := fs.String("fields", "", "JSON file with an edited field list")
	resolve := fs.String("resolve", "none", "what to do with unsaved fields: cancel, unsaved or save")
	retries := fs.Int("retries", 0, "retry a failed extraction up to this many times")
	fs.Parse(args)

	key, err := doc()
	if err != nil {
		return err
	}
	res, err := pipeline.ParseResolution(*resolve)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if *fieldsFile != "" {
		if err := a.loadDraft(ctx, key, *fieldsFile); err != nil {
			return err
		}
	}

	result, err := a.orch.Extract(ctx, key, res)
	for i := 0; err != nil && i < *retries && a.failed(key); i++ {
		printError("Extraction failed: %v; retrying (%d/%d)\n", err, i+1, *retries)
		result, err = a.orch.RetryExtract(ctx, key)
	}
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("Extraction cancelled")
		return nil
	}
	printJSON(result)

	for _, u := range result.UnresolvedAmounts {
		printError("Warning: row %d has no amount (%s): %s\n", u.Row, u.Rule, u.Message)
	}
	if n := len(result.UnresolvedAmounts); n > 0 {
		return fmt.Errorf("%w: %d rows", errUnresolvedAmounts, n)
	}
	return nil
}

// failed reports whether the last operation left the document in error, which
// is the only state a retry starts from.
func (a *app) failed(key models.DocumentKey) bool {
	return a.orch.Entry(key).Status == models.StatusError
}

func (a *app) loadDraft(ctx context.Context, key models.DocumentKey, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fields: %w", err)
	}
	var fields []models.Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode fields: %w", err)
	}

	draft, err := a.orch.Draft(ctx, key)
	if err != nil {
		return err
	}
	draft.SetFields(fields)
	return nil
}

func (a *app) schema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	doc := documentFlags(fs)
	setFile := fs.String("set", "", "JSON file with the field list to save")
	revert := fs.Bool("revert", false, "delete the custom schema and use the default")
	fs.Parse(args)

	key, err := doc()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var draft *pipeline.SchemaDraft
	switch {
	case *revert:
		draft, err = a.orch.RevertSchema(ctx, key)
	case *setFile != "":
		if err = a.loadDraft(ctx, key, *setFile); err == nil {
			if err = a.orch.SaveSchema(ctx, key); err == nil {
				draft, err = a.orch.Draft(ctx, key)
			}
		}
	default:
		draft, err = a.orch.Draft(ctx, key)
	}
	if err != nil {
		return err
	}

	if draft.Fallback() {
		printError("Warning: the stored custom schema could not be read; showing default fields\n")
	}
	printJSON(map[string]any{
		"is_custom": draft.Custom(),
		"fields":    draft.Fields(),
	})
	return nil
}

func (a *app) chunks(args []string) error {
	fs := flag.NewFlagSet("chunks", flag.ExitOnError)
	doc := documentFlags(fs)
	page := fs.Int("page", 0, "zero-based page index")
	width := fs.Float64("width", 800, "rendered page width in pixels")
	height := fs.Float64("height", 1000, "rendered page height in pixels")
	fs.Parse(args)

	key, err := doc()
	if err != nil {
		return err
	}
	if *width <= 0 || *height <= 0 {
		return errors.New("-width and -height must be positive")
	}

	meta, err := a.api.GetMetadata(context.Background(), key)
	if err != nil {
		return err
	}
	printJSON(grounding.Overlay(meta.Chunks, *page, *width, *height))
	return nil
}

func (a *app) status(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	doc := documentFlags(fs)
	fs.Parse(args)

	key, err := doc()
	if err != nil {
		return err
	}
	ctx := context.Background()

	entry, err := a.orch.Open(ctx, key)
	if err != nil {
		return err
	}
	progress, err := a.api.GetStatus(ctx, key)
	if err != nil {
		return err
	}
	printJSON(map[string]any{
		"status":   entry.Status,
		"progress": progress,
	})
	return nil
}
