// Command linkcheck opens the configured store, reports link table entries
// that point at missing rows, and optionally prints the save journal of one
// parent record.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"linkcore/internal/core"
	"linkcore/internal/journal"
)

var (
	exitFunc    = os.Exit
	osArgs      = func() []string { return os.Args[1:] }
	openStore   = core.OpenPersistentStore
	openJournal = journal.Open
)

func main() {
	code := cli(context.Background(), osArgs(), os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	driver  string
	history string
	asJSON  bool
	verbose bool
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("linkcheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.driver, "driver", "", "storage driver override (memory|sqlite|postgres)")
	fs.StringVar(&opts.history, "history", "", "print journal entries for relation/parent_id")
	fs.BoolVar(&opts.asJSON, "json", false, "emit JSON instead of text")
	fs.BoolVar(&opts.verbose, "v", false, "log debug output to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	code, err := run(ctx, opts, logger, stdout)
	if err != nil {
		logger.Error("link check failed", "error", err)
		return 1
	}
	return code
}

func run(ctx context.Context, opts options, logger *slog.Logger, stdout io.Writer) (int, error) {
	if opts.driver != "" {
		if err := os.Setenv("LINKCORE_STORAGE_DRIVER", opts.driver); err != nil {
			return 1, err
		}
	}
	store, err := openStore(core.NewDefaultRulesEngine())
	if err != nil {
		return 1, fmt.Errorf("open store: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	svcOpts := []core.Option{core.WithLogger(logger)}
	if opts.history != "" {
		js, err := openJournal(ctx)
		if err != nil {
			return 1, fmt.Errorf("open journal: %w", err)
		}
		svcOpts = append(svcOpts, core.WithJournal(js))
	}
	svc := core.NewService(store, svcOpts...)

	if opts.history != "" {
		return printHistory(ctx, svc, opts, stdout)
	}

	dangling, err := svc.CheckLinks(ctx)
	if err != nil {
		return 1, err
	}
	logger.Debug("link check finished", "dangling", len(dangling))
	if opts.asJSON {
		if dangling == nil {
			dangling = []core.DanglingLink{}
		}
		if err := writeJSON(stdout, dangling); err != nil {
			return 1, err
		}
	} else if err := writeReport(stdout, dangling); err != nil {
		return 1, err
	}
	if len(dangling) > 0 {
		return 1, nil
	}
	return 0, nil
}

func printHistory(ctx context.Context, svc *core.Service, opts options, stdout io.Writer) (int, error) {
	relation, parentID, ok := strings.Cut(opts.history, "/")
	if !ok || relation == "" || parentID == "" {
		return 2, fmt.Errorf("history must be relation/parent_id, got %q", opts.history)
	}
	entries, err := svc.Journal().Entries(ctx, relation, parentID)
	if err != nil {
		return 1, err
	}
	if opts.asJSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		return 0, writeJSON(stdout, entries)
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintf(stdout, "No journal entries for %s/%s.\n", relation, parentID)
		return 0, err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintf(stdout, "%s linked=%s unlinked=%s destroyed=%s\n",
			e.SavedAt.Format(time.RFC3339), joinIDs(e.Linked), joinIDs(e.Unlinked), joinIDs(e.Destroyed)); err != nil {
			return 1, err
		}
	}
	return 0, nil
}

func writeReport(w io.Writer, dangling []core.DanglingLink) error {
	if len(dangling) == 0 {
		_, err := fmt.Fprintln(w, "Link check passed.")
		return err
	}
	for _, d := range dangling {
		var err error
		if d.ChildID == "" {
			_, err = fmt.Fprintf(w, "%s: parent %s missing (%s)\n", d.Relation, d.ParentID, d.Missing)
		} else {
			_, err = fmt.Fprintf(w, "%s: %s -> %s missing (%s)\n", d.Relation, d.ParentID, d.ChildID, d.Missing)
		}
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Link check failed: %d dangling link(s).\n", len(dangling))
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinIDs(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	return strings.Join(ids, ",")
}
