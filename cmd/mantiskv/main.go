// Command mantiskv opens a database at a data directory and runs an
// interactive begin/read/write/commit loop against it, adapted from the
// teacher's cmd/mantisDB/main.go: flag parsing, config loading, and
// graceful shutdown on signal, trimmed of the API/admin/benchmark/cache
// wiring this engine doesn't have (see DESIGN.md).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"mantiskv/config"
	"mantiskv/db"
	"mantiskv/dblog"
	"mantiskv/hlc"
	"mantiskv/storage"
	"mantiskv/wal"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	dataDir := flag.String("data-dir", "", "override the configured data directory")
	logLevel := flag.String("log-level", "", "override the configured log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("mantiskv: load config: %v", err)
	}
	if *dataDir != "" {
		cfg.Database.DataDir = *dataDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := dblog.New(dblog.ParseLevel(cfg.Logging.Level), nil)

	syncMode := wal.SyncAlways
	if !cfg.Durability.SyncOnEveryWrite {
		syncMode = wal.SyncNever
	}
	engine := wal.NewEngine(storage.NewMemEngine(storage.NewCompressingCodec()), syncMode)
	database, err := db.New(engine, cfg.Database.DataDir)
	if err != nil {
		log.Fatalf("mantiskv: open %s: %v", cfg.Database.DataDir, err)
	}
	database = database.WithLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "mantiskv: shutting down")
		cancel()
	}()

	repl := newREPL(ctx, database)
	repl.run(os.Stdin, os.Stdout)

	if err := database.Close(); err != nil {
		log.Fatalf("mantiskv: close: %v", err)
	}
}

// repl drives a line-oriented session against a single db.DB, tracking at
// most one open transaction at a time per the spec's client model (a
// client groups operations into a transaction, then commits or aborts).
type repl struct {
	ctx context.Context
	db  *db.DB

	activeTxnID  uuid.UUID
	hasActiveTxn bool
}

func newREPL(ctx context.Context, d *db.DB) *repl {
	return &repl{ctx: ctx, db: d}
}

func (r *repl) run(in *os.File, out *os.File) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "mantiskv ready. commands: begin, read <key>, write <key> <value>, commit, abort, now, settime <wall> <logical>, quit")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if r.dispatch(line, out) {
			return
		}
	}
}

// dispatch runs one command line, returning true if the session should end.
func (r *repl) dispatch(line string, out *os.File) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "quit", "exit":
		return true
	case "begin":
		txnID, err := r.db.BeginTxn(r.ctx)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		r.activeTxnID = txnID
		r.hasActiveTxn = true
		fmt.Fprintf(out, "txn %s\n", r.activeTxnID)
	case "read":
		if !r.requireArgs(out, args, 1, "read <key>") {
			return false
		}
		if !r.requireTxn(out) {
			return false
		}
		value, found, err := r.db.Read(r.ctx, args[0], r.activeTxnID)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		if !found {
			fmt.Fprintln(out, "(not found)")
			return false
		}
		fmt.Fprintf(out, "%s\n", value)
	case "write":
		if !r.requireArgs(out, args, 2, "write <key> <value>") {
			return false
		}
		if !r.requireTxn(out) {
			return false
		}
		if err := r.db.Write(r.ctx, args[0], []byte(strings.Join(args[1:], " ")), r.activeTxnID); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	case "commit":
		if !r.requireTxn(out) {
			return false
		}
		commitTS, committed, err := r.db.CommitTxn(r.ctx, r.activeTxnID)
		r.hasActiveTxn = false
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		if !committed {
			fmt.Fprintln(out, "abort: commit-time read refresh failed")
			return false
		}
		fmt.Fprintf(out, "committed at %s\n", commitTS)
	case "abort":
		if !r.requireTxn(out) {
			return false
		}
		err := r.db.AbortTxn(r.ctx, r.activeTxnID)
		r.hasActiveTxn = false
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	case "now":
		fmt.Fprintln(out, r.db.Now())
	case "settime":
		if !r.requireArgs(out, args, 2, "settime <wall> <logical>") {
			return false
		}
		wall, err1 := strconv.ParseUint(args[0], 10, 64)
		logical, err2 := strconv.ParseUint(args[1], 10, 32)
		if err1 != nil || err2 != nil {
			fmt.Fprintln(out, "error: wall and logical must be integers")
			return false
		}
		r.db.SetTime(hlc.New(wall, uint32(logical)))
	default:
		fmt.Fprintf(out, "unknown command %q\n", cmd)
	}
	return false
}

func (r *repl) requireArgs(out *os.File, args []string, n int, usage string) bool {
	if len(args) < n {
		fmt.Fprintf(out, "usage: %s\n", usage)
		return false
	}
	return true
}

func (r *repl) requireTxn(out *os.File) bool {
	if !r.hasActiveTxn {
		fmt.Fprintln(out, "no active transaction; run begin first")
		return false
	}
	return true
}
