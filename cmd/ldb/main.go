// Package main provides the ldb CLI tool for inspecting and editing
// segmentkv databases.
//
// Usage:
//
//	ldb --db=<path> <command> [options]
//
// Commands:
//
//	scan            Scan key-value pairs
//	get <key>       Get value for a key
//	put <key> <val> Put a key-value pair
//	delete <key>    Delete a key
//	stats           Print segment counts and sizes
//	compact         Merge segments down to --segments
//	backup          Write a backup to --dir
//	restore         Restore the backup in --dir into --db
//	destroy         Remove the database directory
//
// Defaults for --db, --max_segments, --max_memory and --compression are read
// from SEGMENTKV_DB, SEGMENTKV_MAX_SEGMENTS, SEGMENTKV_MAX_MEMORY and
// SEGMENTKV_COMPRESSION, which may also be set in a .env file in the working
// directory.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/aalhour/segmentkv"
	"github.com/aalhour/segmentkv/internal/logging"
)

// config holds the flag values of one invocation.
type config struct {
	dbPath      string
	create      bool
	hexOutput   bool
	limit       int
	fromKey     string
	toKey       string
	segments    int
	dir         string
	compression string
	maxSegments int
	maxMemory   int64
	verbose     bool
	help        bool
	stderr      io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Error: load .env: %v\n", err)
		return 1
	}

	cfg := &config{stderr: stderr}
	flags := newFlagSet(cfg, stderr)
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if cfg.help || flags.NArg() == 0 {
		printUsage(flags, stdout)
		return 0
	}

	// Flags may also follow the command.
	command := flags.Arg(0)
	if err := flags.Parse(flags.Args()[1:]); err != nil {
		return 2
	}
	cmdArgs := flags.Args()

	if cfg.dbPath == "" {
		fmt.Fprintln(stderr, "Error: --db flag or SEGMENTKV_DB is required")
		return 1
	}

	var err error
	switch command {
	case "scan":
		err = cmdScan(cfg, stdout)
	case "get":
		err = cmdGet(cfg, cmdArgs, stdout)
	case "put":
		err = cmdPut(cfg, cmdArgs, stdout)
	case "delete":
		err = cmdDelete(cfg, cmdArgs, stdout)
	case "stats":
		err = cmdStats(cfg, stdout)
	case "compact":
		err = cmdCompact(cfg, stdout)
	case "backup":
		err = cmdBackup(cfg, stdout)
	case "restore":
		err = cmdRestore(cfg, stdout)
	case "destroy":
		err = cmdDestroy(cfg, stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", command)
		printUsage(flags, stderr)
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newFlagSet(cfg *config, stderr io.Writer) *flag.FlagSet {
	flags := flag.NewFlagSet("ldb", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.dbPath, "db", os.Getenv("SEGMENTKV_DB"), "Path to the database")
	flags.BoolVar(&cfg.create, "create_if_missing", false, "Create the database if it doesn't exist")
	flags.BoolVar(&cfg.hexOutput, "hex", false, "Output keys and values in hex format")
	flags.IntVar(&cfg.limit, "limit", 0, "Limit number of entries (0 = unlimited)")
	flags.StringVar(&cfg.fromKey, "from", "", "Lower bound for scan (inclusive)")
	flags.StringVar(&cfg.toKey, "to", "", "Upper bound for scan (inclusive)")
	flags.IntVar(&cfg.segments, "segments", 1, "Segment count compact merges down to")
	flags.StringVar(&cfg.dir, "dir", "", "Backup directory")
	flags.StringVar(&cfg.compression, "compression", envString("SEGMENTKV_COMPRESSION", "zstd"), "Backup compression: none, snappy, zstd or lz4")
	flags.IntVar(&cfg.maxSegments, "max_segments", int(envInt("SEGMENTKV_MAX_SEGMENTS", segmentkv.MinMaxSegments)), "MaxSegments option")
	flags.Int64Var(&cfg.maxMemory, "max_memory", envInt("SEGMENTKV_MAX_MEMORY", segmentkv.MinMaxMemoryBytes), "MaxMemoryBytes option")
	flags.BoolVar(&cfg.verbose, "v", false, "Log database activity to stderr")
	flags.BoolVar(&cfg.help, "help", false, "Print help")
	return flags
}

func envString(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

// envInt reads an integer variable. Unparseable values fall back to def.
func envInt(name string, def int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(name), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func printUsage(flags *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "ldb - segmentkv database tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: ldb --db=<path> <command> [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  scan              Scan key-value pairs (--from, --to, --limit)")
	fmt.Fprintln(w, "  get <key>         Get value for a key")
	fmt.Fprintln(w, "  put <key> <val>   Put a key-value pair")
	fmt.Fprintln(w, "  delete <key>      Delete a key")
	fmt.Fprintln(w, "  stats             Print segment counts and sizes")
	fmt.Fprintln(w, "  compact           Merge down to --segments segments")
	fmt.Fprintln(w, "  backup            Write a backup to --dir")
	fmt.Fprintln(w, "  restore           Restore the backup in --dir into --db")
	fmt.Fprintln(w, "  destroy           Remove the database directory")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Keys and values prefixed with 0x are decoded as hex.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	flags.SetOutput(w)
	flags.PrintDefaults()
}

func openDB(cfg *config) (*segmentkv.Database, error) {
	opts := segmentkv.DefaultOptions()
	opts.CreateIfNeeded = cfg.create
	opts.MaxSegments = cfg.maxSegments
	opts.MaxMemoryBytes = cfg.maxMemory
	opts.Logger = logging.Discard
	if cfg.verbose {
		opts.Logger = logging.NewLogger(cfg.stderr, logging.LevelInfo)
	}
	database, err := segmentkv.Open(cfg.dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, nil
}

func formatOutput(cfg *config, data []byte) string {
	if cfg.hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		decoded, err := hex.DecodeString(s[2:])
		if err == nil {
			return decoded
		}
	}
	return []byte(s)
}

func cmdScan(cfg *config, stdout io.Writer) (err error) {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, database.Close()) }()

	var lower, upper []byte
	if cfg.fromKey != "" {
		lower = parseInput(cfg.fromKey)
	}
	if cfg.toKey != "" {
		upper = parseInput(cfg.toKey)
	}
	iter, err := database.Lookup(lower, upper)
	if err != nil {
		return err
	}
	defer iter.Release()

	count := 0
	for iter.Next() {
		fmt.Fprintf(stdout, "%s => %s\n", formatOutput(cfg, iter.Key()), formatOutput(cfg, iter.Value()))
		count++
		if cfg.limit > 0 && count >= cfg.limit {
			break
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Fprintf(stdout, "\n(%d entries scanned)\n", count)
	return nil
}

func cmdGet(cfg *config, args []string, stdout io.Writer) (err error) {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> get <key>")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, database.Close()) }()

	value, err := database.Get(parseInput(args[0]))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, formatOutput(cfg, value))
	return nil
}

func cmdPut(cfg *config, args []string, stdout io.Writer) (err error) {
	if len(args) < 2 {
		return errors.New("usage: ldb --db=<path> put <key> <value>")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, database.Close()) }()

	if err := database.Put(parseInput(args[0]), parseInput(args[1])); err != nil {
		return fmt.Errorf("put failed: %w", err)
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}

func cmdDelete(cfg *config, args []string, stdout io.Writer) (err error) {
	if len(args) < 1 {
		return errors.New("usage: ldb --db=<path> delete <key>")
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, database.Close()) }()

	prev, err := database.Remove(parseInput(args[0]))
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	fmt.Fprintf(stdout, "OK (was %s)\n", formatOutput(cfg, prev))
	return nil
}

func cmdStats(cfg *config, stdout io.Writer) (err error) {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, database.Close()) }()

	s := database.Stats()
	fmt.Fprintf(stdout, "Database: %s\n", cfg.dbPath)
	fmt.Fprintln(stdout, "---")
	fmt.Fprintf(stdout, "segments: %d\n", s.NumberOfSegments)
	fmt.Fprintf(stdout, "memory-bytes: %d\n", s.MemoryBytes)
	fmt.Fprintf(stdout, "disk-bytes: %d\n", s.DiskBytes)
	return nil
}

func cmdCompact(cfg *config, stdout io.Writer) (err error) {
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	before := database.Stats().NumberOfSegments
	if err := database.Compact(cfg.segments); err != nil {
		return errors.Join(fmt.Errorf("compact failed: %w", err), database.Close())
	}
	after := database.Stats().NumberOfSegments
	// Close must not merge back up to the configured maximum.
	if err := database.CloseWithMerge(0); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "OK (%d -> %d segments)\n", before, after)
	return nil
}

func cmdBackup(cfg *config, stdout io.Writer) (err error) {
	if cfg.dir == "" {
		return errors.New("usage: ldb --db=<path> backup --dir=<backup dir>")
	}
	codec, err := parseCompression(cfg.compression)
	if err != nil {
		return err
	}
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, database.Close()) }()

	info, err := database.Backup(cfg.dir, &segmentkv.BackupOptions{Compression: codec})
	if err != nil {
		return err
	}
	for _, f := range info.Files {
		fmt.Fprintf(stdout, "  %s -> %s (%d bytes, checksum %s)\n", f.Name, f.Stored, f.Size, f.Checksum)
	}
	fmt.Fprintf(stdout, "\nBackup written to %s: %d files, %d bytes (%s)\n", cfg.dir, len(info.Files), info.Size, info.Compression)
	return nil
}

func cmdRestore(cfg *config, stdout io.Writer) error {
	if cfg.dir == "" {
		return errors.New("usage: ldb --db=<path> restore --dir=<backup dir>")
	}
	if err := segmentkv.RestoreBackup(cfg.dir, cfg.dbPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Restored %s into %s\n", cfg.dir, cfg.dbPath)
	return nil
}

func cmdDestroy(cfg *config, stdout io.Writer) error {
	if err := segmentkv.Destroy(cfg.dbPath); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Destroyed %s\n", cfg.dbPath)
	return nil
}

func parseCompression(name string) (segmentkv.CompressionType, error) {
	for _, t := range []segmentkv.CompressionType{
		segmentkv.CompressionNone,
		segmentkv.CompressionSnappy,
		segmentkv.CompressionZstd,
		segmentkv.CompressionLZ4,
	} {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}
