// Package main provides the segdump CLI tool for inspecting segment files.
//
// Usage:
//
//	segdump --file=<path> [--command=<cmd>] [options]
//
// --file names a key file (keys.<lo>.<hi>), whose data file is found next to
// it, or a log file (log.<id>).
//
// Commands:
//
//	scan            Scan all entries
//	blocks          Show key block information
//	index           Show the sparse index
//	check           Verify segment file integrity
//	log             Replay a log file and print its records
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aalhour/segmentkv/internal/iterator"
	"github.com/aalhour/segmentkv/internal/segment"
	"github.com/aalhour/segmentkv/internal/table"
	"github.com/aalhour/segmentkv/internal/vfs"
	"github.com/aalhour/segmentkv/internal/wal"
)

type config struct {
	filePath    string
	command     string
	hexOutput   bool
	limit       int
	fromKey     string
	toKey       string
	showValues  bool
	showSummary bool
	verbose     bool
	help        bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := &config{}
	flags := flag.NewFlagSet("segdump", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&cfg.filePath, "file", "", "Path to a key file or log file (required)")
	flags.StringVar(&cfg.command, "command", "scan", "Command: scan, blocks, index, check, log")
	flags.BoolVar(&cfg.hexOutput, "hex", false, "Output keys and values in hex format")
	flags.IntVar(&cfg.limit, "limit", 0, "Limit number of entries (0 = unlimited)")
	flags.StringVar(&cfg.fromKey, "from", "", "Lower bound for scan (inclusive)")
	flags.StringVar(&cfg.toKey, "to", "", "Upper bound for scan (inclusive)")
	flags.BoolVar(&cfg.showValues, "values", true, "Show values in scan output")
	flags.BoolVar(&cfg.showSummary, "summary", true, "Show summary statistics")
	flags.BoolVar(&cfg.verbose, "v", false, "Verbose output during check")
	flags.BoolVar(&cfg.help, "help", false, "Print help")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if cfg.help {
		printUsage(flags, stdout)
		return 0
	}
	if cfg.filePath == "" {
		fmt.Fprintln(stderr, "Error: --file flag is required")
		printUsage(flags, stderr)
		return 1
	}

	var err error
	switch cfg.command {
	case "scan":
		err = cmdScan(cfg, stdout)
	case "blocks":
		err = cmdBlocks(cfg, stdout)
	case "index":
		err = cmdIndex(cfg, stdout)
	case "check":
		err = cmdCheck(cfg, stdout)
	case "log":
		err = cmdLog(cfg, stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cfg.command)
		printUsage(flags, stderr)
		return 1
	}

	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printUsage(flags *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "segdump - segmentkv segment file inspection tool")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: segdump --file=<path> [--command=<cmd>] [options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands (--command):")
	fmt.Fprintln(w, "  scan        Scan all entries (default)")
	fmt.Fprintln(w, "  blocks      Show key block information")
	fmt.Fprintln(w, "  index       Show the sparse index")
	fmt.Fprintln(w, "  check       Verify segment file integrity")
	fmt.Fprintln(w, "  log         Replay a log file")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	flags.SetOutput(w)
	flags.PrintDefaults()
}

// openSegment opens the key file named by --file together with its data file.
func openSegment(cfg *config) (*table.Reader, error) {
	fn, ok := segment.ParseFileName(filepath.Base(cfg.filePath))
	if !ok || fn.Kind != segment.KindKeys || fn.Temp {
		return nil, fmt.Errorf("%s is not a key file", cfg.filePath)
	}
	dir := filepath.Dir(cfg.filePath)
	reader, err := table.Open(vfs.Default(), cfg.filePath, filepath.Join(dir, segment.DataName(fn.Lo, fn.Hi)), table.ReaderOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open segment: %w", err)
	}
	return reader, nil
}

func formatOutput(cfg *config, data []byte) string {
	if cfg.hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func cmdScan(cfg *config, w io.Writer) error {
	reader, err := openSegment(cfg)
	if err != nil {
		return err
	}
	defer reader.Close()

	var lower, upper []byte
	if cfg.fromKey != "" {
		lower = []byte(cfg.fromKey)
	}
	if cfg.toKey != "" {
		upper = []byte(cfg.toKey)
	}

	it := reader.NewIterator(lower, upper)
	count, tombstones := 0, 0
	for {
		if _, err := it.PeekKey(); err != nil {
			if errors.Is(err, iterator.ErrEndOfIterator) {
				break
			}
			return fmt.Errorf("scan: %w", err)
		}
		kv, err := it.Next()
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printEntry(cfg, w, kv)
		if kv.IsTombstone() {
			tombstones++
		}
		count++
		if cfg.limit > 0 && count >= cfg.limit {
			break
		}
	}

	if cfg.showSummary {
		fmt.Fprintf(w, "\n(%d entries scanned, %d tombstones)\n", count, tombstones)
	}
	return nil
}

func printEntry(cfg *config, w io.Writer, kv iterator.KeyValue) {
	switch {
	case kv.IsTombstone():
		fmt.Fprintf(w, "%s => <deleted>\n", formatOutput(cfg, kv.Key))
	case cfg.showValues:
		fmt.Fprintf(w, "%s => %s\n", formatOutput(cfg, kv.Key), formatOutput(cfg, kv.Value))
	default:
		fmt.Fprintln(w, formatOutput(cfg, kv.Key))
	}
}

func cmdBlocks(cfg *config, w io.Writer) error {
	reader, err := openSegment(cfg)
	if err != nil {
		return err
	}
	defer reader.Close()

	infos, err := reader.BlockInfos()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Key file: %s\n", cfg.filePath)
	fmt.Fprintln(w, "---")
	for _, b := range infos {
		fmt.Fprintf(w, "  block %d: %d entries [%s .. %s]\n", b.Index, b.Entries, formatOutput(cfg, b.FirstKey), formatOutput(cfg, b.LastKey))
	}
	if cfg.showSummary {
		fmt.Fprintf(w, "\nTotal: %d blocks, %d key bytes, %d data bytes\n", reader.Blocks(), reader.KeyBytes(), reader.DataBytes())
	}
	return nil
}

func cmdIndex(cfg *config, w io.Writer) error {
	reader, err := openSegment(cfg)
	if err != nil {
		return err
	}
	defer reader.Close()

	for i, k := range reader.Index() {
		fmt.Fprintf(w, "  [%d] %s\n", i, formatOutput(cfg, k))
	}
	return nil
}

func cmdCheck(cfg *config, w io.Writer) error {
	reader, err := openSegment(cfg)
	if err != nil {
		return err
	}
	defer reader.Close()

	fmt.Fprintf(w, "Checking %s...\n", cfg.filePath)
	stats, err := reader.Verify()
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}
	if cfg.verbose {
		fmt.Fprintf(w, "  blocks:     %d\n", stats.Blocks)
		fmt.Fprintf(w, "  entries:    %d\n", stats.Entries)
		fmt.Fprintf(w, "  tombstones: %d\n", stats.Tombstones)
		fmt.Fprintf(w, "  key bytes:  %d\n", stats.KeyBytes)
		fmt.Fprintf(w, "  data bytes: %d\n", stats.DataBytes)
	}
	fmt.Fprintln(w, "OK")
	return nil
}

func cmdLog(cfg *config, w io.Writer) error {
	fn, ok := segment.ParseFileName(filepath.Base(cfg.filePath))
	if !ok || fn.Kind != segment.KindLog {
		return fmt.Errorf("%s is not a log file", cfg.filePath)
	}
	f, err := vfs.Default().Open(cfg.filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	count := 0
	stats, err := wal.Replay(f, wal.ReturnOpenError, func(key, value []byte) {
		if cfg.limit > 0 && count >= cfg.limit {
			return
		}
		printEntry(cfg, w, iterator.KeyValue{Key: key, Value: value})
		count++
	})
	if cfg.showSummary {
		fmt.Fprintf(w, "\n(%d records in %d batches)\n", stats.Records, stats.Batches)
	}
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	return nil
}
