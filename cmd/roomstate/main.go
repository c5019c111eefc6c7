// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// roomstate is the operational inspection and backup tool for a frame
// store database: it prints stored diffs, reconstructs full room state
// at a frame, and exports/imports room archives.
//
// Usage:
//
//	roomstate --config store.yaml stats
//	roomstate --config store.yaml frame <frame-id>
//	roomstate --config store.yaml state <frame-id>
//	roomstate --config store.yaml export <room-id> <file>
//	roomstate --config store.yaml import <file>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/roomstate/lib/framestore"
	"github.com/bureau-foundation/roomstate/lib/state"
	"github.com/bureau-foundation/roomstate/lib/statecache"
)

// config is the YAML configuration for the tool.
type config struct {
	// Path is the SQLite database file of the frame store. Required.
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int `yaml:"pool_size"`

	// CacheEntries bounds the snapshot cache used for reconstruction.
	// Defaults to 1024.
	CacheEntries int `yaml:"cache_entries"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "roomstate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		verbose    bool
	)
	pflag.StringVar(&configPath, "config", "", "path to the store configuration file (required)")
	pflag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	pflag.Parse()

	args := pflag.Args()
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	if len(args) == 0 {
		return fmt.Errorf("a command is required: stats, frame, state, export, import")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := statecache.New(cfg.CacheEntries)
	if err != nil {
		return err
	}

	store, err := framestore.Open(framestore.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		Cache:    cache,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	switch command := args[0]; command {
	case "stats":
		return printStats(ctx, store)
	case "frame":
		frameID, err := parseFrameID(args[1:])
		if err != nil {
			return err
		}
		return printFrame(ctx, store, frameID)
	case "state":
		frameID, err := parseFrameID(args[1:])
		if err != nil {
			return err
		}
		return printState(ctx, store, frameID)
	case "export":
		if len(args) != 3 {
			return fmt.Errorf("usage: export <room-id> <file>")
		}
		return exportRoom(ctx, store, args[1], args[2])
	case "import":
		if len(args) != 2 {
			return fmt.Errorf("usage: import <file>")
		}
		return importRoom(ctx, store, args[1])
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func loadConfig(path string) (config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return config{}, fmt.Errorf("reading config: %w", err)
	}
	var cfg config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Path == "" {
		return config{}, fmt.Errorf("config %s: path is required", path)
	}
	return cfg, nil
}

func parseFrameID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("exactly one frame id is required")
	}
	frameID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame id %q: %w", args[0], err)
	}
	return frameID, nil
}

func printStats(ctx context.Context, store *framestore.Store) error {
	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "rooms\t%d\n", stats.Rooms)
	fmt.Fprintf(w, "frames\t%d\n", stats.Frames)
	fmt.Fprintf(w, "root frames\t%d\n", stats.RootFrames)
	fmt.Fprintf(w, "fields\t%d\n", stats.Fields)
	fmt.Fprintf(w, "events\t%d\n", stats.Events)
	fmt.Fprintf(w, "database size\t%d bytes\n", stats.DatabaseSizeBytes)
	return w.Flush()
}

func printFrame(ctx context.Context, store *framestore.Store, frameID int64) error {
	diff, err := store.LoadStateDiff(ctx, frameID)
	if err != nil {
		return err
	}
	if diff.ParentID != nil {
		fmt.Printf("frame %d (parent %d)\n", frameID, *diff.ParentID)
	} else {
		fmt.Printf("frame %d (root)\n", frameID)
	}
	printEntries := func(label string, set state.CompressedState) {
		fmt.Printf("%s (%d):\n", label, set.Len())
		set.Ascend(func(entry state.CompressedEvent) bool {
			fmt.Printf("  %s\n", entry)
			return true
		})
	}
	printEntries("appended", diff.Appended)
	printEntries("disposed", diff.Disposed)
	return nil
}

func printState(ctx context.Context, store *framestore.Store, frameID int64) error {
	fields, err := store.FullStateIDs(ctx, frameID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT TYPE\tSTATE KEY\tEVENT ID")
	for fieldID, eventSN := range fields {
		eventType, stateKey, err := store.FieldName(ctx, fieldID)
		if err != nil {
			return err
		}
		eventID, err := store.EventIDBySN(ctx, eventSN)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", eventType, stateKey, eventID)
	}
	return w.Flush()
}

func exportRoom(ctx context.Context, store *framestore.Store, roomID, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer file.Close()

	if err := store.ExportRoom(ctx, roomID, file); err != nil {
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	fmt.Printf("exported %s to %s\n", roomID, path)
	return nil
}

func importRoom(ctx context.Context, store *framestore.Store, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	roomID, frames, err := store.ImportRoom(ctx, file)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d frames for %s\n", frames, roomID)
	return nil
}
