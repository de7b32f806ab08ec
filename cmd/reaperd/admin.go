package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/eligibility"
	"github.com/assetvault/reaper/internal/logging"
	"github.com/assetvault/reaper/internal/objectstore"
	"github.com/assetvault/reaper/internal/objectstore/s3"
	"github.com/assetvault/reaper/internal/reaper"
)

type batchExecutor interface {
	Execute(ctx context.Context, typ reaper.Type, count int, deletedBy string, policy eligibility.Policy) (reaper.BatchOutcome, error)
}

type recordRestorer interface {
	Restore(ctx context.Context, id, actor string) error
}

func runReap(args []string) {
	fs := flag.NewFlagSet("reap", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	count := fs.Int("count", 0, fmt.Sprintf("Records to process (1-%d)", config.MaxBatch))
	actor := fs.String("as", "", "Actor recorded as deletedBy (default: reaper.deletedBy)")

	fs.Usage = func() {
		fmt.Println(`Usage: reaperd reap <soft|hard> --count N [options]

Run one persisted batch outside the schedule and print its outcome as JSON.
The pause sentinel is not consulted.

Options:`)
		fs.PrintDefaults()
	}

	if len(args) < 1 {
		fs.Usage()
		os.Exit(1)
	}
	typ, ok := reaper.ParseType(args[0])
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown reap type: %s\n", args[0])
		os.Exit(1)
	}
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	withService(*configPath, func(ctx context.Context, svc *Service) error {
		deletedBy := *actor
		if deletedBy == "" {
			deletedBy = svc.cfg.Reaper.DeletedBy
		}
		return reapOnce(ctx, svc.reaper, typ, *count, deletedBy, svc.policy, os.Stdout)
	})
}

// reapOnce validates count like the manual trigger API, runs one batch and
// writes the outcome to w.
func reapOnce(ctx context.Context, exec batchExecutor, typ reaper.Type, count int, deletedBy string, policy eligibility.Policy, w io.Writer) error {
	if count <= 0 || count > config.MaxBatch {
		return fmt.Errorf("--count must be between 1 and %d", config.MaxBatch)
	}
	outcome, err := exec.Execute(ctx, typ, count, deletedBy, policy)
	if outcome == nil {
		outcome = reaper.BatchOutcome{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(outcome); encErr != nil && err == nil {
		err = encErr
	}
	return err
}

func runPause(args []string, paused bool) {
	name := "resume"
	if paused {
		name = "pause"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	actor := fs.String("as", "", "Operator name written into the sentinel")

	fs.Usage = func() {
		fmt.Printf("Usage: reaperd %s [options]\n\n", name)
		if paused {
			fmt.Println("Create the pause sentinel. Scheduled ticks are skipped while it exists.\n\nOptions:")
		} else {
			fmt.Println("Delete the pause sentinel so scheduled ticks run again.\n\nOptions:")
		}
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	bucket := cfg.ObjectStore.PauseBucket
	if bucket == "" {
		bucket = cfg.ObjectStore.ImageBucket
	}
	store, err := s3.New(ctx, s3.Config{
		Bucket:          bucket,
		Region:          cfg.ObjectStore.Region,
		Endpoint:        cfg.ObjectStore.Endpoint,
		AccessKeyID:     cfg.ObjectStore.AccessKey,
		SecretAccessKey: cfg.ObjectStore.SecretKey,
		UsePathStyle:    cfg.ObjectStore.UsePathStyle,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open pause bucket: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	changed, err := setPaused(ctx, store, cfg.ObjectStore.PauseKey, *actor, paused, time.Now(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", name, err)
		os.Exit(1)
	}
	switch {
	case paused && changed:
		fmt.Println("reaper paused")
	case paused:
		fmt.Println("reaper already paused")
	case changed:
		fmt.Println("reaper resumed")
	default:
		fmt.Println("reaper was not paused")
	}
}

// setPaused creates or removes the pause sentinel and reports whether the
// state changed.
func setPaused(ctx context.Context, store objectstore.Store, key, actor string, paused bool, now time.Time, logger *logging.Logger) (bool, error) {
	gate := reaper.NewPauseGate(store, key, logger)
	exists, err := objectstore.Exists(ctx, store, gate.Key())
	if err != nil {
		return false, err
	}
	if exists == paused {
		return false, nil
	}
	if !paused {
		return true, store.Delete(ctx, gate.Key())
	}

	body, err := json.Marshal(map[string]string{
		"pausedBy": actor,
		"pausedAt": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}
	if err := store.Put(ctx, gate.Key(), strings.NewReader(string(body)), int64(len(body)), "application/json"); err != nil {
		return false, err
	}
	logger.Infof("pause sentinel created", map[string]any{"key": gate.Key(), "actor": actor})
	return true, nil
}

func runRestore(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	actor := fs.String("as", "", "Actor recorded in the ledger (default: reaper.deletedBy)")

	fs.Usage = func() {
		fmt.Println(`Usage: reaperd restore [options] <id>...

Clear the soft-delete mark of each record and record the reversal in the
status ledger. Hard-deleted records cannot be restored.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	withService(*configPath, func(ctx context.Context, svc *Service) error {
		by := *actor
		if by == "" {
			by = svc.cfg.Reaper.DeletedBy
		}
		return restoreRecords(ctx, svc.reaper, fs.Args(), by, os.Stdout)
	})
}

// restoreRecords restores every id, printing one line per id, and returns
// the joined failures.
func restoreRecords(ctx context.Context, r recordRestorer, ids []string, actor string, w io.Writer) error {
	var errs []error
	for _, id := range ids {
		err := r.Restore(ctx, id, actor)
		switch {
		case err == nil:
			fmt.Fprintf(w, "%s\trestored\n", id)
		case errors.Is(err, reaper.ErrNotSoftDeleted):
			fmt.Fprintf(w, "%s\tnot soft-deleted\n", id)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		default:
			fmt.Fprintf(w, "%s\tfailed: %v\n", id, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// withService opens the backends, builds a Service without its API and
// runs fn. The process exits non-zero when anything fails.
func withService(configPath string, fn func(ctx context.Context, svc *Service) error) {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.API.ListenAddr = ""

	ctx := context.Background()
	registry := newRegistry()
	backends, err := openBackends(ctx, cfg, registry, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open backends: %v\n", err)
		os.Exit(1)
	}

	svc, err := NewService(ServiceOptions{Config: cfg, Logger: logger, Backends: backends, Registry: registry, Version: version})
	if err == nil {
		err = fn(ctx, svc)
	}
	backends.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
