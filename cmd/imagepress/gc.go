package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/imagepress/imagepress/remote"
)

var (
	// GC command flags (gcCmd is declared in main.go)
	gcDryRun  *bool
	gcForce   *bool
	gcVerbose *bool
	gcIDs     *string
)

func init() {
	gcDryRun = gcCmd.Bool("dry-run", false, "Show what would be deleted without deleting")
	gcForce = gcCmd.Bool("force", false, "Actually delete (required for non-dry-run)")
	gcVerbose = gcCmd.Bool("verbose", false, "Enable verbose logging")
	gcIDs = gcCmd.String("ids", "", "Comma-separated image IDs to delete (or pass them as arguments)")
}

// parseGCFlags parses flags for the gc command and collects the image IDs.
func parseGCFlags(cfg *Config, fs *flag.FlagSet, args []string) error {
	addGlobalFlags(cfg, fs)
	if err := parseWithConfig(cfg, fs, args); err != nil {
		return err
	}
	if !*gcDryRun && !*gcForce {
		return fmt.Errorf("%w: must specify either --dry-run or --force", errUsage)
	}
	if *gcDryRun && *gcForce {
		return fmt.Errorf("%w: cannot specify both --dry-run and --force", errUsage)
	}
	cfg.Files = nil
	return nil
}

// gcTargets returns the image IDs named on the command line.
func gcTargets(fs *flag.FlagSet) []string {
	return append(splitList(*gcIDs), fs.Args()...)
}

// janitor is the part of the backend client gc needs.
type janitor interface {
	Status(ctx context.Context, imageID string) (remote.Status, error)
	DeleteImage(ctx context.Context, imageID string) error
}

// runGC deletes images left on the backend by earlier runs.
func runGC(cfg Config) error {
	if err := setupLogger(cfg.LogLevel); err != nil {
		return err
	}
	log.SetOutput(os.Stderr)
	if *gcVerbose {
		log.SetLevel(logrus.DebugLevel)
	}
	logger := log.WithField("command", "gc")

	ids := gcTargets(gcCmd)
	if len(ids) == 0 {
		return fmt.Errorf("%w: no image IDs given (--ids or arguments)", errUsage)
	}

	if *gcDryRun {
		logger.Info("Running in DRY RUN mode - no changes will be made")
	} else {
		logger.Warn("Running in FORCE mode - images will be deleted from the backend")
	}

	client, err := remote.New(remote.Config{BaseURL: cfg.Backend})
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}
	client.SetLogger(log)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	result, err := collectGarbage(ctx, client, ids, *gcDryRun, log)
	if err != nil {
		return fmt.Errorf("garbage collection failed: %w", err)
	}

	logger.Info("=== Garbage Collection Summary ===")
	logger.WithFields(logrus.Fields{
		"total":   result.Total,
		"found":   result.FoundCount,
		"missing": result.MissingCount,
		"deleted": result.DeletedCount,
		"failed":  result.FailedCount,
	}).Info("Summary")

	if *gcDryRun {
		logger.Info("DRY RUN complete - no changes were made")
		logger.Info("Run with --force to delete the images listed above")
	}
	if result.FailedCount > 0 {
		return errFailures
	}
	return nil
}

// GCResult contains the results of a garbage collection run.
type GCResult struct {
	Total        int
	FoundCount   int
	MissingCount int
	DeletedCount int
	FailedCount  int

	// Failed maps image ID to the reason it could not be checked or deleted.
	Failed map[string]string
}

// collectGarbage checks each image on the backend and deletes the ones that
// exist unless dryRun is set. An image the backend no longer knows is
// counted as missing, not failed.
func collectGarbage(ctx context.Context, backend janitor, ids []string, dryRun bool, logger logrus.FieldLogger) (*GCResult, error) {
	result := &GCResult{Total: len(ids), Failed: map[string]string{}}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entry := logger.WithField("image_id", id)

		status, err := backend.Status(ctx, id)
		switch {
		case err == nil:
			result.FoundCount++
		case errors.Is(err, remote.ErrRejected), errors.Is(err, remote.ErrNotFound):
			result.MissingCount++
			entry.Debug("image not on backend, skipping")
			continue
		default:
			result.FailedCount++
			result.Failed[id] = remote.Reason(err)
			entry.WithError(err).Warn("status check failed")
			continue
		}

		if dryRun {
			entry.WithField("state", status.State).Info("would delete image")
			continue
		}
		if err := backend.DeleteImage(ctx, id); err != nil {
			result.FailedCount++
			result.Failed[id] = remote.Reason(err)
			entry.WithError(err).Error("failed to delete image")
			continue
		}
		result.DeletedCount++
		entry.WithField("state", status.State).Debug("image deleted")
	}

	return result, nil
}
