package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calyptra/arbor/pkg/adapters/file"
	"github.com/calyptra/arbor/pkg/domain"
	"github.com/calyptra/arbor/pkg/ports"
)

// LogsOptions carries the flag surface of the logs command.
type LogsOptions struct {
	Path   string
	JSON   bool
	Follow bool
	Since  string // duration (10m) or RFC3339 timestamp
	Types  string // comma-separated event types
	Run    string
	Limit  int
}

// ShowLogs prints the persisted event log and, with Follow, keeps tailing
// new appends until interrupted.
func ShowLogs(opts LogsOptions) error {
	listOpts, err := listOptions(opts)
	if err != nil {
		return err
	}

	path := opts.Path
	if path == "" {
		path = file.DefaultLogPath
	}
	path = filepath.Clean(path)

	sigCtx := NewSignalContext(context.Background())
	defer sigCtx.Cancel()

	printer := newEventPrinter(os.Stdout, opts.JSON)

	store := file.NewStore(path)
	events, err := store.List(sigCtx, listOpts)
	if err != nil {
		return fmt.Errorf("failed to read event log: %w", err)
	}
	for _, e := range events {
		if matchRun(e, opts.Run) {
			printer.Print(e)
		}
	}

	if !opts.Follow {
		return nil
	}
	return followLog(sigCtx, path, listOpts.Filter, opts.Run, printer)
}

// matchRun applies the run filter. Run IDs live in event metadata, outside
// EventFilter's reach, so stores cannot apply this one.
func matchRun(e domain.Event, runID string) bool {
	return runID == "" || e.RunID() == runID
}

// listOptions converts the flags into a store query. Since accepts a
// relative duration first ("10m" = ten minutes ago) and falls back to an
// absolute RFC3339 timestamp.
func listOptions(opts LogsOptions) (ports.ListOptions, error) {
	var listOpts ports.ListOptions

	if opts.Since != "" {
		if d, err := time.ParseDuration(opts.Since); err == nil {
			listOpts.Since = time.Now().UTC().Add(-d)
		} else if ts, err := time.Parse(time.RFC3339, opts.Since); err == nil {
			listOpts.Since = ts
		} else {
			return listOpts, fmt.Errorf("invalid --since %q (want a duration or RFC3339 timestamp)", opts.Since)
		}
	}

	if opts.Limit < 0 {
		return listOpts, fmt.Errorf("invalid --limit %d", opts.Limit)
	}
	listOpts.Limit = opts.Limit

	if opts.Types != "" {
		for _, t := range strings.Split(opts.Types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				listOpts.Filter.Types = append(listOpts.Filter.Types, domain.EventType(t))
			}
		}
	}

	return listOpts, nil
}

// followLog blocks on fsnotify and decodes any lines appended past the
// current end of file. Watching the parent directory instead of the file
// itself survives the log not existing yet.
func followLog(ctx context.Context, path string, filter domain.EventFilter, runID string, printer *eventPrinter) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	var offset int64
	if info, err := os.Stat(path); err == nil {
		offset = info.Size()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			offset, err = drainLog(path, offset, filter, runID, printer)
			if err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// drainLog reads events appended past offset and returns the new offset.
func drainLog(path string, offset int64, filter domain.EventFilter, runID string, printer *eventPrinter) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if info.Size() < offset {
		// Truncated or replaced; start over from the top.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// A partial line stays unconsumed until the writer finishes it;
			// the next write event picks it up.
			return offset, nil
		}
		offset += int64(len(line))

		var evt domain.Event
		if jsonErr := json.Unmarshal(line, &evt); jsonErr != nil {
			// Same policy as the file store: malformed lines are skipped.
			continue
		}
		if filter.Match(evt) && matchRun(evt, runID) {
			printer.Print(evt)
		}
	}
}
