package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dusk-indust/sourcelens/internal/lang"
)

// DefaultConcurrency is the ParseAll worker limit when none is configured.
var DefaultConcurrency = runtime.GOMAXPROCS(0)

// Source is one input to ParseAll. Name is only used for reporting.
type Source struct {
	Name     string
	Content  []byte
	Language lang.ID
}

// FileResult is the outcome for one Source. Exactly one of Result and Err
// is set.
type FileResult struct {
	Name   string
	Result *ParseResult
	Err    error
}

// ProgressStatus is the state of one source in a ParseAll run.
type ProgressStatus int

const (
	ProgressPending ProgressStatus = iota
	ProgressWorking
	ProgressComplete
	ProgressFailed
)

// ProgressEvent reports a status change of one source.
type ProgressEvent struct {
	Name    string
	Status  ProgressStatus
	Message string
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case ProgressPending:
		return fmt.Sprintf("  ○ %s (pending)", event.Name)
	case ProgressWorking:
		return fmt.Sprintf("  ● %s...", event.Name)
	case ProgressComplete:
		return fmt.Sprintf("  ✓ %s %s", event.Name, event.Message)
	case ProgressFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Name, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Name)
	}
}

// ParseAll parses every source with bounded concurrency. Results are in
// input order. A source that fails to parse records its error in its
// FileResult and does not stop the others; only cancellation of ctx
// aborts the run, in which case the error is returned alongside whatever
// results were produced.
func (e *Engine) ParseAll(ctx context.Context, sources []Source) ([]FileResult, error) {
	results := make([]FileResult, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, src := range sources {
		e.emit(ProgressEvent{Name: src.Name, Status: ProgressPending})
	}

	for i, src := range sources {
		g.Go(func() error {
			results[i].Name = src.Name
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			e.emit(ProgressEvent{Name: src.Name, Status: ProgressWorking})

			res, err := e.Parse(gctx, src.Content, src.Language)
			if err != nil {
				results[i].Err = err
				e.emit(ProgressEvent{Name: src.Name, Status: ProgressFailed, Message: err.Error()})
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return nil
			}

			results[i].Result = res
			msg := "ok"
			if !res.IsValid {
				msg = fmt.Sprintf("%d syntax errors", len(res.Errors))
			}
			e.emit(ProgressEvent{Name: src.Name, Status: ProgressComplete, Message: msg})
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

func (e *Engine) emit(ev ProgressEvent) {
	if e.onProgress != nil {
		e.onProgress(ev)
	}
}
