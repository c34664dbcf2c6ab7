package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FileResult pairs a source path with the outcome of its conversion.
type FileResult struct {
	Source string
	Report *Report
	Err    error
}

// ConvertAll converts every source with at most jobs running concurrently.
// Failures are isolated per file: one bad container does not cancel its
// siblings. Results are returned in source order. Context cancellation
// aborts runs that have not started and interrupts running ones.
func ConvertAll(ctx context.Context, sources []string, opts Options, jobs int) []FileResult {
	if jobs < 1 {
		jobs = 1
	}

	results := make([]FileResult, len(sources))
	eg := new(errgroup.Group)
	eg.SetLimit(jobs)
	for i, source := range sources {
		i, source := i, source
		eg.Go(func() error {
			fileOpts := opts
			fileOpts.Source = source
			report, err := Convert(ctx, fileOpts)
			results[i] = FileResult{Source: source, Report: report, Err: err}
			return nil
		})
	}
	eg.Wait()
	return results
}
