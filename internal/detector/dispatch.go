package detector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DispatchOptions tunes a dispatch round.
type DispatchOptions struct {
	Logger zerolog.Logger
	// Observe is called once per result as it lands, from the dispatching goroutines.
	Observe func(Result)
}

// Dispatch runs every registered detector that supports the target's kind concurrently,
// each under its own timeout, and waits until all have completed or timed out.
// Unsupported detectors are recorded as skipped without being invoked.
// The returned slice is in registry order and always has one result per entry.
func Dispatch(ctx context.Context, reg *Registry, target Target, opts DispatchOptions) Results {
	entries := reg.Entries()
	results := make(Results, len(entries))
	kind := target.Artifact.Kind()

	var wg sync.WaitGroup
	for i, entry := range entries {
		if !entry.Detector.Supports(kind) {
			res := Skipped(entry.Detector.Name(), fmt.Sprintf("artifact kind %s not supported", kind))
			res = stamp(res, i, entry, 0)
			results[i] = res
			notify(opts, res)
			continue
		}

		wg.Add(1)
		go func(i int, entry Entry) {
			defer wg.Done()
			res := runOne(ctx, entry, target)
			res = stamp(res, i, entry, res.DurationMS)
			logResult(opts.Logger, res)
			results[i] = res
			notify(opts, res)
		}(i, entry)
	}
	wg.Wait()

	return results
}

// runOne never blocks past the entry's timeout: a detector that ignores its context
// keeps running in the background, and its late answer is discarded.
func runOne(ctx context.Context, entry Entry, target Target) Result {
	name := entry.Detector.Name()
	start := time.Now()

	dctx, cancel := context.WithTimeout(ctx, entry.Timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Failed(name, fmt.Errorf("detector panicked: %v", r))
			}
		}()
		done <- entry.Detector.Detect(dctx, target)
	}()

	var res Result
	select {
	case res = <-done:
	case <-dctx.Done():
		select {
		case res = <-done:
		default:
			res = Failed(name, dctx.Err())
		}
	}
	// A detector that gives up because its context ended reports an error; either
	// branch above can observe it, so the mapping happens here.
	if res.Status == StatusError && dctx.Err() != nil {
		if ctx.Err() != nil {
			res = ScanTimedOut(name, time.Since(start), ctx.Err())
		} else {
			res = TimedOut(name, entry.Timeout, dctx.Err())
		}
	}

	res.DurationMS = time.Since(start).Milliseconds()
	return res
}

func stamp(res Result, position int, entry Entry, durationMS int64) Result {
	res.Source = entry.Detector.Name()
	res.Tier = entry.Detector.Tier()
	res.Position = position
	res.DurationMS = durationMS
	return res.Normalize()
}

func notify(opts DispatchOptions, res Result) {
	if opts.Observe != nil {
		opts.Observe(res)
	}
}

func logResult(logger zerolog.Logger, res Result) {
	switch res.Status {
	case StatusOK:
		logger.Debug().
			Str("detector", res.Source).
			Bool("flagged", res.Signal.Flagged()).
			Float64("confidence", res.Signal.Confidence).
			Int64("duration_ms", res.DurationMS).
			Msg("detector finished")
	case StatusSkipped:
		logger.Info().Str("detector", res.Source).Str("reason", res.Error).Msg("detector skipped")
	default:
		logger.Warn().
			Str("detector", res.Source).
			Str("status", string(res.Status)).
			Str("detail", res.Error).
			Int64("duration_ms", res.DurationMS).
			Msg("detector did not complete")
	}
}
