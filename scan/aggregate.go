package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrMainFrameScan is returned when the main frame's scan fails. No usable
// tree can be produced without it, so aggregation aborts.
var ErrMainFrameScan = errors.New("scan: main frame scan failed")

// BlankURL is the sentinel URL of an intentionally empty page. Frames at
// this URL short-circuit to a trivial one-element result without invoking
// the Scanner.
const BlankURL = "about:blank"

// Aggregator invokes the Scanner once per relevant frame and assigns each
// frame a disjoint range of global highlight indexes. Frame scans run
// sequentially: each frame's index allocation depends on the running
// total from all previously scanned frames in the same pass.
type Aggregator struct {
	scanner Scanner
	logger  *slog.Logger
}

// NewAggregator creates an Aggregator over the given Scanner.
func NewAggregator(scanner Scanner, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{scanner: scanner, logger: logger}
}

// Collect scans the given frame hierarchy (main frame first) and returns
// one FrameScanResult per usable frame, in input order.
//
// A frame is skipped when its URL was already covered in this pass
// (either scanned directly or reported as embedded content by an earlier
// frame), when it is not currently visible, or when its URL belongs to a
// known ad/tracking origin. A failed child-frame scan is logged and
// dropped; a failed main-frame scan is fatal.
func (a *Aggregator) Collect(ctx context.Context, frames []Frame) ([]FrameScanResult, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrMainFrameScan)
	}

	seen := make(map[string]bool, len(frames))
	results := make([]FrameScanResult, 0, len(frames))
	offset := 0

	for i, frame := range frames {
		main := i == 0

		if !main {
			if seen[frame.URL] {
				a.logger.Debug("scan: frame already covered, skipping",
					"url", frame.URL)
				continue
			}
			if !frame.Visible {
				a.logger.Debug("scan: frame not visible, skipping",
					"url", frame.URL)
				continue
			}
			if BlockedOrigin(frame.URL) {
				a.logger.Debug("scan: blocked origin, skipping",
					"url", frame.URL)
				continue
			}
		}

		var res *Result
		var err error
		if frame.URL == BlankURL || frame.URL == "" {
			res = blankResult()
		} else {
			start := time.Now()
			res, err = a.scanner.Scan(ctx, frame, offset)
			if err != nil {
				if main {
					return nil, fmt.Errorf("%w: %s: %v", ErrMainFrameScan, frame.URL, err)
				}
				a.logger.Warn("scan: frame scan failed, dropping",
					"url", frame.URL, "error", err)
				continue
			}
			if res == nil || len(res.Map) == 0 || res.RootID == "" {
				if main {
					return nil, fmt.Errorf("%w: %s: empty result", ErrMainFrameScan, frame.URL)
				}
				a.logger.Warn("scan: frame returned unusable data, dropping",
					"url", frame.URL)
				continue
			}
			if res.PerfMetrics == nil {
				res.PerfMetrics = make(map[string]any, 2)
			}
			res.PerfMetrics["scanMs"] = time.Since(start).Milliseconds()
			res.PerfMetrics["initialIndex"] = offset
		}

		seen[frame.URL] = true
		for _, u := range res.EmbeddedFrames {
			seen[u] = true
		}

		results = append(results, FrameScanResult{
			Frame:       frame,
			Result:      res,
			IndexOffset: offset,
		})
		offset += res.IndexedCount()
	}

	return results, nil
}

// blankResult is the trivial result for the blank sentinel page: a single
// empty body element, no interactive content.
func blankResult() *Result {
	return &Result{
		Map: map[string]RawNode{
			"blank-0": {
				Type:      NodeElement,
				TagName:   "body",
				XPath:     "/html/body",
				IsVisible: true,
			},
		},
		RootID: "blank-0",
	}
}
