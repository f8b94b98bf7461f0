package testsupport

import (
	"context"
	"sync"

	"tenk/internal/vision"
)

// StubDetector returns a canned detection and records the data URLs it saw.
type StubDetector struct {
	Objects    []string
	Raw        string
	TokensUsed int
	Err        error
	// Started, when set, receives a value as each call begins.
	Started chan struct{}
	// Block, when set, holds each call until it is closed.
	Block chan struct{}

	mu    sync.Mutex
	calls []string
}

// Detect implements tracker.Detector.
func (d *StubDetector) Detect(ctx context.Context, dataURL string) (vision.Detection, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dataURL)
	d.mu.Unlock()

	if d.Started != nil {
		d.Started <- struct{}{}
	}
	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return vision.Detection{}, ctx.Err()
		}
	}

	detection := vision.Detection{
		Objects:    append([]string(nil), d.Objects...),
		Raw:        d.Raw,
		Model:      "stub",
		TokensUsed: d.TokensUsed,
	}
	if d.Err != nil {
		return detection, d.Err
	}
	if len(detection.Objects) == 0 {
		return detection, vision.ErrNoObjects
	}
	return detection, nil
}

// Calls reports how many detections were requested.
func (d *StubDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}
