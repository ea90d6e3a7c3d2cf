// Package detect defines the eye-detection collaborator boundary.
// The inference engine itself is external; the core only consumes
// results and merges them into the tree and registry.
package detect

import (
	"context"
	"time"
)

// Result is the outcome of running eye detection on a single image.
// Absence of a Result on a record means "not yet detected" - callers
// must never infer detection state from zero-valued fields.
type Result struct {
	IsOpen     bool
	Confidence float64 // in [0,1]
	Timestamp  time.Time
}

// Detector is the injected AI engine. Detect is called per image and
// may be invoked concurrently by the caller.
type Detector interface {
	Detect(ctx context.Context, imageBytes []byte) (Result, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, imageBytes []byte) (Result, error)

func (f Func) Detect(ctx context.Context, imageBytes []byte) (Result, error) {
	return f(ctx, imageBytes)
}
