// Package embedding maps text to fixed-length vectors through a locally
// resident model loaded once per process.
package embedding

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable means the model could not be loaded. No ranking is
	// possible without it, so callers abort.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEncoding means one text could not be encoded. The text is skipped.
	ErrEncoding = errors.New("encoding failed")
)

// EncodingError reports which input of a batch failed to encode.
type EncodingError struct {
	Index int
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encode text %d: %v", e.Index, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Is makes every EncodingError match ErrEncoding.
func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }

// Encoder maps text to a vector of Dimension() values.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Name() string
}

// BatchEncoder encodes many texts in one call. Output order matches input order.
type BatchEncoder interface {
	Encoder
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// EncodeAll encodes texts in order. A text that fails to encode gets a nil
// vector and an *EncodingError in the returned slice. Only context
// cancellation and model loss abort the call.
func EncodeAll(ctx context.Context, enc Encoder, texts []string) ([][]float32, []*EncodingError, error) {
	if len(texts) == 0 {
		return nil, nil, nil
	}

	if be, ok := enc.(BatchEncoder); ok {
		vecs, err := be.EncodeBatch(ctx, texts)
		if err == nil && len(vecs) == len(texts) {
			return checkDims(enc, vecs)
		}
		if fatal(ctx, err) {
			return nil, nil, err
		}
		// Fall through to per-text calls to find the failing inputs.
	}

	vecs := make([][]float32, len(texts))
	var failures []*EncodingError
	for i, text := range texts {
		vec, err := enc.Encode(ctx, text)
		if err != nil {
			if fatal(ctx, err) {
				return nil, nil, err
			}
			failures = append(failures, &EncodingError{Index: i, Err: err})
			continue
		}
		vecs[i] = vec
	}

	out, dimFailures, _ := checkDims(enc, vecs)
	return out, append(failures, dimFailures...), nil
}

// checkDims drops vectors whose length does not match the encoder's dimension.
func checkDims(enc Encoder, vecs [][]float32) ([][]float32, []*EncodingError, error) {
	dim := enc.Dimension()
	var failures []*EncodingError
	for i, v := range vecs {
		if v == nil || dim <= 0 || len(v) == dim {
			continue
		}
		failures = append(failures, &EncodingError{
			Index: i,
			Err:   fmt.Errorf("dimension %d, want %d", len(v), dim),
		})
		vecs[i] = nil
	}
	return vecs, failures, nil
}

func fatal(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, ErrModelUnavailable) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// encodeBatch uses the encoder's batch path when it has one.
func encodeBatch(ctx context.Context, enc Encoder, texts []string) ([][]float32, error) {
	if be, ok := enc.(BatchEncoder); ok {
		return be.EncodeBatch(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := enc.Encode(ctx, text)
		if err != nil {
			return nil, &EncodingError{Index: i, Err: err}
		}
		vecs[i] = vec
	}
	return vecs, nil
}
