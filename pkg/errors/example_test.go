// Package errors provides examples of structured error handling in the
// dataset core.
package errors_test

import (
	"fmt"
	"io"

	"github.com/clefourrier/datasets/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeCorruptTable, "arrow footer does not match declared batches")

	err = err.WithDetail("path", "/cache/ab12cd.arrow").
		WithDetail("batches", 7)

	fmt.Println(err.Error())

	// Output:
	// corrupt_table: arrow footer does not match declared batches
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	originalErr := io.ErrUnexpectedEOF

	err := errors.Wrap(originalErr, errors.ErrorTypeShard, "failed to decode shard payload").
		WithDetail("shard", "train-00012").
		WithDetail("line", 42)

	if errors.IsType(err, errors.ErrorTypeShard) {
		fmt.Println("This is a shard error")
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Original error was unexpected EOF")
	}

	// Output:
	// This is a shard error
	// Original error was unexpected EOF
}

// ExampleIsRetryable shows how to check if an error is retryable.
func ExampleIsRetryable() {
	tempErr := errors.Wrap(
		errors.New(errors.ErrorTypeConnection, "connection reset"),
		errors.ErrorTypeShard, "shard fetch failed")
	fatalErr := errors.Wrap(
		errors.New(errors.ErrorTypeValidation, "malformed record"),
		errors.ErrorTypeShard, "shard decode failed")

	if errors.IsRetryable(tempErr) {
		fmt.Println("Transient fetch failure is retryable")
	}

	if !errors.IsRetryable(fatalErr) {
		fmt.Println("Decode failure is not retryable")
	}

	// Output:
	// Transient fetch failure is retryable
	// Decode failure is not retryable
}

// ExampleIsType demonstrates checking error types through wrapping.
func ExampleIsType() {
	fpErr := errors.New(errors.ErrorTypeFingerprint, "cannot canonicalize value of type func()")
	wrapped := errors.Wrap(fpErr, errors.ErrorTypeTransformCompute, "map transform failed")

	fmt.Printf("Is fingerprint error: %v\n", errors.IsType(fpErr, errors.ErrorTypeFingerprint))
	// IsType reports the outermost type of a wrapped chain
	fmt.Printf("Wrapped error is transform_compute: %v\n", errors.IsType(wrapped, errors.ErrorTypeTransformCompute))

	// Output:
	// Is fingerprint error: true
	// Wrapped error is transform_compute: true
}

// ExampleDetail shows how to recover details attached along the way.
func ExampleDetail() {
	err := errors.New(errors.ErrorTypeShard, "fetch returned status 503").
		WithDetail("shard", "validation-00001").
		WithDetail("attempt", 3)

	if shard, ok := errors.Detail(err, "shard"); ok {
		fmt.Printf("failed shard: %v\n", shard)
	}

	// Output:
	// failed shard: validation-00001
}
