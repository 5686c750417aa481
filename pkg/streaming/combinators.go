package streaming

import (
	"context"
	"io"
	"math/rand"

	"github.com/clefourrier/datasets/pkg/table"
)

// Stream is the minimal record source contract shared by the iterator and
// its combinators, so they compose freely.
type Stream interface {
	Next(ctx context.Context) (table.Row, error)
	Close() error
}

// Take limits s to its first n records.
func Take(s Stream, n int64) Stream {
	return &takeStream{src: s, remaining: n}
}

type takeStream struct {
	src       Stream
	remaining int64
}

func (t *takeStream) Next(ctx context.Context) (table.Row, error) {
	if t.remaining <= 0 {
		return nil, io.EOF
	}
	row, err := t.src.Next(ctx)
	if err != nil {
		return nil, err
	}
	t.remaining--
	return row, nil
}

func (t *takeStream) Close() error { return t.src.Close() }

// Skip discards the first n records of s.
func Skip(s Stream, n int64) Stream {
	return &skipStream{src: s, toSkip: n}
}

type skipStream struct {
	src    Stream
	toSkip int64
}

func (sk *skipStream) Next(ctx context.Context) (table.Row, error) {
	for sk.toSkip > 0 {
		if _, err := sk.src.Next(ctx); err != nil {
			return nil, err
		}
		sk.toSkip--
	}
	return sk.src.Next(ctx)
}

func (sk *skipStream) Close() error { return sk.src.Close() }

// Shuffle approximates a random order with a fixed-size reservoir: each
// yield picks a random slot from a buffer of bufferSize records and
// refills it from the source. Records never move more than bufferSize
// positions, which is the standard streaming tradeoff against holding the
// whole dataset.
func Shuffle(s Stream, seed uint64, bufferSize int) Stream {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &shuffleStream{
		src:  s,
		rng:  rand.New(rand.NewSource(int64(seed))),
		size: bufferSize,
	}
}

type shuffleStream struct {
	src    Stream
	rng    *rand.Rand
	size   int
	buf    []table.Row
	filled bool
	done   bool
}

func (sh *shuffleStream) fill(ctx context.Context) error {
	for !sh.done && len(sh.buf) < sh.size {
		row, err := sh.src.Next(ctx)
		if err == io.EOF {
			sh.done = true
			return nil
		}
		if err != nil {
			return err
		}
		sh.buf = append(sh.buf, row)
	}
	return nil
}

func (sh *shuffleStream) Next(ctx context.Context) (table.Row, error) {
	if !sh.filled {
		if err := sh.fill(ctx); err != nil {
			return nil, err
		}
		sh.filled = true
	}
	if len(sh.buf) == 0 {
		return nil, io.EOF
	}

	i := sh.rng.Intn(len(sh.buf))
	row := sh.buf[i]

	// Replace the drawn slot from the source, shrinking only once the
	// source is exhausted
	if !sh.done {
		next, err := sh.src.Next(ctx)
		if err == io.EOF {
			sh.done = true
		} else if err != nil {
			return nil, err
		} else {
			sh.buf[i] = next
			return row, nil
		}
	}
	sh.buf[i] = sh.buf[len(sh.buf)-1]
	sh.buf = sh.buf[:len(sh.buf)-1]
	return row, nil
}

func (sh *shuffleStream) Close() error { return sh.src.Close() }
