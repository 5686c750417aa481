// Package streaming implements the lazy shard iterator: a forward-only,
// possibly unbounded sequence of decoded records pulled on demand through
// an external fetch service. It bypasses the table store and the cache
// entirely; nothing is materialized.
//
// Iteration is resumable only through an explicitly persisted Cursor. The
// iterator itself holds no durable state: a fresh session starts at the
// first shard unless resume state is supplied.
package streaming

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/compression"
	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/fetch"
	"github.com/clefourrier/datasets/pkg/logger"
	"github.com/clefourrier/datasets/pkg/metrics"
	"github.com/clefourrier/datasets/pkg/schema"
	"github.com/clefourrier/datasets/pkg/table"
)

// Shard is a named partition of the logical dataset, the unit of streaming
// fetch. Payloads are JSON lines, optionally compressed.
type Shard struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
	// Codec overrides extension-based detection when set
	Codec compression.Algorithm `json:"codec,omitempty"`
}

func (s Shard) codec() compression.Algorithm {
	if s.Codec != "" {
		return s.Codec
	}
	return compression.FromPath(s.URI)
}

// Cursor is the externally persisted resume state: the shard position and
// the number of records already consumed within it. It round-trips through
// JSON.
type Cursor struct {
	ShardIndex int   `json:"shard_index"`
	Offset     int64 `json:"offset"`
}

// Options configures an iteration session.
type Options struct {
	// Fetcher resolves shard URIs; defaults to the local filesystem
	Fetcher fetch.Fetcher
	// Resume restarts iteration from persisted state
	Resume *Cursor
	// PrefetchDepth bounds the number of in-flight shard fetches
	// (0 disables prefetch: shards are fetched strictly on demand)
	PrefetchDepth int
	// FetchTimeout bounds each shard fetch; 0 means no timeout
	FetchTimeout time.Duration
	// Features, when set, validates each decoded record
	Features *schema.Features
	// DecodeBufferSize caps a single record line in bytes
	DecodeBufferSize int
}

// Iterator produces records from a shard list in order. It is not safe for
// concurrent use; wrap it if multiple consumers are needed.
type Iterator struct {
	shards []Shard
	opts   Options
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pending chan chan shardResult
	started bool

	// Consumption state
	current      []table.Row
	currentShard int
	offset       int64
	closeOnce    sync.Once
}

type shardResult struct {
	index int
	rows  []table.Row
	err   error
}

// Open starts an iteration session over shards. The session inherits
// cancellation from ctx; Close releases all in-flight fetches.
func Open(ctx context.Context, shards []Shard, opts Options) (*Iterator, error) {
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.NewLocalFetcher()
	}
	if opts.DecodeBufferSize <= 0 {
		opts.DecodeBufferSize = 1 << 20
	}
	if opts.PrefetchDepth < 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "prefetch depth must not be negative")
	}

	start := 0
	var offset int64
	if opts.Resume != nil {
		if opts.Resume.ShardIndex < 0 || opts.Resume.Offset < 0 {
			return nil, errors.New(errors.ErrorTypeValidation, "invalid resume state")
		}
		start = opts.Resume.ShardIndex
		offset = opts.Resume.Offset
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	it := &Iterator{
		shards:       shards,
		opts:         opts,
		log:          logger.With(zap.Int("shards", len(shards))),
		ctx:          sessionCtx,
		cancel:       cancel,
		currentShard: start - 1, // advance() moves to start
		offset:       offset,
	}

	it.startPrefetch(start)
	return it, nil
}

// startPrefetch launches the bounded fetch pipeline. The pending channel's
// capacity is the backpressure window: the dispatcher blocks once
// PrefetchDepth shards are in flight or undelivered, so a slow consumer
// never accumulates unbounded fetches.
func (it *Iterator) startPrefetch(start int) {
	depth := it.opts.PrefetchDepth
	if depth == 0 {
		depth = 1 // strictly on-demand, one shard at a time
	}
	it.pending = make(chan chan shardResult, depth-1)

	go func() {
		defer close(it.pending)
		for i := start; i < len(it.shards); i++ {
			slot := make(chan shardResult, 1)
			idx := i
			go func() {
				rows, err := it.fetchShard(idx)
				slot <- shardResult{index: idx, rows: rows, err: err}
			}()

			select {
			case it.pending <- slot:
			case <-it.ctx.Done():
				return
			}
		}
	}()
}

// fetchShard fetches and fully decodes one shard.
func (it *Iterator) fetchShard(idx int) ([]table.Row, error) {
	shard := it.shards[idx]
	timer := metrics.NewTimer()

	ctx := it.ctx
	if it.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, it.opts.FetchTimeout)
		defer cancel()
	}

	stream, err := it.opts.Fetcher.Fetch(ctx, shard.URI)
	if err != nil {
		metrics.ShardsFetched.WithLabelValues("fetch_error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeShard,
			"shard fetch failed").WithDetail("shard", shard.Name)
	}
	defer stream.Close()

	decompressed, err := compression.NewReader(shard.codec(), stream)
	if err != nil {
		metrics.ShardsFetched.WithLabelValues("decode_error").Inc()
		return nil, errors.Wrap(err, errors.ErrorTypeShard,
			"shard decompression failed").WithDetail("shard", shard.Name)
	}
	defer decompressed.Close()

	rows, err := it.decode(decompressed, shard)
	if err != nil {
		metrics.ShardsFetched.WithLabelValues("decode_error").Inc()
		return nil, err
	}

	metrics.ShardsFetched.WithLabelValues("success").Inc()
	timer.ObserveShardFetch()
	it.log.Debug("fetched shard",
		zap.String("shard", shard.Name),
		zap.Int("records", len(rows)))
	return rows, nil
}

// decode parses JSON-lines records, validating against the declared
// features when present. A malformed line is a decode failure, reported
// with the shard identifier and never silently skipped.
func (it *Iterator) decode(r io.Reader, shard Shard) ([]table.Row, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), it.opts.DecodeBufferSize)

	var rows []table.Row
	line := 0
	for scanner.Scan() {
		line++
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}

		var row table.Row
		if err := gojson.Unmarshal(data, &row); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeShard,
				fmt.Sprintf("malformed record at line %d", line)).WithDetail("shard", shard.Name)
		}
		if it.opts.Features != nil {
			if err := it.opts.Features.Validate(row); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeShard,
					fmt.Sprintf("schema violation at line %d", line)).WithDetail("shard", shard.Name)
			}
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeShard,
			"shard read failed").WithDetail("shard", shard.Name)
	}
	return rows, nil
}

// Next returns the next record, or io.EOF when the shard list is
// exhausted. A shard failure surfaces as a shard error carrying the shard
// name; the iterator does not skip failed shards.
func (it *Iterator) Next(ctx context.Context) (table.Row, error) {
	for it.current == nil || it.offset >= int64(len(it.current)) {
		if err := it.advance(ctx); err != nil {
			return nil, err
		}
	}

	row := it.current[it.offset]
	it.offset++
	metrics.RecordsStreamed.Inc()
	return row, nil
}

// advance pulls the next decoded shard from the prefetch pipeline.
func (it *Iterator) advance(ctx context.Context) error {
	// A resume offset beyond the shard's end is invalid
	if it.current != nil && it.offset > int64(len(it.current)) {
		return errors.Newf(errors.ErrorTypeValidation,
			"resume offset %d beyond shard end %d", it.offset, len(it.current))
	}

	select {
	case slot, ok := <-it.pending:
		if !ok {
			return io.EOF
		}
		select {
		case res := <-slot:
			if res.err != nil {
				return res.err
			}
			it.current = res.rows
			it.currentShard = res.index
			if res.index != it.firstShard() {
				it.offset = 0
			}
			return nil
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "iteration canceled")
		case <-it.ctx.Done():
			return errors.Wrap(it.ctx.Err(), errors.ErrorTypeTimeout, "iterator closed")
		}
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "iteration canceled")
	case <-it.ctx.Done():
		return errors.Wrap(it.ctx.Err(), errors.ErrorTypeTimeout, "iterator closed")
	}
}

func (it *Iterator) firstShard() int {
	if it.opts.Resume != nil {
		return it.opts.Resume.ShardIndex
	}
	return 0
}

// Cursor snapshots the current resume state: the shard being consumed and
// how many of its records have been yielded. Persist it externally and
// pass it back through Options.Resume to continue a session.
func (it *Iterator) Cursor() Cursor {
	shard := it.currentShard
	if shard < 0 {
		shard = it.firstShard()
	}
	return Cursor{ShardIndex: shard, Offset: it.offset}
}

// Close cancels all in-flight fetches and ends the session. Safe to call
// more than once.
func (it *Iterator) Close() error {
	it.closeOnce.Do(func() {
		it.cancel()
	})
	return nil
}
