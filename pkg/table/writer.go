package table

import (
	"fmt"
	"io"
	"os"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/clefourrier/datasets/pkg/errors"
	"github.com/clefourrier/datasets/pkg/logger"
	"github.com/clefourrier/datasets/pkg/schema"
)

// defaultBatchSize is the number of rows per record batch in written files.
const defaultBatchSize = 1000

// Write materializes rows into a new immutable Arrow IPC file at path and
// returns the loaded Table. Rows are validated against the declared
// features before writing.
func Write(path string, rows []Row, feats *schema.Features) (*Table, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot create table file %s", path))
	}

	if err := WriteTo(f, rows, feats); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot sync table file %s", path))
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, errors.Wrap(err, errors.ErrorTypeCacheWrite,
			fmt.Sprintf("cannot close table file %s", path))
	}

	logger.Get().Debug("wrote table",
		zap.String("path", path),
		zap.Int("rows", len(rows)))

	return Load(path)
}

// WriteTo streams rows as an Arrow IPC file into w. Used by Write and by
// the cache manager's temp-then-rename protocol.
func WriteTo(w io.Writer, rows []Row, feats *schema.Features) error {
	arrowSchema, err := feats.ToArrow()
	if err != nil {
		return err
	}

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(arrowSchema),
		ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite, "cannot create arrow writer")
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, arrowSchema)
	defer builder.Release()

	pending := 0
	flush := func() error {
		if pending == 0 {
			return nil
		}
		rec := builder.NewRecord()
		defer rec.Release()
		pending = 0
		if err := fw.Write(rec); err != nil {
			return errors.Wrap(err, errors.ErrorTypeCacheWrite, "cannot write record batch")
		}
		return nil
	}

	names := feats.Names()
	for _, row := range rows {
		if err := feats.Validate(row); err != nil {
			return err
		}
		for c, name := range names {
			ft, _ := feats.Get(name)
			if err := appendValue(builder.Field(c), row[name], ft); err != nil {
				return errors.Wrap(err, errors.ErrorTypeSchemaMismatch,
					fmt.Sprintf("column %q", name))
			}
		}
		pending++
		if pending >= defaultBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeCacheWrite, "cannot finalize arrow file")
	}
	return nil
}

// appendValue appends one cell to the column builder, coercing the loose
// numeric types JSON decoding produces.
func appendValue(b array.Builder, v interface{}, ft schema.FeatureType) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch builder := b.(type) {
	case *array.Int64Builder:
		// Class labels accept their string names
		if cl, ok := ft.(schema.ClassLabel); ok {
			if name, isString := v.(string); isString {
				idx, err := cl.Index(name)
				if err != nil {
					return err
				}
				builder.Append(idx)
				return nil
			}
		}
		n, ok := toInt64(v)
		if !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T is not an integer", v)
		}
		builder.Append(n)
	case *array.Float64Builder:
		f, ok := toFloat64(v)
		if !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T is not a float", v)
		}
		builder.Append(f)
	case *array.StringBuilder:
		s, ok := v.(string)
		if !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T is not a string", v)
		}
		builder.Append(s)
	case *array.BooleanBuilder:
		bv, ok := v.(bool)
		if !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T is not a bool", v)
		}
		builder.Append(bv)
	case *array.BinaryBuilder:
		switch bv := v.(type) {
		case []byte:
			builder.Append(bv)
		case string:
			builder.Append([]byte(bv))
		default:
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T is not binary", v)
		}
	case *array.ListBuilder:
		seq, ok := ft.(schema.Sequence)
		if !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "list column declared as %s", ft.Kind())
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T is not a list", v)
		}
		builder.Append(true)
		inner := builder.ValueBuilder()
		for i := 0; i < rv.Len(); i++ {
			if err := appendValue(inner, rv.Index(i).Interface(), seq.Inner); err != nil {
				return err
			}
		}
	default:
		return errors.Newf(errors.ErrorTypeSchemaMismatch, "unsupported builder type %T", b)
	}
	return nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
