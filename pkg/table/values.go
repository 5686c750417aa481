package table

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// valueAt decodes a single cell from an arrow array into a plain Go value.
func valueAt(col arrow.Array, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}

	switch arr := col.(type) {
	case *array.Int64:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Boolean:
		return arr.Value(i)
	case *array.Binary:
		// Copy out: the backing buffer belongs to the mapping
		v := arr.Value(i)
		out := make([]byte, len(v))
		copy(out, v)
		return out
	case *array.List:
		start, end := arr.ValueOffsets(i)
		values := arr.ListValues()
		out := make([]interface{}, 0, end-start)
		for j := start; j < end; j++ {
			out = append(out, valueAt(values, int(j)))
		}
		return out
	default:
		return nil
	}
}
