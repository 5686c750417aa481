package fingerprint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/clefourrier/datasets/pkg/errors"
)

// Tagged-variant encoding. Every value is prefixed with a single type tag
// and, where variable-length, a big-endian 64-bit length. Maps are emitted
// with keys sorted so the encoding is order-independent.
const (
	tagNil    = 'n'
	tagBool   = 'b'
	tagInt    = 'i'
	tagFloat  = 'f'
	tagString = 's'
	tagBytes  = 'y'
	tagSeq    = 'l'
	tagMap    = 'm'
)

// Canonicalize reduces transform arguments to a deterministic byte
// representation. Supported value kinds: nil, booleans, all integer widths
// (normalized to int64), floats (normalized to float64 bits), strings,
// byte slices, ordered sequences of supported values, and maps with string
// keys (emitted key-sorted). Anything else fails with a fingerprint error.
func Canonicalize(args map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	if v == nil {
		buf.WriteByte(tagNil)
		return nil
	}

	switch val := v.(type) {
	case bool:
		buf.WriteByte(tagBool)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		return nil
	case int:
		return encodeInt(buf, int64(val))
	case int8:
		return encodeInt(buf, int64(val))
	case int16:
		return encodeInt(buf, int64(val))
	case int32:
		return encodeInt(buf, int64(val))
	case int64:
		return encodeInt(buf, val)
	case uint:
		return encodeUint(buf, uint64(val))
	case uint8:
		return encodeInt(buf, int64(val))
	case uint16:
		return encodeInt(buf, int64(val))
	case uint32:
		return encodeInt(buf, int64(val))
	case uint64:
		return encodeUint(buf, val)
	case float32:
		return encodeFloat(buf, float64(val))
	case float64:
		return encodeFloat(buf, val)
	case string:
		buf.WriteByte(tagString)
		writeLen(buf, len(val))
		buf.WriteString(val)
		return nil
	case []byte:
		buf.WriteByte(tagBytes)
		writeLen(buf, len(val))
		buf.Write(val)
		return nil
	case Fingerprint:
		buf.WriteByte(tagString)
		writeLen(buf, len(val))
		buf.WriteString(string(val))
		return nil
	}

	// Fall back to reflection for typed slices and string-keyed maps
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		buf.WriteByte(tagSeq)
		writeLen(buf, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(buf, rv.Index(i).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return errors.Newf(errors.ErrorTypeFingerprint,
				"cannot canonicalize map with %s keys", rv.Type().Key().Kind())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)

		buf.WriteByte(tagMap)
		writeLen(buf, len(keys))
		for _, k := range keys {
			buf.WriteByte(tagString)
			writeLen(buf, len(k))
			buf.WriteString(k)
			if err := encodeValue(buf, rv.MapIndex(reflect.ValueOf(k)).Interface()); err != nil {
				return err
			}
		}
		return nil
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			buf.WriteByte(tagNil)
			return nil
		}
		return encodeValue(buf, rv.Elem().Interface())
	}

	return errors.Newf(errors.ErrorTypeFingerprint,
		"cannot canonicalize value of type %T", v)
}

func encodeInt(buf *bytes.Buffer, v int64) error {
	buf.WriteByte(tagInt)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
	return nil
}

func encodeUint(buf *bytes.Buffer, v uint64) error {
	if v > math.MaxInt64 {
		return errors.New(errors.ErrorTypeFingerprint,
			fmt.Sprintf("uint value %d overflows the normalized integer range", v))
	}
	return encodeInt(buf, int64(v))
}

func encodeFloat(buf *bytes.Buffer, v float64) error {
	if math.IsNaN(v) {
		// All NaN payloads normalize to one canonical bit pattern
		v = math.NaN()
	}
	buf.WriteByte(tagFloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
	return nil
}

func writeLen(buf *bytes.Buffer, n int) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(n))
	buf.Write(b[:])
}
