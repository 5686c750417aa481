// Package schema defines the feature schema for datasets: named, typed
// columns including class labels and nested sequence types, with conversion
// to and from Arrow schemas and per-row validation.
package schema

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/clefourrier/datasets/pkg/errors"
)

// DType is the scalar data type of a value feature.
type DType string

const (
	DTypeInt64   DType = "int64"
	DTypeFloat64 DType = "float64"
	DTypeString  DType = "string"
	DTypeBool    DType = "bool"
	DTypeBinary  DType = "binary"
)

// FeatureType describes the semantic type of a single column.
type FeatureType interface {
	// Kind returns the feature kind ("value", "class_label", "sequence")
	Kind() string
	// ArrowType returns the physical arrow type backing the feature
	ArrowType() (arrow.DataType, error)
	// ValidateValue checks that a decoded value conforms to the feature
	ValidateValue(v interface{}) error
}

// Value is a plain scalar feature.
type Value struct {
	DType DType `json:"dtype"`
}

// Kind implements FeatureType
func (v Value) Kind() string { return "value" }

// ArrowType implements FeatureType
func (v Value) ArrowType() (arrow.DataType, error) {
	switch v.DType {
	case DTypeInt64:
		return arrow.PrimitiveTypes.Int64, nil
	case DTypeFloat64:
		return arrow.PrimitiveTypes.Float64, nil
	case DTypeString:
		return arrow.BinaryTypes.String, nil
	case DTypeBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case DTypeBinary:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown dtype %q", v.DType)
	}
}

// ValidateValue implements FeatureType
func (v Value) ValidateValue(val interface{}) error {
	if val == nil {
		return nil
	}
	switch v.DType {
	case DTypeInt64:
		switch val.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return nil
		case float64:
			// JSON decoding yields float64 for all numbers
			return nil
		}
	case DTypeFloat64:
		switch val.(type) {
		case float32, float64, int, int64:
			return nil
		}
	case DTypeString:
		if _, ok := val.(string); ok {
			return nil
		}
	case DTypeBool:
		if _, ok := val.(bool); ok {
			return nil
		}
	case DTypeBinary:
		switch val.(type) {
		case []byte, string:
			return nil
		}
	}
	return errors.Newf(errors.ErrorTypeSchemaMismatch, "value %T does not conform to dtype %s", val, v.DType)
}

// ClassLabel is an integer feature whose values index into a fixed name set.
type ClassLabel struct {
	Names []string `json:"names"`
}

// Kind implements FeatureType
func (c ClassLabel) Kind() string { return "class_label" }

// ArrowType implements FeatureType
func (c ClassLabel) ArrowType() (arrow.DataType, error) {
	return arrow.PrimitiveTypes.Int64, nil
}

// ValidateValue implements FeatureType
func (c ClassLabel) ValidateValue(val interface{}) error {
	if val == nil {
		return nil
	}
	var idx int64
	switch v := val.(type) {
	case int:
		idx = int64(v)
	case int64:
		idx = v
	case float64:
		idx = int64(v)
	case string:
		// Label names are accepted on input and mapped to their index
		if _, err := c.Index(v); err != nil {
			return err
		}
		return nil
	default:
		return errors.Newf(errors.ErrorTypeSchemaMismatch, "class label value %T is not an integer or name", val)
	}
	if idx < -1 || idx >= int64(len(c.Names)) {
		return errors.Newf(errors.ErrorTypeSchemaMismatch, "class label index %d out of range [0, %d)", idx, len(c.Names))
	}
	return nil
}

// Index returns the integer index of a label name.
func (c ClassLabel) Index(name string) (int64, error) {
	for i, n := range c.Names {
		if n == name {
			return int64(i), nil
		}
	}
	return -1, errors.Newf(errors.ErrorTypeSchemaMismatch, "unknown class label %q", name)
}

// Sequence is a variable-length list of an inner feature type.
type Sequence struct {
	Inner FeatureType `json:"feature"`
}

// Kind implements FeatureType
func (s Sequence) Kind() string { return "sequence" }

// ArrowType implements FeatureType
func (s Sequence) ArrowType() (arrow.DataType, error) {
	inner, err := s.Inner.ArrowType()
	if err != nil {
		return nil, err
	}
	return arrow.ListOf(inner), nil
}

// ValidateValue implements FeatureType
func (s Sequence) ValidateValue(val interface{}) error {
	if val == nil {
		return nil
	}
	items, ok := val.([]interface{})
	if !ok {
		return errors.Newf(errors.ErrorTypeSchemaMismatch, "sequence value %T is not a list", val)
	}
	for _, item := range items {
		if err := s.Inner.ValidateValue(item); err != nil {
			return err
		}
	}
	return nil
}

// Features is an ordered mapping of column name to feature type.
type Features struct {
	names []string
	types map[string]FeatureType
}

// NewFeatures creates a Features set with the given column order.
func NewFeatures() *Features {
	return &Features{types: make(map[string]FeatureType)}
}

// Add appends a named feature, replacing any existing feature of the same name.
func (f *Features) Add(name string, ft FeatureType) *Features {
	if _, exists := f.types[name]; !exists {
		f.names = append(f.names, name)
	}
	f.types[name] = ft
	return f
}

// Names returns the column names in declaration order.
func (f *Features) Names() []string {
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Get returns the feature type for a column.
func (f *Features) Get(name string) (FeatureType, bool) {
	ft, ok := f.types[name]
	return ft, ok
}

// Len returns the number of columns.
func (f *Features) Len() int {
	return len(f.names)
}

// Select returns a new Features restricted to the given columns, in the
// given order.
func (f *Features) Select(names []string) (*Features, error) {
	out := NewFeatures()
	for _, name := range names {
		ft, ok := f.types[name]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeValidation, "column %q not in features", name)
		}
		out.Add(name, ft)
	}
	return out, nil
}

// Rename returns a new Features with one column renamed, preserving order.
func (f *Features) Rename(oldName, newName string) (*Features, error) {
	if _, ok := f.types[oldName]; !ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "column %q not in features", oldName)
	}
	if _, ok := f.types[newName]; ok {
		return nil, errors.Newf(errors.ErrorTypeValidation, "column %q already exists", newName)
	}
	out := NewFeatures()
	for _, name := range f.names {
		if name == oldName {
			out.Add(newName, f.types[name])
		} else {
			out.Add(name, f.types[name])
		}
	}
	return out, nil
}

// ToArrow converts the features into an Arrow schema, preserving column order.
func (f *Features) ToArrow() (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(f.names))
	for _, name := range f.names {
		dt, err := f.types[name].ArrowType()
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: true})
	}
	return arrow.NewSchema(fields, nil), nil
}

// FromArrow reconstructs Features from an Arrow schema. Class labels are
// not recoverable from the physical type alone and come back as int64 values.
func FromArrow(s *arrow.Schema) (*Features, error) {
	out := NewFeatures()
	for _, field := range s.Fields() {
		ft, err := featureFromArrowType(field.Type)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchemaMismatch,
				fmt.Sprintf("unsupported arrow type for column %q", field.Name))
		}
		out.Add(field.Name, ft)
	}
	return out, nil
}

func featureFromArrowType(dt arrow.DataType) (FeatureType, error) {
	switch t := dt.(type) {
	case *arrow.Int64Type:
		return Value{DType: DTypeInt64}, nil
	case *arrow.Float64Type:
		return Value{DType: DTypeFloat64}, nil
	case *arrow.StringType:
		return Value{DType: DTypeString}, nil
	case *arrow.BooleanType:
		return Value{DType: DTypeBool}, nil
	case *arrow.BinaryType:
		return Value{DType: DTypeBinary}, nil
	case *arrow.ListType:
		inner, err := featureFromArrowType(t.Elem())
		if err != nil {
			return nil, err
		}
		return Sequence{Inner: inner}, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeSchemaMismatch, "arrow type %s has no feature mapping", dt)
	}
}

// Validate checks a decoded row against the features. Extra columns are
// rejected; missing columns are treated as nulls.
func (f *Features) Validate(row map[string]interface{}) error {
	for name, val := range row {
		ft, ok := f.types[name]
		if !ok {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "row has unexpected column %q", name)
		}
		if err := ft.ValidateValue(val); err != nil {
			return errors.Wrap(err, errors.ErrorTypeSchemaMismatch,
				fmt.Sprintf("column %q", name))
		}
	}
	return nil
}

// Equal reports whether two feature sets declare the same columns and types
// in the same order.
func (f *Features) Equal(other *Features) bool {
	if other == nil || len(f.names) != len(other.names) {
		return false
	}
	for i, name := range f.names {
		if other.names[i] != name {
			return false
		}
		a, _ := f.types[name].ArrowType()
		b, _ := other.types[name].ArrowType()
		if a == nil || b == nil || !arrow.TypeEqual(a, b) {
			return false
		}
	}
	return true
}

// CanonicalArgs renders the features as a deterministic structure suitable
// for fingerprint hashing. Column declaration order is part of the schema
// identity, mirroring Equal.
func (f *Features) CanonicalArgs() []string {
	out := make([]string, 0, len(f.names))
	for _, name := range f.names {
		out = append(out, name+"="+canonicalFeature(f.types[name]))
	}
	return out
}

func canonicalFeature(ft FeatureType) string {
	switch t := ft.(type) {
	case Value:
		return "value:" + string(t.DType)
	case ClassLabel:
		// Label order is meaningful (it defines the index mapping), so the
		// canonical form keeps declaration order.
		joined := "class_label:"
		for _, n := range t.Names {
			joined += n + ","
		}
		return joined
	case Sequence:
		return "sequence:" + canonicalFeature(t.Inner)
	default:
		return "unknown:" + ft.Kind()
	}
}
