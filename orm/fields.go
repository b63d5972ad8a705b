package orm

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/danthegoodman1/usedcars/utils"
	"github.com/mitchellh/mapstructure"
)

const tagName = "db"

var modelType = reflect.TypeOf(Model{})

// fieldMap maps each schema column to the struct field tagged with it.
type fieldMap struct {
	index map[string][]int
}

func newFieldMap(typ reflect.Type, schema *Schema) (fieldMap, error) {
	if typ.Kind() != reflect.Struct {
		return fieldMap{}, fmt.Errorf("%w: %s is not a struct", ErrInvalidSchema, typ)
	}
	fm := fieldMap{index: map[string][]int{}}
	embedsModel := false
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if f.Anonymous && f.Type == modelType {
			embedsModel = true
			continue
		}
		name := columnTag(f)
		if name == "" || name == "-" {
			continue
		}
		fm.index[name] = f.Index
	}
	if !embedsModel {
		return fieldMap{}, fmt.Errorf("%w: %s does not embed orm.Model", ErrInvalidSchema, typ)
	}
	for _, c := range schema.columns {
		if _, ok := fm.index[c]; !ok {
			return fieldMap{}, fmt.Errorf("%w: %s.%s on %s", ErrUnmappedColumn, schema.table, c, typ)
		}
	}
	return fm, nil
}

func columnTag(f reflect.StructField) string {
	return strings.SplitN(f.Tag.Get(tagName), ",", 2)[0]
}

// get returns the column's value with pointers dereferenced, nil for a nil pointer.
func (fm fieldMap) get(entity any, column string) any {
	v := reflect.ValueOf(entity).Elem().FieldByIndex(fm.index[column])
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

// isSet is false for nil pointers and zero values.
func (fm fieldMap) isSet(entity any, column string) bool {
	v := reflect.ValueOf(entity).Elem().FieldByIndex(fm.index[column])
	return !v.IsZero()
}

// decode writes values onto entity. Only the columns present in values are touched. weak
// decoding is used for data from outside the store, e.g. numbers as strings.
func (fm fieldMap) decode(entity any, values map[string]any, weak bool) error {
	cfg := &mapstructure.DecoderConfig{
		TagName:    tagName,
		ZeroFields: true,
		Result:     entity,
	}
	if weak {
		cfg.WeaklyTypedInput = true
		cfg.DecodeHook = mapstructure.StringToTimeHookFunc(time.RFC3339)
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return fmt.Errorf("error in mapstructure.NewDecoder: %w", err)
	}
	if err := dec.Decode(values); err != nil {
		return fmt.Errorf("error decoding into %T: %w", entity, err)
	}
	return nil
}

// externalLookup adapts a map or struct source into a column lookup. Struct fields match by
// db tag first, then by name ignoring case and underscores.
func externalLookup(source any) (func(column string) (any, bool), error) {
	if source == nil {
		return func(string) (any, bool) { return nil, false }, nil
	}
	if m, ok := source.(map[string]any); ok {
		return func(c string) (any, bool) {
			v, ok := m[c]
			return v, ok
		}, nil
	}

	v := reflect.ValueOf(source)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, fmt.Errorf("%w: nil %T", ErrUnsupportedSource, source)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedSource, source)
	}

	byTag := map[string]int{}
	byName := map[string]int{}
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.PkgPath != "" {
			continue
		}
		if tag := columnTag(f); tag != "" && tag != "-" {
			byTag[tag] = i
		}
		byName[utils.NormalizeName(f.Name)] = i
	}
	return func(c string) (any, bool) {
		i, ok := byTag[c]
		if !ok {
			if i, ok = byName[utils.NormalizeName(c)]; !ok {
				return nil, false
			}
		}
		fv := v.Field(i)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				return nil, true
			}
			fv = fv.Elem()
		}
		return fv.Interface(), true
	}, nil
}
