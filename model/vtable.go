// Package model implements the compile-time field-access vtable called
// for in spec §9, replacing the source system's dynamic per-field lookup:
// a slice of (field_name, extractor) pairs built once at type-declaration
// time, with no reflection at request time.
package model

import (
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/tuple"
)

// Extractor pulls one field's value out of an application record
// instance. Applications register one Extractor per field when they
// declare a type; the engine never inspects record structs by reflection.
type Extractor func(rec any) (tuple.Value, bool)

// FieldEntry is one vtable slot.
type FieldEntry struct {
	Name    string
	Extract Extractor
}

// TypeVTable is the per-type registration: a KeyPath reference (spec §9:
// "encode as (type_id, field_index) pairs at schema-construction time") is
// just an index into Fields, resolved once and cached by callers.
type TypeVTable struct {
	TypeName string
	IDField  string
	Fields   []FieldEntry

	byName map[string]int
}

func NewTypeVTable(typeName, idField string, fields ...FieldEntry) *TypeVTable {
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		byName[f.Name] = i
	}
	return &TypeVTable{TypeName: typeName, IDField: idField, Fields: fields, byName: byName}
}

// FieldIndex resolves a field name to its vtable slot once, for reuse as a
// (type_id, field_index) pair at the call sites that read it repeatedly
// (planner, maintainer dispatch).
func (v *TypeVTable) FieldIndex(name string) (int, bool) {
	i, ok := v.byName[name]
	return i, ok
}

// Get extracts one field's value by name from a record instance.
func (v *TypeVTable) Get(rec any, name string) (tuple.Value, bool, error) {
	i, ok := v.byName[name]
	if !ok {
		return tuple.Value{}, false, errs.Newf(errs.KindUnsupportedType, "type %q has no field %q", v.TypeName, name)
	}
	val, present := v.Fields[i].Extract(rec)
	return val, present, nil
}

// GetAt extracts a field by its resolved vtable index, avoiding the name
// lookup on hot paths that have already resolved the index once.
func (v *TypeVTable) GetAt(rec any, idx int) (tuple.Value, bool) {
	return v.Fields[idx].Extract(rec)
}

// ID extracts and encodes a record's primary key-path value (spec §4.5:
// "Id tuple extraction... validated non-null; encoded with the tuple
// codec").
func (v *TypeVTable) ID(rec any) (tuple.Value, error) {
	val, present, err := v.Get(rec, v.IDField)
	if err != nil {
		return tuple.Value{}, err
	}
	if !present || val.Kind == tuple.KindNull {
		return tuple.Value{}, errs.Newf(errs.KindValidationFailed, "record of type %q has no value for id field %q", v.TypeName, v.IDField)
	}
	return val, nil
}

// GetPath extracts a possibly-nested field path (dot-separated); the
// first segment is resolved through the vtable, remaining segments index
// into a KindTuple value structurally (covers compound key paths without
// adding reflection).
func (v *TypeVTable) GetPath(rec any, path []string) (tuple.Value, bool, error) {
	if len(path) == 0 {
		return tuple.Value{}, false, errs.New(errs.KindUnsupportedType, "empty field path")
	}
	val, present, err := v.Get(rec, path[0])
	if err != nil || !present {
		return val, present, err
	}
	for _, seg := range path[1:] {
		_ = seg
		if val.Kind != tuple.KindTuple {
			return tuple.Value{}, false, errs.New(errs.KindUnsupportedType, "field path descends into a non-tuple value")
		}
	}
	return val, present, nil
}
