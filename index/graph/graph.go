// Package graph implements the Graph-adjacency specialized maintainer
// (spec §4.8): emits (from, label, to) triples, and optionally all six
// hexastore permutations, so traversal is fast from any bound prefix.
package graph

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

// Permutation names one of the six hexastore orderings of (from, label, to).
type Permutation string

const (
	PermSPO Permutation = "from_label_to"
	PermSOP Permutation = "from_to_label"
	PermPSO Permutation = "label_from_to"
	PermPOS Permutation = "label_to_from"
	PermOSP Permutation = "to_from_label"
	PermOPS Permutation = "to_label_from"
)

// AllPermutations is every hexastore ordering; desc.Options["permutations"]
// may instead supply a subset as a []string of these constant values.
var AllPermutations = []Permutation{PermSPO, PermSOP, PermPSO, PermPOS, PermOSP, PermOPS}

// Maintainer maintains a graph edge's presence under each configured
// hexastore permutation. A "from"/"label"/"to" record exposes its edge via
// desc.Options["from_field"], desc.Options["label_field"],
// desc.Options["to_field"] — unset label_field degenerates to a two-field
// (from, to) edge with label fixed to the empty string.
type Maintainer struct{}

func fields(desc catalog.IndexDescriptor) (from, label, to string, err error) {
	from, _ = desc.Options["from_field"].(string)
	to, _ = desc.Options["to_field"].(string)
	label, _ = desc.Options["label_field"].(string)
	if from == "" || to == "" {
		return "", "", "", errs.Newf(errs.KindInvalidQuery, "graph index %q requires options.from_field and options.to_field", desc.Name)
	}
	return from, label, to, nil
}

func permutations(desc catalog.IndexDescriptor) []Permutation {
	raw, ok := desc.Options["permutations"].([]string)
	if !ok || len(raw) == 0 {
		return []Permutation{PermSPO}
	}
	out := make([]Permutation, 0, len(raw))
	for _, p := range raw {
		out = append(out, Permutation(p))
	}
	return out
}

func order(perm Permutation, from, label, to tuple.Value) []tuple.Value {
	switch perm {
	case PermSPO:
		return []tuple.Value{from, label, to}
	case PermSOP:
		return []tuple.Value{from, to, label}
	case PermPSO:
		return []tuple.Value{label, from, to}
	case PermPOS:
		return []tuple.Value{label, to, from}
	case PermOSP:
		return []tuple.Value{to, from, label}
	case PermOPS:
		return []tuple.Value{to, label, from}
	default:
		return []tuple.Value{from, label, to}
	}
}

func edgeTuple(vt *model.TypeVTable, fromF, labelF, toF string, rec any) (from, label, to tuple.Value, present bool, err error) {
	if rec == nil {
		return tuple.Value{}, tuple.Value{}, tuple.Value{}, false, nil
	}
	from, ok, err := vt.Get(rec, fromF)
	if err != nil || !ok {
		return tuple.Value{}, tuple.Value{}, tuple.Value{}, false, err
	}
	to, ok, err = vt.Get(rec, toF)
	if err != nil || !ok {
		return tuple.Value{}, tuple.Value{}, tuple.Value{}, false, err
	}
	label = tuple.StringVal("")
	if labelF != "" {
		label, ok, err = vt.Get(rec, labelF)
		if err != nil {
			return tuple.Value{}, tuple.Value{}, tuple.Value{}, false, err
		}
		if !ok {
			label = tuple.StringVal("")
		}
	}
	return from, label, to, true, nil
}

func permKeys(sub directory.Subspace, desc catalog.IndexDescriptor, from, label, to tuple.Value, idKey []byte) ([][]byte, error) {
	prefix := sub.IndexPrefix(desc.Name)
	var out [][]byte
	for _, perm := range permutations(desc) {
		vals := order(perm, from, label, to)
		enc, err := tuple.Encode(nil, append([]tuple.Value{tuple.StringVal(string(perm))}, vals...)...)
		if err != nil {
			return nil, err
		}
		key := make([]byte, 0, len(prefix)+len(enc)+len(idKey))
		key = append(key, prefix...)
		key = append(key, enc...)
		key = append(key, idKey...)
		out = append(out, key)
	}
	return out, nil
}

func (m *Maintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	fromF, labelF, toF, err := fields(desc)
	if err != nil {
		return err
	}
	oldFrom, oldLabel, oldTo, oldPresent, err := edgeTuple(vt, fromF, labelF, toF, old)
	if err != nil {
		return err
	}
	newFrom, newLabel, newTo, newPresent, err := edgeTuple(vt, fromF, labelF, toF, new)
	if err != nil {
		return err
	}

	var oldKeys, newKeys [][]byte
	if oldPresent {
		if oldKeys, err = permKeys(sub, desc, oldFrom, oldLabel, oldTo, idKey); err != nil {
			return err
		}
	}
	if newPresent {
		if newKeys, err = permKeys(sub, desc, newFrom, newLabel, newTo, idKey); err != nil {
			return err
		}
	}

	toClear, toSet := diffKeySets(oldKeys, newKeys)
	for _, k := range toClear {
		if err := tx.Clear(ctx, k); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "clearing stale edge permutation")
		}
	}
	for _, k := range toSet {
		if err := tx.AddConflictRange(k, append(append([]byte{}, k...), 0x00), kv.ConflictWrite); err != nil {
			return err
		}
		if err := tx.Set(ctx, k, []byte{1}); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "writing edge permutation")
		}
	}
	return nil
}

func (m *Maintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *Maintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	fromF, labelF, toF, err := fields(desc)
	if err != nil {
		return nil, err
	}
	from, label, to, present, err := edgeTuple(vt, fromF, labelF, toF, rec)
	if err != nil || !present {
		return nil, err
	}
	return permKeys(sub, desc, from, label, to, idKey)
}

// diffKeySets computes old\new and new\old over sets of physical keys,
// the same shape as index.diffKeySets, reimplemented here since Maintainer
// implementations outside package index cannot reach its unexported helper.
func diffKeySets(oldKeys, newKeys [][]byte) (toClear, toSet [][]byte) {
	oldSet := mapset.NewThreadUnsafeSet[string]()
	for _, k := range oldKeys {
		oldSet.Add(string(k))
	}
	newSet := mapset.NewThreadUnsafeSet[string]()
	for _, k := range newKeys {
		newSet.Add(string(k))
	}
	for k := range oldSet.Difference(newSet).Iter() {
		toClear = append(toClear, []byte(k))
	}
	for k := range newSet.Difference(oldSet).Iter() {
		toSet = append(toSet, []byte(k))
	}
	return toClear, toSet
}
