package index

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

// OrderedMaintainer implements the Ordered and Unique-Ordered index kinds
// (spec §4.5): diff-based key emission plus, when Unique is set, a
// uniqueness probe before writing a new key.
type OrderedMaintainer struct {
	Unique bool
}

func (m *OrderedMaintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	oldValueTuple, oldPresent, err := keyPathValues(vt, desc, old)
	if err != nil {
		return err
	}
	newValueTuple, newPresent, err := keyPathValues(vt, desc, new)
	if err != nil {
		return err
	}

	// Diff-based emission (spec §4.5): clear old\new, set new\old, leave
	// keys present in both untouched. Since this maintainer's key space is
	// at most one value-tuple per record, the "sets" are singletons, but
	// the same diff shape generalizes to the multi-key maintainers below.
	if oldPresent && (!newPresent || string(oldValueTuple) != string(newValueTuple)) {
		if err := tx.Clear(ctx, indexEntryKey(sub, desc.Name, oldValueTuple, idKey)); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "clearing stale index entry")
		}
	}
	if newPresent && (!oldPresent || string(oldValueTuple) != string(newValueTuple)) {
		if desc.Unique || m.Unique {
			if err := m.checkUnique(ctx, tx, sub, desc, newValueTuple, idKey); err != nil {
				return err
			}
		}
		value, err := storedFieldsValue(vt, desc, new)
		if err != nil {
			return err
		}
		key := indexEntryKey(sub, desc.Name, newValueTuple, idKey)
		if err := tx.AddConflictRange(key, append(append([]byte{}, key...), 0x00), kv.ConflictWrite); err != nil {
			return err
		}
		if err := tx.Set(ctx, key, value); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "writing index entry")
		}
	}
	return nil
}

// checkUnique raises UniquenessViolation if the value-tuple prefix is
// already bound to a different id (spec §4.5: "a range probe with a read
// conflict; on concurrent duplicate inserts, exactly one transaction
// commits").
func (m *OrderedMaintainer) checkUnique(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, valueTuple, idKey []byte) error {
	prefix := append(sub.IndexPrefix(desc.Name), valueTuple...)
	end := directory.RangeEnd(prefix)
	if err := tx.AddConflictRange(prefix, end, kv.ConflictRead); err != nil {
		return err
	}
	it, err := tx.GetRange(ctx, prefix, end, false, 2, false)
	if err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "probing uniqueness")
	}
	defer it.Close()
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "scanning uniqueness probe")
		}
		if !ok {
			return nil
		}
		existingID := kvpair.Key[len(prefix):]
		if string(existingID) != string(idKey) {
			existing := string(existingID)
			if vals, derr := tuple.Decode(existingID); derr == nil && len(vals) == 1 && vals[0].Kind == tuple.KindString {
				existing = vals[0].Str
			}
			return errs.UniquenessViolation(firstKeyPath(desc), valueTuple, existing)
		}
	}
}

func firstKeyPath(desc catalog.IndexDescriptor) string {
	if len(desc.KeyPaths) == 0 {
		return desc.Name
	}
	return desc.KeyPaths[0]
}

func (m *OrderedMaintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *OrderedMaintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	valueTuple, present, err := keyPathValues(vt, desc, rec)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	return [][]byte{indexEntryKey(sub, desc.Name, valueTuple, idKey)}, nil
}

// diffKeySets computes old\new and new\old over sets of tuple-encoded
// keys (spec P5: idempotent diffs). It is unexported, so the maintainers
// in subpackages cannot call it; index/graph keeps its own copy.
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
