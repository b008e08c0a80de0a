// Package history implements the Version-history specialized maintainer
// (spec §4.8): every change appends a (versionstamp, id, payload) entry
// rather than overwriting in place, so a point-in-time read can fetch the
// newest entry at or before a target version.
package history

import (
	"context"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

// Maintainer implements Version-history: the payload captured at each
// version is the bytes-kind record field named by
// desc.Options["payload_field"]; a record without that field, or with a
// value of another kind there, records nothing. This maintainer only deals
// in raw payload bytes.
type Maintainer struct{}

func entryKey(sub directory.Subspace, desc catalog.IndexDescriptor, idKey []byte, stamp kv.Versionstamp) []byte {
	prefix := sub.IndexPrefix(desc.Name)
	out := make([]byte, 0, len(prefix)+len(idKey)+1+len(stamp))
	out = append(out, prefix...)
	out = append(out, idKey...)
	out = append(out, 0x00)
	return append(out, stamp[:]...)
}

func idPrefix(sub directory.Subspace, desc catalog.IndexDescriptor, idKey []byte) []byte {
	prefix := sub.IndexPrefix(desc.Name)
	out := make([]byte, 0, len(prefix)+len(idKey)+1)
	out = append(out, prefix...)
	out = append(out, idKey...)
	return append(out, 0x00)
}

// Append records one version of rec's payload. payload is caller-supplied
// (Update passes the payload_field value's bytes); Update never
// encodes a domain record itself, keeping this maintainer storage-format
// agnostic the way spec §4.8 describes it ("payload" is opaque).
func (m *Maintainer) Append(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, idKey, payload []byte) error {
	stamp := tx.NextVersionstamp()
	key := entryKey(sub, desc, idKey, stamp)
	if err := tx.Set(ctx, key, payload); err != nil {
		return errs.Wrap(errs.KindNonRetryableKV, err, "appending version-history entry")
	}
	return nil
}

// Update satisfies Maintainer by appending new's payload when present
// (old is not consulted: version-history never deletes prior entries,
// and a delete, new == nil, appends nothing, so the last recorded
// version stays the newest).
func (m *Maintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	payloadField, _ := desc.Options["payload_field"].(string)
	if payloadField == "" || new == nil {
		return nil
	}
	v, present, err := vt.Get(new, payloadField)
	if err != nil || !present || v.Kind != tuple.KindBytes {
		return nil
	}
	return m.Append(ctx, tx, sub, desc, idKey, v.Bytes)
}

func (m *Maintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *Maintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	// Each version is a distinct, never-overwritten entry; there is no
	// single "expected key" a verifier can compute without replaying the
	// full change history, so P2-style verification does not apply here.
	return nil, nil
}

// AsOf returns the newest payload recorded for idKey at or before target
// (spec §4.8: "newest entry ≤ target_version").
func AsOf(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, idKey []byte, target kv.Versionstamp) ([]byte, bool, error) {
	prefix := idPrefix(sub, desc, idKey)
	end := append(append([]byte{}, prefix...), target[:]...)
	// inclusive upper bound: append one more max byte so the target
	// version itself is included in the scan.
	end = append(end, 0xff)
	it, err := tx.GetRange(ctx, prefix, end, true, 1, false)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindNonRetryableKV, err, "scanning version history")
	}
	defer it.Close()
	kvpair, ok, err := it.Next(ctx)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindNonRetryableKV, err, "reading version-history entry")
	}
	if !ok {
		return nil, false, nil
	}
	return kvpair.Value, true, nil
}

// Versions returns every recorded version for idKey, oldest first.
func Versions(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, idKey []byte) ([][]byte, error) {
	prefix := idPrefix(sub, desc, idKey)
	end := directory.RangeEnd(prefix)
	it, err := tx.GetRange(ctx, prefix, end, false, 0, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "scanning version history")
	}
	defer it.Close()
	var out [][]byte
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "reading version-history entry")
		}
		if !ok {
			break
		}
		out = append(out, kvpair.Value)
	}
	return out, nil
}
