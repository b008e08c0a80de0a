// Package spatial implements the Spatial specialized maintainer (spec
// §4.8): computes the covering cells of a point at a configured set of
// grid levels and emits one (cell_id, id) posting per level per cell, so
// a bounding-box query can probe a single level's cell range instead of
// scanning every point.
//
// Cell ids are an in-repo interleaved-bit (Z-order/Morton) quantization of
// (lat, lon) into a fixed-width cell at each level — the same principle a
// geohash uses, reimplemented directly since no spatial-indexing library
// appears anywhere in the retrieval pack (see DESIGN.md).
package spatial

import (
	"context"
	"encoding/binary"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

// DefaultLevels covers a broad range of cell sizes absent
// desc.Options["levels"]. A level is the total number of interleaved bits
// in a cell id; each axis gets level/2 of them.
var DefaultLevels = []int{8, 16, 24}

func fields(desc catalog.IndexDescriptor) (lat, lon string, err error) {
	lat, _ = desc.Options["lat_field"].(string)
	lon, _ = desc.Options["lon_field"].(string)
	if lat == "" || lon == "" {
		return "", "", errs.Newf(errs.KindInvalidQuery, "spatial index %q requires options.lat_field and options.lon_field", desc.Name)
	}
	return lat, lon, nil
}

func levels(desc catalog.IndexDescriptor) []int {
	if raw, ok := desc.Options["levels"].([]int); ok && len(raw) > 0 {
		return raw
	}
	return DefaultLevels
}

// cellID quantizes (lat in [-90,90], lon in [-180,180]) into a single
// Morton-interleaved uint64 at the given bit depth per axis.
func cellID(lat, lon float64, bits int) uint64 {
	latQ := uint64((lat + 90) / 180 * float64(uint64(1)<<uint(bits)))
	lonQ := uint64((lon + 180) / 360 * float64(uint64(1)<<uint(bits)))
	var out uint64
	for i := 0; i < bits; i++ {
		out |= ((latQ >> uint(i)) & 1) << uint(2*i)
		out |= ((lonQ >> uint(i)) & 1) << uint(2*i+1)
	}
	return out
}

func point(vt *model.TypeVTable, latF, lonF string, rec any) (lat, lon float64, present bool, err error) {
	if rec == nil {
		return 0, 0, false, nil
	}
	latV, ok, err := vt.Get(rec, latF)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	lonV, ok, err := vt.Get(rec, lonF)
	if err != nil || !ok {
		return 0, 0, false, err
	}
	lat, err = numeric(latV)
	if err != nil {
		return 0, 0, false, err
	}
	lon, err = numeric(lonV)
	if err != nil {
		return 0, 0, false, err
	}
	return lat, lon, true, nil
}

func numeric(v tuple.Value) (float64, error) {
	switch v.Kind {
	case tuple.KindFloat:
		return v.Float, nil
	case tuple.KindInt:
		return float64(v.Int), nil
	default:
		return 0, errs.New(errs.KindUnsupportedType, "spatial coordinate field must be numeric")
	}
}

func cellKey(sub directory.Subspace, desc catalog.IndexDescriptor, level int, cell uint64, idKey []byte) []byte {
	prefix := sub.IndexPrefix(desc.Name)
	out := make([]byte, 0, len(prefix)+1+8+len(idKey))
	out = append(out, prefix...)
	out = append(out, byte(level))
	var cb [8]byte
	binary.BigEndian.PutUint64(cb[:], cell)
	out = append(out, cb[:]...)
	return append(out, idKey...)
}

func cellKeysFor(sub directory.Subspace, desc catalog.IndexDescriptor, lat, lon float64, idKey []byte) [][]byte {
	var keys [][]byte
	for _, lvl := range levels(desc) {
		bits := lvl / 2
		keys = append(keys, cellKey(sub, desc, lvl, cellID(lat, lon, bits), idKey))
	}
	return keys
}

// Maintainer implements the Spatial index kind over point fields named by
// desc.Options["lat_field"]/["lon_field"].
type Maintainer struct{}

func (m *Maintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	latF, lonF, err := fields(desc)
	if err != nil {
		return err
	}
	oldLat, oldLon, oldPresent, err := point(vt, latF, lonF, old)
	if err != nil {
		return err
	}
	newLat, newLon, newPresent, err := point(vt, latF, lonF, new)
	if err != nil {
		return err
	}
	if oldPresent {
		for _, k := range cellKeysFor(sub, desc, oldLat, oldLon, idKey) {
			if err := tx.Clear(ctx, k); err != nil {
				return errs.Wrap(errs.KindNonRetryableKV, err, "clearing stale spatial cell")
			}
		}
	}
	if newPresent {
		for _, k := range cellKeysFor(sub, desc, newLat, newLon, idKey) {
			if err := tx.Set(ctx, k, []byte{1}); err != nil {
				return errs.Wrap(errs.KindNonRetryableKV, err, "writing spatial cell")
			}
		}
	}
	return nil
}

func (m *Maintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *Maintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	latF, lonF, err := fields(desc)
	if err != nil {
		return nil, err
	}
	lat, lon, present, err := point(vt, latF, lonF, rec)
	if err != nil || !present {
		return nil, err
	}
	return cellKeysFor(sub, desc, lat, lon, idKey), nil
}

// QueryCell returns every id posted under the cell containing (lat, lon)
// at the given level, the single-cell probe a bounding-box plan narrows
// to before falling back to a post-filter on the exact region.
func QueryCell(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, level int, lat, lon float64) ([][]byte, error) {
	bits := level / 2
	cell := cellID(lat, lon, bits)
	prefix := append(sub.IndexPrefix(desc.Name), byte(level))
	var cb [8]byte
	binary.BigEndian.PutUint64(cb[:], cell)
	prefix = append(prefix, cb[:]...)
	end := directory.RangeEnd(prefix)
	it, err := tx.GetRange(ctx, prefix, end, false, 0, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "scanning spatial cell")
	}
	defer it.Close()
	var ids [][]byte
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "reading spatial posting")
		}
		if !ok {
			break
		}
		ids = append(ids, kvpair.Key[len(prefix):])
	}
	return ids, nil
}
