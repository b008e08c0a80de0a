// Package text implements the Inverted-text specialized maintainer
// (spec §4.8): tokenize a field, emit (term, doc_id) postings, and
// maintain a per-term document frequency counter atomically so BM25
// scoring at query time needs no extra scan.
package text

import (
	"context"
	"strings"
	"unicode"

	"github.com/ixdb/ixdb/catalog"
	"github.com/ixdb/ixdb/directory"
	"github.com/ixdb/ixdb/errs"
	"github.com/ixdb/ixdb/kv"
	"github.com/ixdb/ixdb/model"
	"github.com/ixdb/ixdb/tuple"
)

// Maintainer implements Inverted-text over desc.Options["field"].
type Maintainer struct{}

// Tokenize lower-cases and splits on non-letter/non-digit runes,
// discarding empties. No stemming or stopword removal — those are
// analyzer-layer concerns spec §4.8 and the Non-goals leave to a future
// pluggable analyzer, not this maintainer.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.ToLower(f))
	}
	return out
}

func field(desc catalog.IndexDescriptor) (string, error) {
	f, _ := desc.Options["field"].(string)
	if f == "" {
		return "", errs.Newf(errs.KindInvalidQuery, "inverted-text index %q has no options.field", desc.Name)
	}
	return f, nil
}

func postingKey(sub directory.Subspace, desc catalog.IndexDescriptor, term string, idKey []byte) ([]byte, error) {
	prefix := sub.IndexPrefix(desc.Name)
	enc, err := tuple.Encode(nil, tuple.StringVal(term))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(prefix)+1+len(enc)+len(idKey))
	out = append(out, prefix...)
	out = append(out, 'P')
	out = append(out, enc...)
	return append(out, idKey...), nil
}

func docFreqKey(sub directory.Subspace, desc catalog.IndexDescriptor, term string) ([]byte, error) {
	prefix := sub.IndexPrefix(desc.Name)
	enc, err := tuple.Encode(nil, tuple.StringVal(term))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(prefix)+1+len(enc))
	out = append(out, prefix...)
	out = append(out, 'F')
	return append(out, enc...), nil
}

func be8(v int64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

func terms(vt *model.TypeVTable, f string, rec any) (map[string]bool, error) {
	if rec == nil {
		return nil, nil
	}
	v, present, err := vt.Get(rec, f)
	if err != nil || !present || v.Kind != tuple.KindString {
		return nil, err
	}
	set := make(map[string]bool)
	for _, term := range Tokenize(v.Str) {
		set[term] = true
	}
	return set, nil
}

func (m *Maintainer) Update(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, old, new any) error {
	f, err := field(desc)
	if err != nil {
		return err
	}
	oldTerms, err := terms(vt, f, old)
	if err != nil {
		return err
	}
	newTerms, err := terms(vt, f, new)
	if err != nil {
		return err
	}
	for term := range oldTerms {
		if newTerms[term] {
			continue
		}
		key, err := postingKey(sub, desc, term, idKey)
		if err != nil {
			return err
		}
		if err := tx.Clear(ctx, key); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "clearing stale posting")
		}
		fkey, err := docFreqKey(sub, desc, term)
		if err != nil {
			return err
		}
		if err := tx.AtomicOp(ctx, fkey, be8(-1), kv.OpAdd); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "decrementing document frequency")
		}
	}
	for term := range newTerms {
		if oldTerms[term] {
			continue
		}
		key, err := postingKey(sub, desc, term, idKey)
		if err != nil {
			return err
		}
		if err := tx.Set(ctx, key, nil); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "writing posting")
		}
		fkey, err := docFreqKey(sub, desc, term)
		if err != nil {
			return err
		}
		if err := tx.AtomicOp(ctx, fkey, be8(1), kv.OpAdd); err != nil {
			return errs.Wrap(errs.KindNonRetryableKV, err, "incrementing document frequency")
		}
	}
	return nil
}

func (m *Maintainer) ScanForBuild(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) error {
	return m.Update(ctx, tx, sub, desc, vt, idKey, nil, rec)
}

func (m *Maintainer) ExpectedKeys(sub directory.Subspace, desc catalog.IndexDescriptor, vt *model.TypeVTable, idKey []byte, rec any) ([][]byte, error) {
	f, err := field(desc)
	if err != nil {
		return nil, err
	}
	set, err := terms(vt, f, rec)
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	for term := range set {
		key, err := postingKey(sub, desc, term, idKey)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PostingIDs returns every document id posted under term.
func PostingIDs(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, term string) ([][]byte, error) {
	prefix := sub.IndexPrefix(desc.Name)
	enc, err := tuple.Encode(nil, tuple.StringVal(term))
	if err != nil {
		return nil, err
	}
	termPrefix := append(append(append([]byte{}, prefix...), 'P'), enc...)
	end := directory.RangeEnd(termPrefix)
	it, err := tx.GetRange(ctx, termPrefix, end, false, 0, false)
	if err != nil {
		return nil, errs.Wrap(errs.KindNonRetryableKV, err, "scanning postings")
	}
	defer it.Close()
	var ids [][]byte
	for {
		kvpair, ok, err := it.Next(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.KindNonRetryableKV, err, "reading posting")
		}
		if !ok {
			break
		}
		ids = append(ids, kvpair.Key[len(termPrefix):])
	}
	return ids, nil
}

// DocFrequency returns the number of documents currently posting term,
// the denominator BM25 scoring needs at query time.
func DocFrequency(ctx context.Context, tx kv.Tx, sub directory.Subspace, desc catalog.IndexDescriptor, term string) (int64, error) {
	key, err := docFreqKey(sub, desc, term)
	if err != nil {
		return 0, err
	}
	raw, err := tx.Get(ctx, key, false)
	if err != nil {
		return 0, errs.Wrap(errs.KindNonRetryableKV, err, "reading document frequency")
	}
	if raw == nil {
		return 0, nil
	}
	var v int64
	for _, b := range raw {
		v = v<<8 | int64(b)
	}
	return v, nil
}
