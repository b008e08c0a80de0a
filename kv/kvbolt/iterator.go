package kvbolt

import (
	"context"

	bolt "go.etcd.io/bbolt"

	"github.com/ixdb/ixdb/kv"
)

// cursorIterator adapts a bbolt cursor to kv.Iterator over [begin, end).
type cursorIterator struct {
	c          *bolt.Cursor
	beginBound []byte
	end        []byte
	reverse    bool
	limit      int
	yielded    int
	started    bool
	curKey     []byte
	curVal     []byte
}

func newCursorIterator(c *bolt.Cursor, begin, end []byte, reverse bool, limit int) *cursorIterator {
	it := &cursorIterator{c: c, end: end, reverse: reverse, limit: limit}
	if reverse {
		// end is exclusive upper bound; seek to it then step back once.
		if end != nil {
			k, v := c.Seek(end)
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
			it.curKey, it.curVal = k, v
		} else {
			it.curKey, it.curVal = c.Last()
		}
		it.started = true
		if it.curKey != nil && begin != nil && string(it.curKey) < string(begin) {
			it.curKey = nil
		}
	} else {
		it.curKey, it.curVal = c.Seek(begin)
		it.started = true
		if it.curKey != nil && end != nil && string(it.curKey) >= string(end) {
			it.curKey = nil
		}
	}
	it.beginBound = begin
	return it
}

func (it *cursorIterator) Next(ctx context.Context) (kv.KeyValue, bool, error) {
	if it.curKey == nil || (it.limit > 0 && it.yielded >= it.limit) {
		return kv.KeyValue{}, false, nil
	}
	k := make([]byte, len(it.curKey))
	copy(k, it.curKey)
	v := make([]byte, len(it.curVal))
	copy(v, it.curVal)
	it.yielded++

	if it.reverse {
		nk, nv := it.c.Prev()
		if nk != nil && it.beginBound != nil && string(nk) < string(it.beginBound) {
			nk = nil
		}
		it.curKey, it.curVal = nk, nv
	} else {
		nk, nv := it.c.Next()
		if nk != nil && it.end != nil && string(nk) >= string(it.end) {
			nk = nil
		}
		it.curKey, it.curVal = nk, nv
	}
	return kv.KeyValue{Key: k, Value: v}, true, nil
}

func (it *cursorIterator) Close() {}
