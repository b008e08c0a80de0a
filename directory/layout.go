package directory

// The sub-layout within a resolved subspace S (spec §3):
//
//	S/R/<TypeName>/<id...>                  record envelope
//	S/B/<blob-key>                          oversize-record chunk
//	S/I/<IndexName>/<value-tuple...>/<id...> index entry
//	S/_meta/...                             schema/index-state metadata
//	S/_catalog/<TypeName>                    JSON type catalog
//
// These helpers build the first-level key prefixes under S; callers
// append their own tuple-encoded suffix.

func (s Subspace) RecordPrefix(typeName string) []byte {
	return s.Pack(append([]byte{'R', 0x00}, append([]byte(typeName), 0x00)...))
}

func (s Subspace) BlobPrefix() []byte {
	return s.Pack([]byte{'B', 0x00})
}

func (s Subspace) IndexPrefix(indexName string) []byte {
	return s.Pack(append([]byte{'I', 0x00}, append([]byte(indexName), 0x00)...))
}

func (s Subspace) MetaPrefix() []byte {
	return s.Pack([]byte("_meta\x00"))
}

func (s Subspace) CatalogKey(typeName string) []byte {
	return s.Pack(append([]byte("_catalog\x00"), []byte(typeName)...))
}

// RangeEnd returns the exclusive upper bound of the byte range with prefix
// p (standard "increment last byte, dropping trailing 0xff" trick).
func RangeEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff bytes; range is unbounded above
}
