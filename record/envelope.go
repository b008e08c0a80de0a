// Package record implements the record envelope (spec C3): every stored
// record is framed with a 4-byte magic, optionally compressed, and
// chunked into blob entries when it exceeds the KV store's per-value
// limit.
package record

import (
	"encoding/binary"

	"github.com/c2h5oh/datasize"
	"github.com/klauspost/compress/s2"

	"github.com/ixdb/ixdb/errs"
)

var magic = [4]byte{'I', 'T', 'E', 'M'}

const (
	flagCompressed byte = 1 << 0
	flagChunked    byte = 1 << 1
)

// CompressionThreshold is the minimum serialized payload size at which a
// compression pass is attempted (spec §4.3: "exceeds 256 bytes").
const CompressionThreshold = 256 * datasize.B

// ChunkThreshold is the KV store's approximate per-value limit beyond
// which a record's (possibly compressed) payload must be chunked into
// blob entries (spec §4.3: "~90 KB").
const ChunkThreshold = 90 * datasize.KB

// ChunkSize is the size of each blob chunk written under S/B/<blob-key>/<seq>.
const ChunkSize = 80 * datasize.KB

// Manifest records where an oversize record's chunks live, in order.
type Manifest struct {
	ChunkKeys [][]byte
}

// ChunkWriter persists one chunk under a blob key, returning the physical
// key it was written to (so it can be recorded in the manifest).
type ChunkWriter interface {
	WriteChunk(seq int, data []byte) (key []byte, err error)
}

// ChunkReader fetches a previously written chunk by key.
type ChunkReader interface {
	ReadChunk(key []byte) ([]byte, error)
}

// ChunkDeleter clears a previously written chunk by key.
type ChunkDeleter interface {
	DeleteChunk(key []byte) error
}

// Encode frames payload (the caller's already-serialized record bytes,
// from the pluggable envelope format out of scope for this engine) into a
// storable envelope, compressing and chunking as needed.
func Encode(payload []byte, chunks ChunkWriter) ([]byte, error) {
	flags := byte(0)
	body := payload

	if datasize.ByteSize(len(body)) > CompressionThreshold {
		compressed := s2.Encode(nil, body)
		if len(compressed) < len(body) {
			body = compressed
			flags |= flagCompressed
		}
	}

	if datasize.ByteSize(len(body)) <= ChunkThreshold {
		return frame(flags, body), nil
	}

	if chunks == nil {
		return nil, errs.New(errs.KindOversizeValue, "record exceeds chunk threshold and no chunk writer was provided")
	}
	flags |= flagChunked
	var manifest Manifest
	chunkSize := int(ChunkSize)
	for seq, off := 0, 0; off < len(body); seq, off = seq+1, off+chunkSize {
		end := off + chunkSize
		if end > len(body) {
			end = len(body)
		}
		key, err := chunks.WriteChunk(seq, body[off:end])
		if err != nil {
			return nil, errs.Wrap(errs.KindOversizeValue, err, "writing record chunk")
		}
		manifest.ChunkKeys = append(manifest.ChunkKeys, key)
	}
	return frame(flags, encodeManifest(manifest)), nil
}

// Decode reverses Encode, fetching and reassembling chunks as needed and
// decompressing if the compressed flag is set.
func Decode(envelope []byte, chunks ChunkReader) ([]byte, error) {
	if len(envelope) < 5 {
		return nil, errs.New(errs.KindTupleEncoding, "envelope too short to contain magic and flags")
	}
	if envelope[0] != magic[0] || envelope[1] != magic[1] || envelope[2] != magic[2] || envelope[3] != magic[3] {
		return nil, errs.New(errs.KindTupleEncoding, "bad envelope magic")
	}
	flags := envelope[4]
	body := envelope[5:]

	if flags&flagChunked != 0 {
		manifest, err := decodeManifest(body)
		if err != nil {
			return nil, err
		}
		if chunks == nil {
			return nil, errs.New(errs.KindOversizeValue, "chunked record but no chunk reader was provided")
		}
		var full []byte
		for _, key := range manifest.ChunkKeys {
			chunk, err := chunks.ReadChunk(key)
			if err != nil {
				return nil, errs.Wrap(errs.KindOversizeValue, err, "reading record chunk")
			}
			full = append(full, chunk...)
		}
		body = full
	}

	if flags&flagCompressed != 0 {
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return nil, errs.Wrap(errs.KindTupleEncoding, err, "decompressing record payload")
		}
		return decoded, nil
	}
	return body, nil
}

// Delete clears all chunks referenced by a chunked envelope, if any.
func Delete(envelope []byte, chunks ChunkDeleter) error {
	if len(envelope) < 5 || envelope[4]&flagChunked == 0 {
		return nil
	}
	manifest, err := decodeManifest(envelope[5:])
	if err != nil {
		return err
	}
	for _, key := range manifest.ChunkKeys {
		if err := chunks.DeleteChunk(key); err != nil {
			return errs.Wrap(errs.KindOversizeValue, err, "deleting record chunk")
		}
	}
	return nil
}

func frame(flags byte, body []byte) []byte {
	out := make([]byte, 0, 5+len(body))
	out = append(out, magic[:]...)
	out = append(out, flags)
	out = append(out, body...)
	return out
}

// encodeManifest writes chunk-count varint then length-prefixed chunk
// keys (spec §6: "manifest... is: chunk-count varint, then N chunk keys
// encoded as length-prefixed bytes").
func encodeManifest(m Manifest) []byte {
	var out []byte
	var varintBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(varintBuf[:], uint64(len(m.ChunkKeys)))
	out = append(out, varintBuf[:n]...)
	for _, key := range m.ChunkKeys {
		n := binary.PutUvarint(varintBuf[:], uint64(len(key)))
		out = append(out, varintBuf[:n]...)
		out = append(out, key...)
	}
	return out
}

func decodeManifest(buf []byte) (Manifest, error) {
	count, n := binary.Uvarint(buf)
	if n <= 0 {
		return Manifest{}, errs.New(errs.KindTupleEncoding, "malformed manifest chunk count")
	}
	buf = buf[n:]
	m := Manifest{ChunkKeys: make([][]byte, 0, count)}
	for i := uint64(0); i < count; i++ {
		l, n := binary.Uvarint(buf)
		if n <= 0 {
			return Manifest{}, errs.New(errs.KindTupleEncoding, "malformed manifest chunk key length")
		}
		buf = buf[n:]
		if uint64(len(buf)) < l {
			return Manifest{}, errs.New(errs.KindTupleEncoding, "truncated manifest chunk key")
		}
		key := make([]byte, l)
		copy(key, buf[:l])
		m.ChunkKeys = append(m.ChunkKeys, key)
		buf = buf[l:]
	}
	return m, nil
}
