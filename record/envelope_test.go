package record

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func randomPayload(n int) []byte {
	r := rand.New(rand.NewSource(42))
	buf := make([]byte, n)
	_, _ = r.Read(buf)
	return buf
}

type memChunks struct {
	store map[string][]byte
	seq   int
}

func newMemChunks() *memChunks { return &memChunks{store: map[string][]byte{}} }

func (m *memChunks) WriteChunk(seq int, data []byte) ([]byte, error) {
	key := []byte(fmt.Sprintf("blob-%d", seq))
	cp := make([]byte, len(data))
	copy(cp, data)
	m.store[string(key)] = cp
	return key, nil
}

func (m *memChunks) ReadChunk(key []byte) ([]byte, error) {
	v, ok := m.store[string(key)]
	if !ok {
		return nil, fmt.Errorf("no such chunk %q", key)
	}
	return v, nil
}

func (m *memChunks) DeleteChunk(key []byte) error {
	delete(m.store, string(key))
	return nil
}

func TestSmallPayloadRoundTrips(t *testing.T) {
	payload := []byte("small record")
	env, err := Encode(payload, nil)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(env, magic[:]))

	decoded, err := Decode(env, nil)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestCompressiblePayloadIsSmallerOrEqual(t *testing.T) {
	payload := bytes.Repeat([]byte("aaaaaaaaaa"), 100) // 1000 bytes, highly compressible
	env, err := Encode(payload, nil)
	require.NoError(t, err)
	require.Less(t, len(env), len(payload))

	decoded, err := Decode(env, nil)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func TestOversizePayloadChunks(t *testing.T) {
	payload := randomPayload(160000) // incompressible, >90KB after framing
	chunks := newMemChunks()
	env, err := Encode(payload, chunks)
	require.NoError(t, err)
	require.True(t, len(chunks.store) > 1)

	decoded, err := Decode(env, chunks)
	require.NoError(t, err)
	if diff := cmp.Diff(payload, decoded); diff != "" {
		t.Fatalf("decoded payload mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, Delete(env, chunks))
	require.Empty(t, chunks.store)
}

func TestOversizeWithoutChunkWriterFails(t *testing.T) {
	payload := randomPayload(160000)
	_, err := Encode(payload, nil)
	require.Error(t, err)
}
