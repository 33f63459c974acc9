package fragment

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/anvilnet/fluxcap/internal/fluxerr"
	"github.com/anvilnet/fluxcap/internal/ipaddr"
	"github.com/anvilnet/fluxcap/internal/memcap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() Key {
	return Key{
		Src:      ipaddr.FromNetip(netip.MustParseAddr("10.0.0.1")),
		Dst:      ipaddr.FromNetip(netip.MustParseAddr("10.0.0.2")),
		ID:       1234,
		Protocol: 6,
	}
}

// TestReassembly is spec §8 end-to-end scenario 5.
func TestReassembly(t *testing.T) {
	r := New(Config{Buckets: 16, AgeLimit: 60 * time.Second}, memcap.New(1<<20))
	key := testKey()

	frag1 := make([]byte, 1400)
	frag2 := make([]byte, 1400)
	frag3 := make([]byte, 600)

	out, complete, err := r.Insert(key, 4, Piece{Offset: 0, Payload: frag1}, true)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, out)

	out, complete, err = r.Insert(key, 4, Piece{Offset: 1400, Payload: frag2}, true)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, out)

	out, complete, err = r.Insert(key, 4, Piece{Offset: 2800, Payload: frag3}, false)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Len(t, out, 3400)
	assert.Equal(t, 0, r.Len())
}

func TestOverlapKeepsFirstAcceptedBytes(t *testing.T) {
	r := New(Config{Buckets: 16, AgeLimit: 60 * time.Second, Model: ModelFirst}, memcap.New(1<<20))
	key := testKey()

	first := make([]byte, 100)
	for i := range first {
		first[i] = 'A'
	}
	_, _, err := r.Insert(key, 4, Piece{Offset: 0, Payload: first}, true)
	require.NoError(t, err)

	overlap := make([]byte, 100)
	for i := range overlap {
		overlap[i] = 'B'
	}
	out, complete, err := r.Insert(key, 4, Piece{Offset: 50, Payload: overlap}, false)
	require.NoError(t, err)
	require.True(t, complete)
	require.Len(t, out, 150)

	for i := 0; i < 100; i++ {
		assert.Equalf(t, byte('A'), out[i], "byte %d should retain first-accepted data", i)
	}
	for i := 100; i < 150; i++ {
		assert.Equalf(t, byte('B'), out[i], "byte %d should come from the non-overlapping tail", i)
	}
}

func TestOversizedDatagramAbandonsBucket(t *testing.T) {
	r := New(Config{Buckets: 16, AgeLimit: 60 * time.Second}, memcap.New(1<<20))
	key := testKey()

	_, _, err := r.Insert(key, 4, Piece{Offset: 65530, Payload: make([]byte, 100)}, false)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

// TestPayloadBytesCountAgainstMemcap exercises spec §9's requirement that
// every per-entry allocation routes through the cap: the bucket's own
// hashtable entry (key bytes + entryOverhead) plus each stored piece's
// payload bytes must all be charged, not just the former. Budget is sized
// to admit exactly one bucket entry and one 50-byte piece, so a second,
// non-overlapping piece is refused for lack of memcap headroom rather than
// bucket-count exhaustion.
func TestPayloadBytesCountAgainstMemcap(t *testing.T) {
	const keyBytes = 4 + 4 + 1 + 4 // src + dst + protocol + id, per Key.bytes
	const entryCharge = keyBytes + 48 + 8
	const firstPieceCharge = 50 + 8
	cap := memcap.New(uint64(entryCharge + firstPieceCharge))

	r := New(Config{Buckets: 16, AgeLimit: 60 * time.Second}, cap)
	key := testKey()

	out, complete, err := r.Insert(key, 4, Piece{Offset: 0, Payload: make([]byte, 50)}, true)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, out)
	assert.Equal(t, 1, r.Len())

	out, complete, err = r.Insert(key, 4, Piece{Offset: 50, Payload: make([]byte, 100)}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fluxerr.ErrAllocBudgetExceeded))
	assert.False(t, complete)
	assert.Nil(t, out)

	// The datagram's bucket survives: only this fragment's contribution was
	// dropped, not the whole in-flight reassembly.
	assert.Equal(t, 1, r.Len())
}

func TestSweepEvictsExpiredBucket(t *testing.T) {
	clock := time.Unix(0, 0)
	r := New(Config{Buckets: 16, AgeLimit: 10 * time.Second, Now: func() time.Time { return clock }}, memcap.New(1<<20))
	key := testKey()

	_, _, err := r.Insert(key, 4, Piece{Offset: 0, Payload: make([]byte, 100)}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	clock = clock.Add(20 * time.Second)
	r.Sweep(clock)
	assert.Equal(t, 0, r.Len())
}
