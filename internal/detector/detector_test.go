package detector

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalewatch/engine/internal/store"
)

func TestDeduplicator_AdmitOnce(t *testing.T) {
	d := NewDeduplicator(100)

	assert.True(t, d.Admit("a"))
	assert.False(t, d.Admit("a"))
	assert.False(t, d.Admit("a"))
	assert.True(t, d.Admit("b"))
	assert.Equal(t, 2, d.Len())
}

func TestDeduplicator_BoundedEviction(t *testing.T) {
	d := NewDeduplicator(10)

	for i := 0; i < 10; i++ {
		require.True(t, d.Admit(fmt.Sprintf("t%d", i)))
	}
	assert.Equal(t, 10, d.Len())

	// Full: the oldest batch (one entry) is dropped to make room.
	require.True(t, d.Admit("t10"))
	assert.Equal(t, 10, d.Len())
	assert.True(t, d.Admit("t0"), "evicted id is admitted again")
	assert.False(t, d.Admit("t9"), "recent id is still remembered")
}

func TestDeduplicator_MemoryStaysBounded(t *testing.T) {
	d := NewDeduplicator(1000)
	for i := 0; i < 50000; i++ {
		d.Admit(fmt.Sprintf("id-%d", i))
	}
	assert.LessOrEqual(t, d.Len(), 1000)
	assert.Len(t, d.seen, d.Len())
}

func TestDetector_Inspect(t *testing.T) {
	watch := NewWalletWatch([]string{"0xPINNED"}, 10)
	d := NewDetector(100000, NewDeduplicator(100), watch)

	whale := store.NewTrade("1", "BTC", store.SideBuy, 50000, 3, time.Now())
	whale.Buyer = "0xBuyer"
	whale.Seller = "0xpinned"

	v := d.Inspect(whale)
	assert.False(t, v.Duplicate)
	assert.True(t, v.Whale)
	assert.Equal(t, []string{"0xbuyer"}, v.NewWallets)

	v = d.Inspect(whale)
	assert.True(t, v.Duplicate)
	assert.False(t, v.Whale)

	small := store.NewTrade("2", "BTC", store.SideSell, 50000, 1, time.Now())
	small.Buyer = "0xsmall"
	v = d.Inspect(small)
	assert.False(t, v.Whale)
	assert.Empty(t, v.NewWallets)

	assert.Equal(t, []string{"0xbuyer", "0xpinned"}, watch.Wallets())
}

func TestDetector_ThresholdInclusive(t *testing.T) {
	d := NewDetector(100000, NewDeduplicator(10), nil)
	v := d.Inspect(store.NewTrade("x", "ETH", store.SideBuy, 2500, 40, time.Now()))
	assert.True(t, v.Whale)
}

func TestWalletWatch_EvictsLeastRecent(t *testing.T) {
	w := NewWalletWatch(nil, 2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	assert.True(t, w.Record("0xa"))
	now = now.Add(time.Second)
	assert.True(t, w.Record("0xb"))
	now = now.Add(time.Second)
	assert.False(t, w.Record("0xa"), "refresh is not new")
	now = now.Add(time.Second)
	assert.True(t, w.Record("0xc"))

	assert.Equal(t, []string{"0xa", "0xc"}, w.Wallets())
}

func TestWalletWatch_Cleanup(t *testing.T) {
	w := NewWalletWatch([]string{"0xpinned"}, 10)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	w.Record("0xold")
	now = now.Add(2 * time.Hour)
	w.Record("0xnew")

	assert.Equal(t, 1, w.Cleanup(time.Hour))
	assert.Equal(t, []string{"0xnew", "0xpinned"}, w.Wallets())
}
