package media_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/bambu-lan-gateway/pkg/media"
)

func TestRTPClock_FirstTimestampIsZero(t *testing.T) {
	c := media.NewRTPClock()
	require.Equal(t, uint64(0), c.PTS90k(123456))
}

func TestRTPClock_MonotonicIncrease(t *testing.T) {
	c := media.NewRTPClock()
	require.Equal(t, uint64(0), c.PTS90k(1000))
	require.Equal(t, uint64(3000), c.PTS90k(4000))
	require.Equal(t, uint64(6000), c.PTS90k(7000))
}

func TestRTPClock_WrapsAround(t *testing.T) {
	c := media.NewRTPClock()
	base := uint32(math.MaxUint32 - 500)
	require.Equal(t, uint64(0), c.PTS90k(base))
	// wraps past 2^32
	require.Equal(t, uint64(1001), c.PTS90k(500))
}
