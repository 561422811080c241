package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestRegistryClaim(t *testing.T) {
	_, rdb := newRedis(t)
	reg := NewRegistry(rdb, time.Minute)
	ctx := context.Background()

	ok, err := reg.Claim(ctx, "retroboard-abc", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reg.Claim(ctx, "retroboard-abc", "owner-2")
	require.NoError(t, err)
	assert.False(t, ok, "second claim must fail")

	exists, err := reg.Exists(ctx, "retroboard-abc")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRegistryReleaseIsOwnerChecked(t *testing.T) {
	_, rdb := newRedis(t)
	reg := NewRegistry(rdb, time.Minute)
	ctx := context.Background()

	_, err := reg.Claim(ctx, "p1", "owner-1")
	require.NoError(t, err)

	require.NoError(t, reg.Release(ctx, "p1", "intruder"))
	exists, err := reg.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, reg.Release(ctx, "p1", "owner-1"))
	exists, err = reg.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err := reg.Claim(ctx, "p1", "owner-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegistryRefreshAndExpiry(t *testing.T) {
	mr, rdb := newRedis(t)
	reg := NewRegistry(rdb, 10*time.Second)
	ctx := context.Background()

	_, err := reg.Claim(ctx, "p1", "owner-1")
	require.NoError(t, err)

	mr.FastForward(8 * time.Second)
	ok, err := reg.Refresh(ctx, "p1", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(8 * time.Second)
	exists, err := reg.Exists(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, exists, "refresh extends the claim")

	ok, err = reg.Refresh(ctx, "p1", "owner-2")
	require.NoError(t, err)
	assert.False(t, ok)

	mr.FastForward(11 * time.Second)
	ok, err = reg.Refresh(ctx, "p1", "owner-1")
	require.NoError(t, err)
	assert.False(t, ok, "expired claim cannot be refreshed")
}

func TestValidPeerID(t *testing.T) {
	assert.True(t, ValidPeerID("retroboard-abc1234"))
	assert.True(t, ValidPeerID("0f8e_A"))
	assert.False(t, ValidPeerID(""))
	assert.False(t, ValidPeerID("has space"))
	assert.False(t, ValidPeerID("slash/id"))
}

func TestDecodeFrame(t *testing.T) {
	f, err := DecodeFrame(Frame{Type: FrameData, Dst: "b", Conn: "c1", Payload: `{"type":"ACTION"}`}.Encode())
	require.NoError(t, err)
	assert.Equal(t, FrameData, f.Type)
	assert.Equal(t, `{"type":"ACTION"}`, f.Payload)

	_, err = DecodeFrame([]byte(`{"dst":"b"}`))
	assert.Error(t, err)
	_, err = DecodeFrame([]byte(`nope`))
	assert.Error(t, err)
}
