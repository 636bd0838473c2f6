package collect

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/specimen-tracking/pkg/odk"
)

func TestDedupKey(t *testing.T) {
	form := loadDeparture(t)
	assert.Equal(t, "sdepart:uuid:7b5e2d1c-3f4a-4c8e-9d61-0a2b3c4d5e6f", DedupKey(form, nil))

	bare := Form{Type: ResultsArrival, Element: odk.Document{}}
	a := DedupKey(bare, []byte("<rarrive/>"))
	b := DedupKey(bare, []byte("<rarrive></rarrive>"))
	assert.Contains(t, a, "rarrive:xxh:")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, DedupKey(bare, []byte("<rarrive/>")))
}

func TestRedisDeduperClaim(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	d := NewRedisDeduper(client, time.Hour)

	owner, claimed, err := d.Claim(ctx, "sdepart:uuid:1", "sub-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "sub-1", owner)

	owner, claimed, err = d.Claim(ctx, "sdepart:uuid:1", "sub-2")
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, "sub-1", owner)
	assert.True(t, mr.Exists("stt:submission:sdepart:uuid:1"))

	require.NoError(t, d.Release(ctx, "sdepart:uuid:1"))
	_, claimed, err = d.Claim(ctx, "sdepart:uuid:1", "sub-3")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestRedisDeduperExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	d := NewRedisDeduper(client, time.Minute)

	_, claimed, err := d.Claim(ctx, "k", "sub-1")
	require.NoError(t, err)
	require.True(t, claimed)

	mr.FastForward(2 * time.Minute)
	owner, claimed, err := d.Claim(ctx, "k", "sub-2")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, "sub-2", owner)
}

func TestSubmitFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	ctx := context.Background()
	env := newTestEnv(t, NewRedisDeduper(client, time.Hour), 0)

	first, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, first.Status)

	second, err := env.svc.Submit(ctx, Submission{Source: SourceCollect, Format: FormatXML, Raw: departureXML(t)})
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
}
