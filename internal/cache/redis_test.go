package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilClient(t *testing.T) {
	c := &Cache{}
	ctx := context.Background()

	assert.Error(t, c.Set(ctx, "k", "v"))
	_, err := c.Get(ctx, "k")
	assert.Error(t, err)
	assert.NoError(t, c.Close())
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := New(ctx, "127.0.0.1:1", time.Minute)
	assert.Error(t, err)
}

func TestRoundTrip_LiveRedis(t *testing.T) {
	addr := os.Getenv("CLASSIFIER_TEST_REDIS")
	if addr == "" {
		t.Skip("CLASSIFIER_TEST_REDIS not set")
	}

	ctx := context.Background()
	c, err := New(ctx, addr, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	key := "prediction:test:" + time.Now().Format(time.RFC3339Nano)
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, c.Set(ctx, key, `{"class":1}`))
	got, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"class":1}`, got)
}
