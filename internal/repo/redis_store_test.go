package repo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore("redis://"+mr.Addr(), "test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStoreKeyLayout(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	_, err := s.InitHead(ctx, seedDoc(1, "v1"), 100)
	require.NoError(t, err)
	commitNext(t, s, "v2", 100)

	require.True(t, mr.Exists("test:document"))
	require.True(t, mr.Exists("test:version:1"))
	require.True(t, mr.Exists("test:version:2"))
	members, err := mr.ZMembers("test:versions")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, members)
}

func TestRedisStoreDefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(client, "")
	t.Cleanup(func() { _ = s.Close() })

	_, err := s.InitHead(context.Background(), seedDoc(1, "v1"), 100)
	require.NoError(t, err)
	require.True(t, mr.Exists("lava:document"))
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore("://nope", "")
	require.Error(t, err)
}

func TestRedisStoreCorruptHead(t *testing.T) {
	s, mr := newTestRedisStore(t)
	require.NoError(t, mr.Set("test:document", "{not json"))
	_, err := s.GetHead(context.Background())
	require.Error(t, err)
}
