package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anthanhphan/go-chord/pkg/ring"
)

func TestNewRedisRegistry_Defaults(t *testing.T) {
	self := ring.NewNode(3, "127.0.0.1", 50003)
	r := NewRedisRegistry(Config{Addr: "127.0.0.1:6379"}, self)
	defer r.client.Close()

	assert.Equal(t, DefaultPrefix, r.prefix)
	assert.Equal(t, 30*time.Second, r.ttl)
	assert.Equal(t, "chord:node:127.0.0.1:50003", r.key(self))
}

func TestNewRedisRegistry_CustomPrefix(t *testing.T) {
	self := ring.NewNode(3, "10.0.0.4", 7000)
	r := NewRedisRegistry(Config{Prefix: "ring-a/", TTL: time.Minute}, self)
	defer r.client.Close()

	assert.Equal(t, "ring-a/10.0.0.4:7000", r.key(self))
	assert.Equal(t, time.Minute, r.ttl)
}

func TestDecodeNode(t *testing.T) {
	node := ring.NewNode(5, "127.0.0.1", 50005)
	data, err := json.Marshal(node)
	require.NoError(t, err)

	got, err := decodeNode(data)
	require.NoError(t, err)
	assert.Equal(t, node, got)

	tests := map[string]string{
		"garbage":     "not json",
		"unreachable": `{"id":1,"address":"127.0.0.1","port":1,"unreachable":true}`,
		"no address":  `{"id":1,"port":1}`,
		"id too big":  `{"id":8,"address":"127.0.0.1","port":1}`,
		"no port":     `{"id":1,"address":"127.0.0.1"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decodeNode([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func newTestRegistry(t *testing.T, self ring.Node, ttl time.Duration) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewRedisRegistry(Config{Addr: mr.Addr(), TTL: ttl}, self)
	return r, mr
}

func TestRedisRegistry_RegisterWritesEntryWithTTL(t *testing.T) {
	self := ring.NewNode(3, "127.0.0.1", 50003)
	r, mr := newTestRegistry(t, self, time.Minute)

	require.NoError(t, r.Register(context.Background()))
	defer r.Close()

	raw, err := mr.Get(r.key(self))
	require.NoError(t, err)
	got, err := decodeNode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, self, got)
	assert.Equal(t, time.Minute, mr.TTL(r.key(self)))

	// a second Register refreshes the entry without starting another loop
	require.NoError(t, r.Register(context.Background()))
}

func TestRedisRegistry_KeepaliveRestoresEntry(t *testing.T) {
	self := ring.NewNode(3, "127.0.0.1", 50003)
	r, mr := newTestRegistry(t, self, 100*time.Millisecond)

	require.NoError(t, r.Register(context.Background()))
	defer r.Close()

	mr.Del(r.key(self))
	require.Eventually(t, func() bool {
		return mr.Exists(r.key(self))
	}, time.Second, 10*time.Millisecond)
}

func TestRedisRegistry_ContactsSkipSelfAndMalformed(t *testing.T) {
	self := ring.NewNode(3, "127.0.0.1", 50003)
	r, mr := newTestRegistry(t, self, time.Minute)
	require.NoError(t, r.Register(context.Background()))
	defer r.Close()

	for _, n := range []ring.Node{ring.NewNode(1, "127.0.0.1", 50001), ring.NewNode(6, "127.0.0.1", 50006)} {
		data, err := json.Marshal(n)
		require.NoError(t, err)
		require.NoError(t, mr.Set(r.key(n), string(data)))
	}
	require.NoError(t, mr.Set(DefaultPrefix+"broken", "not json"))
	require.NoError(t, mr.Set("other:127.0.0.1:50007", `{"id":7,"address":"127.0.0.1","port":50007}`))

	contacts, err := r.Contacts(context.Background())
	require.NoError(t, err)

	ids := make([]int, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []int{1, 6}, ids)
}

func TestRedisRegistry_CloseRemovesEntry(t *testing.T) {
	self := ring.NewNode(3, "127.0.0.1", 50003)
	r, mr := newTestRegistry(t, self, 100*time.Millisecond)

	require.NoError(t, r.Register(context.Background()))
	require.True(t, mr.Exists(r.key(self)))

	require.NoError(t, r.Close())
	assert.False(t, mr.Exists(r.key(self)))

	// the refresh loop is gone, so the entry stays deleted
	time.Sleep(150 * time.Millisecond)
	assert.False(t, mr.Exists(r.key(self)))
}
