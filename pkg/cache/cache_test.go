package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadOrStore(t *testing.T) {
	cache := NewCache[string, string]()

	elem := NewElement("elem", time.Now().Add(time.Minute), nil)
	loadedElem, loaded := cache.LoadOrStore("abcd", elem)
	require.False(t, loaded)
	require.Equal(t, "elem", loadedElem.Data())

	elem2 := NewElement("elem2", time.Now().Add(time.Minute), nil)
	loadedElem, loaded = cache.LoadOrStore("abcd", elem2)
	require.True(t, loaded)
	require.Equal(t, "elem", loadedElem.Data())
	require.Equal(t, 1, cache.Len())
}

func TestLoadOrStoreReplacesExpired(t *testing.T) {
	cache := NewCache[string, string]()
	cache.Store("abcd", NewElement("old", time.Now().Add(-time.Second), nil))
	require.Nil(t, cache.Load("abcd"))

	loadedElem, loaded := cache.LoadOrStore("abcd", NewElement("new", time.Time{}, nil))
	require.False(t, loaded)
	require.Equal(t, "new", loadedElem.Data())
}

func TestDelete(t *testing.T) {
	cache := NewCache[string, int]()
	cache.Store("a", NewElement(1, time.Time{}, nil))
	require.False(t, cache.DeleteFunc("a", func(v int) bool { return v == 2 }))
	require.True(t, cache.DeleteFunc("a", func(v int) bool { return v == 1 }))
	require.False(t, cache.Delete("a"))
}

func TestCheckExpirations(t *testing.T) {
	cache := NewCache[string, string]()
	now := time.Now()
	var expired []string
	onExpire := func(d string) {
		expired = append(expired, d)
		// callbacks may touch the cache
		cache.Delete("never")
	}
	cache.Store("short", NewElement("short", now.Add(time.Second), onExpire))
	cache.Store("long", NewElement("long", now.Add(time.Hour), onExpire))
	cache.Store("never", NewElement("never", time.Time{}, onExpire))

	cache.CheckExpirations(now)
	require.Empty(t, expired)
	require.Equal(t, 3, cache.Len())

	cache.CheckExpirations(now.Add(2 * time.Second))
	require.Equal(t, []string{"short"}, expired)
	require.NotNil(t, cache.Load("long"))
	require.Nil(t, cache.Load("never"))
}

func TestRefresh(t *testing.T) {
	cache := NewCache[string, string]()
	now := time.Now()
	e := NewElement("a", now.Add(time.Second), nil)
	cache.Store("a", e)
	e.Refresh(now.Add(time.Hour))
	cache.CheckExpirations(now.Add(time.Minute))
	require.NotNil(t, cache.Load("a"))
	require.Equal(t, now.Add(time.Hour), e.ValidUntil())
}

func TestPullOutAll(t *testing.T) {
	cache := NewCache[string, string]()
	cache.Store("a", NewElement("1", time.Time{}, nil))
	cache.Store("b", NewElement("2", time.Time{}, nil))
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, cache.PullOutAll())
	require.Equal(t, 0, cache.Len())
}
