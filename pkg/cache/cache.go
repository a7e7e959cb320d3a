// Package cache provides an expiring table. It is not safe for concurrent
// use; callers confine it to a single goroutine (the endpoint executor).
package cache

import (
	"time"
)

type Element[T any] struct {
	validUntil time.Time
	data       T
	onExpire   func(d T)
}

// NewElement creates an element that can be stored in the cache. A zero
// validUntil never expires.
func NewElement[T any](data T, validUntil time.Time, onExpire func(d T)) *Element[T] {
	if onExpire == nil {
		onExpire = func(T) {
			// NO-OP as default
		}
	}
	return &Element[T]{data: data, validUntil: validUntil, onExpire: onExpire}
}

func (e *Element[T]) IsExpired(now time.Time) bool {
	if e.validUntil.IsZero() {
		return false
	}
	return now.After(e.validUntil)
}

func (e *Element[T]) Data() T {
	return e.data
}

func (e *Element[T]) ValidUntil() time.Time {
	return e.validUntil
}

// Refresh moves the expiration of the element.
func (e *Element[T]) Refresh(validUntil time.Time) {
	e.validUntil = validUntil
}

type Cache[K comparable, V any] struct {
	data map[K]*Element[V]
	now  func() time.Time
}

func NewCache[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		data: make(map[K]*Element[V]),
		now:  time.Now,
	}
}

// LoadOrStore loads or creates a new element for key.
//
// If an unexpired element for the key exists then this element (oldE) is
// returned and loaded is true. Otherwise e is stored and (e, false) returned.
func (c *Cache[K, V]) LoadOrStore(key K, e *Element[V]) (actual *Element[V], loaded bool) {
	if old, ok := c.data[key]; ok && !old.IsExpired(c.now()) {
		return old, true
	}
	c.data[key] = e
	return e, false
}

// Store replaces the element for key.
func (c *Cache[K, V]) Store(key K, e *Element[V]) {
	c.data[key] = e
}

// Load returns the unexpired element for key or nil.
func (c *Cache[K, V]) Load(key K) *Element[V] {
	e, ok := c.data[key]
	if !ok || e.IsExpired(c.now()) {
		return nil
	}
	return e
}

// Delete removes the element for given key from the cache.
func (c *Cache[K, V]) Delete(key K) bool {
	_, ok := c.data[key]
	delete(c.data, key)
	return ok
}

// DeleteFunc removes the element for key when match reports true for its data.
func (c *Cache[K, V]) DeleteFunc(key K, match func(V) bool) bool {
	e, ok := c.data[key]
	if !ok || !match(e.data) {
		return false
	}
	delete(c.data, key)
	return true
}

func (c *Cache[K, V]) Len() int {
	return len(c.data)
}

// CheckExpirations deletes expired elements and invokes their onExpire.
// onExpire may modify the cache.
func (c *Cache[K, V]) CheckExpirations(now time.Time) {
	var expired []*Element[V]
	for k, e := range c.data {
		if e.IsExpired(now) {
			delete(c.data, k)
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		e.onExpire(e.data)
	}
}

// PullOutAll removes all elements from the cache and returns them in a map.
func (c *Cache[K, V]) PullOutAll() map[K]V {
	res := make(map[K]V, len(c.data))
	for key, value := range c.data {
		res[key] = value.Data()
	}
	c.data = make(map[K]*Element[V])
	return res
}
