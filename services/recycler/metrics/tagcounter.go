// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// =============================================================================
// TagCounterMap
// =============================================================================

// TagCounterMap is a concurrent map from one tag value to an int64 counter.
//
// # Description
//
// Each key is the value of a single label (the map's tag name), for example
// tag "metric" with keys "cpu_utilization" and "memory_used". Counters can be
// incremented, adjusted by a delta, or overwritten.
//
// The map can be bounded to a maximum number of distinct keys. Once the bound
// is reached, operations that name a brand-new key are silent no-ops; keys
// that already exist stay fully mutable. Nothing is ever evicted.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Updates to existing keys are
// lock-free. Creating a key takes a short mutex so that the bound is exact
// and a creator that loses the race applies its update to the winner's
// counter instead of dropping it.
//
// # Limitations
//
//   - Snapshot is weakly consistent across keys.
//   - Keys are never removed.
type TagCounterMap[K comparable] struct {
	tagName string
	maxTags int

	// entries maps K to *atomic.Int64.
	entries sync.Map
	size    atomic.Int64

	// createMu serializes key creation only.
	createMu sync.Mutex
}

// NewTagCounterMap creates an empty map.
//
// # Inputs
//
//   - tagName: Label name the keys belong to. Used for exposition.
//   - maxTags: Maximum number of distinct keys. Zero or negative means
//     unbounded.
//
// # Examples
//
//	failures := metrics.NewTagCounterMap[string]("metric", 100)
//	failures.Increment("cpu_utilization")
func NewTagCounterMap[K comparable](tagName string, maxTags int) *TagCounterMap[K] {
	if maxTags < 0 {
		maxTags = 0
	}
	return &TagCounterMap[K]{tagName: tagName, maxTags: maxTags}
}

// NewTagCounterMapFrom creates an unbounded map pre-filled with initial.
func NewTagCounterMapFrom[K comparable](tagName string, initial map[K]int64) *TagCounterMap[K] {
	m := NewTagCounterMap[K](tagName, 0)
	for k, v := range initial {
		m.Set(k, v)
	}
	return m
}

// TagName returns the label name of the keys.
func (m *TagCounterMap[K]) TagName() string {
	return m.tagName
}

// MaxTags returns the distinct-key bound, or 0 when unbounded.
func (m *TagCounterMap[K]) MaxTags() int {
	return m.maxTags
}

// Len returns the number of distinct keys.
func (m *TagCounterMap[K]) Len() int {
	return int(m.size.Load())
}

// Increment adds one to the counter for tag.
func (m *TagCounterMap[K]) Increment(tag K) {
	m.Add(tag, 1)
}

// Add adds delta (which may be negative) to the counter for tag.
//
// If tag is new and the map is full, the call does nothing.
func (m *TagCounterMap[K]) Add(tag K, delta int64) {
	if c := m.counter(tag); c != nil {
		c.Add(delta)
	}
}

// Set overwrites the counter for tag with value.
//
// If tag is new and the map is full, the call does nothing.
func (m *TagCounterMap[K]) Set(tag K, value int64) {
	if c := m.counter(tag); c != nil {
		c.Store(value)
	}
}

// Get returns the counter for tag and whether it exists.
func (m *TagCounterMap[K]) Get(tag K) (int64, bool) {
	v, ok := m.entries.Load(tag)
	if !ok {
		return 0, false
	}
	return v.(*atomic.Int64).Load(), true
}

// Snapshot copies the current counters into a new map.
//
// The copy is not atomic across keys: writers running concurrently may or
// may not be reflected for any given key.
func (m *TagCounterMap[K]) Snapshot() map[K]int64 {
	out := make(map[K]int64, m.Len())
	m.entries.Range(func(key, value any) bool {
		out[key.(K)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// Labels returns the snapshot keyed by the string form of each tag, in the
// shape exporters and the status endpoint expect.
func (m *TagCounterMap[K]) Labels() map[string]int64 {
	out := make(map[string]int64, m.Len())
	m.entries.Range(func(key, value any) bool {
		out[fmt.Sprint(key)] = value.(*atomic.Int64).Load()
		return true
	})
	return out
}

// counter returns the counter for tag, creating it at zero if the bound
// allows. Returns nil when tag is new and the map is full.
//
// A freshly created counter starts at zero and the caller applies its own
// update, so a creator racing another creator never overwrites a
// contribution that landed first.
func (m *TagCounterMap[K]) counter(tag K) *atomic.Int64 {
	if v, ok := m.entries.Load(tag); ok {
		return v.(*atomic.Int64)
	}

	m.createMu.Lock()
	defer m.createMu.Unlock()

	if v, ok := m.entries.Load(tag); ok {
		return v.(*atomic.Int64)
	}
	if m.maxTags > 0 && int(m.size.Load()) >= m.maxTags {
		return nil
	}

	c := new(atomic.Int64)
	m.entries.Store(tag, c)
	m.size.Add(1)
	return c
}
