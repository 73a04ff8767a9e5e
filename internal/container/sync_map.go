// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package container

import "sync"

// SyncMap is a thread-safe generic map.
type SyncMap[K comparable, V any] struct {
	m map[K]V
	l sync.RWMutex
}

func NewSyncMap[K comparable, V any]() SyncMap[K, V] {
	return SyncMap[K, V]{m: map[K]V{}}
}

func (s *SyncMap[K, V]) Load(key K) (V, bool) {
	s.l.RLock()
	defer s.l.RUnlock()
	val, ok := s.m[key]
	return val, ok
}

func (s *SyncMap[K, V]) Store(key K, val V) {
	s.l.Lock()
	defer s.l.Unlock()
	s.m[key] = val
}

// LoadOrStore returns the existing value for the key if present, otherwise
// stores and returns the provided value. The loaded result is true if the
// value was already present.
func (s *SyncMap[K, V]) LoadOrStore(key K, val V) (V, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	if existing, ok := s.m[key]; ok {
		return existing, true
	}
	s.m[key] = val
	return val, false
}

func (s *SyncMap[K, V]) Delete(key K) {
	s.l.Lock()
	defer s.l.Unlock()
	delete(s.m, key)
}

func (s *SyncMap[K, V]) Len() int {
	s.l.RLock()
	defer s.l.RUnlock()
	return len(s.m)
}

// Keys returns a snapshot of the current keys.
func (s *SyncMap[K, V]) Keys() []K {
	s.l.RLock()
	defer s.l.RUnlock()
	keys := make([]K, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys
}

func (s *SyncMap[K, V]) Range(f func(k K, v V) bool) {
	s.l.RLock()
	defer s.l.RUnlock()
	for k, v := range s.m {
		if !f(k, v) {
			return
		}
	}
}
