// Copyright 2025 The Gantry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wsengine

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is a process-local ConnectionStore. It backs the dev
// server; deployments use a store shared across instances.
type MemoryStore struct {
	mu     sync.RWMutex
	byConn map[string]string
	byUser map[string]map[string]struct{}
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byConn: make(map[string]string),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Bind implements ConnectionStore. Rebinding a live connection id moves
// it to the new user.
func (s *MemoryStore) Bind(_ context.Context, connectionID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.byConn[connectionID]; ok {
		s.drop(connectionID, prior)
	}
	s.byConn[connectionID] = userID
	if userID == "" {
		return false, nil
	}
	set := s.byUser[userID]
	if set == nil {
		set = make(map[string]struct{})
		s.byUser[userID] = set
	}
	wentOnline := len(set) == 0
	set[connectionID] = struct{}{}
	return wentOnline, nil
}

// Unbind implements ConnectionStore. Unknown connection ids unbind to
// ("", false, nil).
func (s *MemoryStore) Unbind(_ context.Context, connectionID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.byConn[connectionID]
	if !ok {
		return "", false, nil
	}
	wentOffline := s.drop(connectionID, userID)
	return userID, wentOffline, nil
}

// ResolveUser implements ConnectionStore.
func (s *MemoryStore) ResolveUser(_ context.Context, connectionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byConn[connectionID], nil
}

// ConnectionsFor implements ConnectionStore. The result is sorted so
// fan-out order is stable.
func (s *MemoryStore) ConnectionsFor(_ context.Context, userIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	seen := make(map[string]struct{})
	for _, userID := range userIDs {
		for id := range s.byUser[userID] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Connections returns every live connection id, sorted.
func (s *MemoryStore) Connections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byConn))
	for id := range s.byConn {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// drop removes the connection under s.mu and reports whether its user
// went offline.
func (s *MemoryStore) drop(connectionID, userID string) bool {
	delete(s.byConn, connectionID)
	if userID == "" {
		return false
	}
	set := s.byUser[userID]
	delete(set, connectionID)
	if len(set) == 0 {
		delete(s.byUser, userID)
		return true
	}
	return false
}
