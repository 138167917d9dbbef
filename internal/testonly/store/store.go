// Copyright 2016 Google LLC. All Rights Reserved.
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

// Package store is an in-memory double for ctmonitor.Store and
// readapi.Store, used by tests that would otherwise need a real MySQL
// instance.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ctlogwatch/monitor/store"
)

type consistencyKey struct {
	logID           store.LogID
	fromSTH, toSTH  int64
}

type certFetchKey struct {
	logID                store.LogID
	fromSize, toSize     int64
}

// Store is a map-backed double of *store.Store. All durable tables are
// plain Go maps/slices guarded by a single mutex; it makes no attempt to
// model MySQL's isolation semantics beyond being safe for concurrent use.
type Store struct {
	mu sync.Mutex

	logs map[store.LogID]*store.Log
	sths map[store.LogID][]store.STH // IDs come from nextID, shared by all logs
	nextID int64

	consistencyErrs map[consistencyKey]store.ConsistencyCheckError
	certFetchErrs   map[certFetchKey]store.CertFetchError

	// ingested records the fingerprint of every IngestCertificate call,
	// keyed by (logID, leafIndex). No accessor exposes it.
	ingested map[store.LogID]map[int64]store.Hash
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		logs:            make(map[store.LogID]*store.Log),
		sths:            make(map[store.LogID][]store.STH),
		consistencyErrs: make(map[consistencyKey]store.ConsistencyCheckError),
		certFetchErrs:   make(map[certFetchKey]store.CertFetchError),
		ingested:        make(map[store.LogID]map[int64]store.Hash),
	}
}

// PutLog seeds a log row directly, bypassing InsertLog's upsert semantics.
func (s *Store) PutLog(l store.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := l
	s.logs[l.LogID] = &cp
}

func (s *Store) GetLog(_ context.Context, logID store.LogID) (store.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[logID]
	if !ok {
		return store.Log{}, store.ErrNotFound
	}
	return *l, nil
}

func (s *Store) ListActiveLogs(_ context.Context) ([]store.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Log
	for _, l := range s.logs {
		if l.Monitoring {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *Store) ListActiveLogSummaries(_ context.Context) ([]store.LogSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.LogSummary
	for _, l := range s.logs {
		if !l.Monitoring {
			continue
		}
		ls := store.LogSummary{Log: *l}
		if l.LatestSTHID != nil {
			for i, sth := range s.sths[l.LogID] {
				if sth.ID == *l.LatestSTHID {
					cp := s.sths[l.LogID][i]
					ls.LatestSTH = &cp
					break
				}
			}
		}
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Log.Name < out[j].Log.Name })
	return out, nil
}

// Stats returns the {active, total} counts over every registered log.
func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := store.Stats{TotalLogs: len(s.logs)}
	for _, l := range s.logs {
		if l.Monitoring {
			st.ActiveLogs++
		}
	}
	return st, nil
}

func (s *Store) GetSTH(_ context.Context, logID store.LogID, id int64) (store.STH, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sth := range s.sths[logID] {
		if sth.ID == id {
			return sth, nil
		}
	}
	return store.STH{}, store.ErrNotFound
}

func (s *Store) SetLastSTHError(_ context.Context, logID store.LogID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[logID]
	if !ok {
		return store.ErrNotFound
	}
	r := reason
	l.LastSTHError = &r
	return nil
}

func (s *Store) ClearLastSTHError(_ context.Context, logID store.LogID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[logID]
	if !ok {
		return store.ErrNotFound
	}
	l.LastSTHError = nil
	return nil
}

func (s *Store) InsertSTHDedup(_ context.Context, logID store.LogID, sth store.STH) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sths[logID] {
		if existing.TreeSize == sth.TreeSize && existing.TreeHash == sth.TreeHash && existing.STHTimestamp == sth.STHTimestamp {
			return existing.ID, nil
		}
	}
	s.nextID++
	sth.ID = s.nextID
	sth.LogID = logID
	sth.CheckedConsistentWithLatest = false
	s.sths[logID] = append(s.sths[logID], sth)
	return sth.ID, nil
}

func (s *Store) AdvanceLatestSTH(_ context.Context, logID store.LogID, newSTHID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[logID]
	if !ok {
		return store.ErrNotFound
	}
	found := false
	for i, sth := range s.sths[logID] {
		if sth.ID == newSTHID {
			s.sths[logID][i].CheckedConsistentWithLatest = true
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("testonly/store: advance: sth %d not found", newSTHID)
	}
	id := newSTHID
	l.LatestSTHID = &id
	return nil
}

func (s *Store) SetSTHConsistent(_ context.Context, sthID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for logID, sths := range s.sths {
		for i, sth := range sths {
			if sth.ID == sthID {
				s.sths[logID][i].CheckedConsistentWithLatest = true
				return nil
			}
		}
	}
	return fmt.Errorf("testonly/store: set consistent: sth %d not found", sthID)
}

func (s *Store) OutstandingSTHs(_ context.Context, logID store.LogID, latestTreeSize int64) ([]store.STH, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.STH
	for _, sth := range s.sths[logID] {
		if !sth.CheckedConsistentWithLatest && sth.TreeSize <= latestTreeSize {
			out = append(out, sth)
		}
	}
	return out, nil
}

func (s *Store) UpsertConsistencyCheckError(_ context.Context, logID store.LogID, fromSTHID, toSTHID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := consistencyKey{logID, fromSTHID, toSTHID}
	e := s.consistencyErrs[k]
	e.LogID, e.FromSTHID, e.ToSTHID, e.LastCheckError = logID, fromSTHID, toSTHID, reason
	s.consistencyErrs[k] = e
	return nil
}

func (s *Store) DeleteConsistencyCheckError(_ context.Context, logID store.LogID, fromSTHID, toSTHID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.consistencyErrs, consistencyKey{logID, fromSTHID, toSTHID})
	return nil
}

// ConsistencyCheckErrors returns a snapshot of every recorded error, for
// test assertions.
func (s *Store) ConsistencyCheckErrors() []store.ConsistencyCheckError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.ConsistencyCheckError, 0, len(s.consistencyErrs))
	for _, e := range s.consistencyErrs {
		out = append(out, e)
	}
	return out
}

func (s *Store) UpsertCertFetchError(_ context.Context, logID store.LogID, fromTreeSize, toTreeSize int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := certFetchKey{logID, fromTreeSize, toTreeSize}
	e := s.certFetchErrs[k]
	e.LogID, e.FromTreeSize, e.ToTreeSize, e.ErrorMsg = logID, fromTreeSize, toTreeSize, reason
	s.certFetchErrs[k] = e
	return nil
}

func (s *Store) DeleteCertFetchErrors(_ context.Context, logID store.LogID, fromTreeSize, toTreeSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.certFetchErrs, certFetchKey{logID, fromTreeSize, toTreeSize})
	return nil
}

// CertFetchErrors returns a snapshot of every recorded error, for test
// assertions.
func (s *Store) CertFetchErrors() []store.CertFetchError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.CertFetchError, 0, len(s.certFetchErrs))
	for _, e := range s.certFetchErrs {
		out = append(out, e)
	}
	return out
}

func (s *Store) IngestCertificate(_ context.Context, logID store.LogID, leafIndex int64, leafHash, fingerprint store.Hash, _ []byte, _ [][]byte, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingested[logID] == nil {
		s.ingested[logID] = make(map[int64]store.Hash)
	}
	s.ingested[logID][leafIndex] = fingerprint
	return nil
}

// STHs returns a snapshot of every STH recorded for logID, in insertion
// order, for test assertions.
func (s *Store) STHs(logID store.LogID) []store.STH {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.STH, len(s.sths[logID]))
	copy(out, s.sths[logID])
	return out
}
