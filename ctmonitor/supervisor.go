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

package ctmonitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ctlogwatch/monitor/store"
	"k8s.io/klog/v2"
)

// Supervisor owns the set of per-log Workers. It deliberately does not use
// golang.org/x/sync/errgroup: an errgroup cancels every sibling's context on
// the first member's error, but a single log's misbehavior or transient
// network fault must never interrupt monitoring of every other log. The
// only failure this process treats as fatal is a Store fault, which a
// Worker signals by panicking; the Supervisor's per-worker recover turns
// that into a deliberate process exit rather than a silently abandoned
// goroutine.
type Supervisor struct {
	st       Store
	ad       Adapter
	interval time.Duration

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewSupervisor constructs a Supervisor over st and ad, polling each log
// every interval (defaultPollInterval if interval <= 0). Neither st nor ad
// is touched until Start is called.
func NewSupervisor(st Store, ad Adapter, interval time.Duration) *Supervisor {
	return &Supervisor{st: st, ad: ad, interval: interval}
}

// Start lists every log with monitoring = true and launches one Worker
// goroutine per log, named update-<log_id_hex>. It returns once every
// Worker has been launched, not once they have made progress.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("ctmonitor: supervisor already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	logs, err := s.st.ListActiveLogs(ctx)
	if err != nil {
		return fmt.Errorf("ctmonitor: list active logs: %w", err)
	}

	klog.Infof("supervisor: starting %d workers", len(logs))
	for _, l := range logs {
		s.spawn(ctx, l, stop)
	}
	return nil
}

// spawn launches and supervises a single Worker goroutine. A panic inside
// RunWorker — the only way a Worker signals a Store fault — is recovered
// here only long enough to log it before the whole process exits; it is
// never swallowed, because a Store fault means the durable state this
// process relies on can no longer be trusted.
func (s *Supervisor) spawn(ctx context.Context, l store.Log, stop <-chan struct{}) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				klog.Errorf("update-%s: fatal: %v", l.LogID.Hex(), r)
				os.Exit(1)
			}
		}()
		RunWorker(ctx, s.st, s.ad, l, s.interval, stop)
	}()
}

// Shutdown signals every running Worker to stop after its current
// iteration. It does not block; call Wait to block until they have all
// exited.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
	}
}

// Wait blocks until every Worker goroutine has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
