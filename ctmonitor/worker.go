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
	"errors"
	"fmt"
	"time"

	"github.com/ctlogwatch/monitor/store"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// defaultPollInterval is used by RunWorker callers (tests, principally)
// that don't care about the exact cadence.
const defaultPollInterval = 5 * time.Second

// sleepPhase is the length of the first of the two cancellable sleep
// phases RunWorker waits out between polls: short enough that a Shutdown
// right after a poll is still noticed promptly, but not so short that it
// dominates CPU time when interval is itself small (as in tests).
const sleepPhase = 250 * time.Millisecond

// RunWorker drives the state machine for a single log until stop is closed
// or ctx is done: poll, classify against the current pointer, advance or
// sweep, sleep. It holds no cross-log data; all durable state lives in st.
// interval is how long the Worker sleeps after each poll before starting the
// next one.
//
// A panic escaping RunWorker is expected to be caught by the Supervisor's
// per-worker guard, which aborts the process — RunWorker itself never
// recovers.
func RunWorker(ctx context.Context, st Store, ad Adapter, l store.Log, interval time.Duration, stop <-chan struct{}) {
	runID := uuid.New().String()
	name := fmt.Sprintf("update-%s", l.LogID.Hex())
	klog.Infof("%s[%s]: worker starting for %q (%s)", name, runID, l.Name, l.EndpointURL)

	if interval <= 0 {
		interval = defaultPollInterval
	}
	first := sleepPhase
	if first > interval {
		first = interval
	}
	rest := interval - first

	var current *store.STH
	if l.LatestSTHID != nil {
		sth, err := st.GetSTH(ctx, l.LogID, *l.LatestSTHID)
		if err != nil {
			panic(fmt.Sprintf("%s: load initial latest sth %d: %v", name, *l.LatestSTHID, err))
		}
		current = &sth
	}

	for {
		current = pollOnce(ctx, st, ad, l, current, name)

		select {
		case <-stop:
			klog.Infof("%s[%s]: stop received, terminating", name, runID)
			return
		case <-ctx.Done():
			klog.Infof("%s[%s]: context done, terminating", name, runID)
			return
		case <-time.After(first):
		}

		if rest <= 0 {
			continue
		}
		select {
		case <-stop:
			klog.Infof("%s[%s]: stop received, terminating", name, runID)
			return
		case <-ctx.Done():
			klog.Infof("%s[%s]: context done, terminating", name, runID)
			return
		case <-time.After(rest):
		}
	}
}

// pollOnce runs one iteration of the state machine and returns the Worker's
// updated notion of the log's current (pointer-consistent) STH.
func pollOnce(ctx context.Context, st Store, ad Adapter, l store.Log, current *store.STH, name string) *store.STH {
	fetched, err := ad.FetchSTH(ctx, l.EndpointURL, l.PublicKey)
	if err != nil {
		if serr := st.SetLastSTHError(ctx, l.LogID, err.Error()); serr != nil {
			panic(fmt.Sprintf("%s: record last_sth_error: %v", name, serr))
		}
		klog.Warningf("%s: fetch-sth failed: %v", name, err)
		return current
	}
	if err := st.ClearLastSTHError(ctx, l.LogID); err != nil {
		panic(fmt.Sprintf("%s: clear last_sth_error: %v", name, err))
	}

	newID, err := st.InsertSTHDedup(ctx, l.LogID, store.STH{
		LogID:        l.LogID,
		TreeHash:     store.Hash(fetched.TreeHash),
		TreeSize:     fetched.TreeSize,
		STHTimestamp: fetched.Timestamp,
		ReceivedTime: fetched.ReceivedTime,
		Signature:    fetched.Signature,
	})
	if err != nil {
		if errors.Is(err, store.ErrTreeSizeTooLarge) {
			// Evidence of a misbehaving log, not a Store fault: no row was
			// written, so treat it exactly like any other fetch-sth failure.
			if serr := st.SetLastSTHError(ctx, l.LogID, err.Error()); serr != nil {
				panic(fmt.Sprintf("%s: record last_sth_error: %v", name, serr))
			}
			klog.Warningf("%s: insert sth: %v", name, err)
			return current
		}
		panic(fmt.Sprintf("%s: insert sth: %v", name, err))
	}
	newSTH := store.STH{
		ID:           newID,
		LogID:        l.LogID,
		TreeHash:     store.Hash(fetched.TreeHash),
		TreeSize:     fetched.TreeSize,
		STHTimestamp: fetched.Timestamp,
		ReceivedTime: fetched.ReceivedTime,
		Signature:    fetched.Signature,
	}

	switch {
	case current == nil:
		klog.Infof("%s: cold start at tree_size=%d", name, newSTH.TreeSize)
		if err := st.AdvanceLatestSTH(ctx, l.LogID, newSTH.ID); err != nil {
			panic(fmt.Sprintf("%s: advance (cold start): %v", name, err))
		}
		newSTH.CheckedConsistentWithLatest = true
		current = &newSTH
		runSweep(ctx, st, ad, l, *current, name)

	case newSTH.TreeSize <= current.TreeSize:
		// Tree did not grow (or this is a re-observation): the sweep alone
		// handles whatever this STH needs, including fork detection when
		// it shares current's tree_size with a different hash.
		runSweep(ctx, st, ad, l, *current, name)

	default:
		advanced, err := runAdvance(ctx, st, ad, l, *current, newSTH, name)
		if err != nil {
			panic(fmt.Sprintf("%s: advance: %v", name, err))
		}
		if advanced {
			newSTH.CheckedConsistentWithLatest = true
			current = &newSTH
			runSweep(ctx, st, ad, l, *current, name)
		}
	}

	return current
}
