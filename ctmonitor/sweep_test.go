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
	"testing"

	"github.com/ctlogwatch/monitor/ctclient"
	tstore "github.com/ctlogwatch/monitor/internal/testonly/store"
)

// TestRunSweep_ResolvesOutstanding covers the happy path: an older,
// not-yet-checked STH that a fresh consistency proof against latest
// verifies is flipped consistent and its error row, if any, is removed.
func TestRunSweep_ResolvesOutstanding(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	l := testLog(7)
	st.PutLog(l)

	old := insertSTH(t, ctx, st, l.LogID, 50, hashOf(0x11))
	latest := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0x22))
	if err := st.AdvanceLatestSTH(ctx, l.LogID, latest.ID); err != nil {
		t.Fatalf("AdvanceLatestSTH: %v", err)
	}
	if err := st.UpsertConsistencyCheckError(ctx, l.LogID, old.ID, latest.ID, "previously unverified"); err != nil {
		t.Fatalf("UpsertConsistencyCheckError: %v", err)
	}

	ad := &fakeAdapter{} // default: consistency always succeeds
	runSweep(ctx, st, ad, l, latest, "test")

	outstanding, err := st.OutstandingSTHs(ctx, l.LogID, latest.TreeSize)
	if err != nil {
		t.Fatalf("OutstandingSTHs: %v", err)
	}
	for _, s := range outstanding {
		if s.ID == old.ID {
			t.Fatalf("sth %d still outstanding after a successful sweep", old.ID)
		}
	}
	if errs := st.ConsistencyCheckErrors(); len(errs) != 0 {
		t.Errorf("got %d consistency check errors after a successful sweep, want 0: %+v", len(errs), errs)
	}
}

// TestRunSweep_SameSizeDifferentHashStaysUnresolved covers the fork branch
// of the sweep: two STHs that share latest's tree_size but disagree on
// tree_hash can never be resolved by a consistency proof and stay flagged.
func TestRunSweep_SameSizeDifferentHashStaysUnresolved(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	l := testLog(8)
	st.PutLog(l)

	forked := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0x33))
	latest := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0x44))
	if err := st.AdvanceLatestSTH(ctx, l.LogID, latest.ID); err != nil {
		t.Fatalf("AdvanceLatestSTH: %v", err)
	}

	ad := &fakeAdapter{}
	runSweep(ctx, st, ad, l, latest, "test")

	outstanding, err := st.OutstandingSTHs(ctx, l.LogID, latest.TreeSize)
	if err != nil {
		t.Fatalf("OutstandingSTHs: %v", err)
	}
	found := false
	for _, s := range outstanding {
		if s.ID == forked.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("sth %d no longer outstanding, want it to remain flagged as a fork", forked.ID)
	}
	errs := st.ConsistencyCheckErrors()
	if len(errs) != 1 || errs[0].FromSTHID != forked.ID {
		t.Fatalf("got consistency check errors %+v, want exactly one from sth %d", errs, forked.ID)
	}
}

// TestRunSweep_SmallerSizeConsistencyFailureKeepsError exercises the
// smaller-tree_size branch, which re-requests a proof directly against
// latest rather than trusting any chain of intermediate advances.
func TestRunSweep_SmallerSizeConsistencyFailureKeepsError(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	l := testLog(9)
	st.PutLog(l)

	old := insertSTH(t, ctx, st, l.LogID, 50, hashOf(0x55))
	latest := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0x66))
	if err := st.AdvanceLatestSTH(ctx, l.LogID, latest.ID); err != nil {
		t.Fatalf("AdvanceLatestSTH: %v", err)
	}

	ad := &fakeAdapter{consistency: func(sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error) {
		return nil, errors.New("proof does not verify")
	}}
	runSweep(ctx, st, ad, l, latest, "test")

	outstanding, _ := st.OutstandingSTHs(ctx, l.LogID, latest.TreeSize)
	found := false
	for _, s := range outstanding {
		if s.ID == old.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("sth %d no longer outstanding after a failed sweep", old.ID)
	}
	errs := st.ConsistencyCheckErrors()
	if len(errs) != 1 || errs[0].FromSTHID != old.ID {
		t.Fatalf("got consistency check errors %+v, want exactly one from sth %d", errs, old.ID)
	}
}
