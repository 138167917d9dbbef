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
	"github.com/ctlogwatch/monitor/store"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

func testLeaves(lo, hi int64) []ctclient.Leaf {
	out := make([]ctclient.Leaf, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, ctclient.Leaf{Index: i, LeafHash: hashOf(byte(i + 1))})
	}
	return out
}

// subtreeHash independently recomputes the same root a well-behaved log
// would present for the segment covering [lo, hi), used to build the
// "proof now verifies" half of the retry scenario.
func subtreeHash(t *testing.T, leaves []ctclient.Leaf, lo, hi int64) ctclient.Hash {
	t.Helper()
	fact := compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	r := fact.NewEmptyRange(uint64(lo))
	for i := lo; i < hi; i++ {
		h := leaves[i-lo].LeafHash
		if err := r.Append(h[:], nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	root, err := r.GetRootHash(nil)
	if err != nil {
		t.Fatalf("GetRootHash: %v", err)
	}
	var out ctclient.Hash
	copy(out[:], root)
	return out
}

func hasCertFetchError(errs []store.CertFetchError, logID store.LogID, from, to int64) bool {
	for _, e := range errs {
		if e.LogID == logID && e.FromTreeSize == from && e.ToTreeSize == to {
			return true
		}
	}
	return false
}

// insertSTH seeds a not-yet-consistent STH row directly via the Store, so
// AdvanceLatestSTH/SetSTHConsistent have a real row to flip.
func insertSTH(t *testing.T, ctx context.Context, st *tstore.Store, logID store.LogID, treeSize int64, hash ctclient.Hash) store.STH {
	t.Helper()
	id, err := st.InsertSTHDedup(ctx, logID, store.STH{LogID: logID, TreeSize: treeSize, TreeHash: store.Hash(hash)})
	if err != nil {
		t.Fatalf("InsertSTHDedup: %v", err)
	}
	return store.STH{ID: id, LogID: logID, TreeSize: treeSize, TreeHash: store.Hash(hash)}
}

func TestRunAdvance_Success(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	l := testLog(4)
	st.PutLog(l)

	old := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0xAA))
	next := insertSTH(t, ctx, st, l.LogID, 110, hashOf(0xBB))

	ad := &fakeAdapter{}
	advanced, err := runAdvance(ctx, st, ad, l, old, next, "test")
	if err != nil {
		t.Fatalf("runAdvance: %v", err)
	}
	if !advanced {
		t.Fatalf("advanced = false, want true")
	}
}

// TestRunAdvance_ConsistencyProofFails covers the case where the network
// consistency proof itself does not verify: a ConsistencyCheckError is
// recorded and the pointer does not move.
func TestRunAdvance_ConsistencyProofFails(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	l := testLog(5)
	st.PutLog(l)

	old := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0xAA))
	next := insertSTH(t, ctx, st, l.LogID, 110, hashOf(0xBB))

	ad := &fakeAdapter{consistency: func(sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error) {
		return nil, errors.New("consistency proof verification failed")
	}}
	advanced, err := runAdvance(ctx, st, ad, l, old, next, "test")
	if err != nil {
		t.Fatalf("runAdvance: %v", err)
	}
	if advanced {
		t.Fatalf("advanced = true, want false")
	}
	errs := st.ConsistencyCheckErrors()
	if len(errs) != 1 || errs[0].FromSTHID != old.ID || errs[0].ToSTHID != next.ID {
		t.Fatalf("got consistency check errors %+v, want exactly one (from=%d, to=%d)", errs, old.ID, next.ID)
	}
}

// TestRunAdvance_LeafVerificationFailsThenRetrySucceeds covers end-to-end
// scenarios 4 and 5: a proof segment that the Worker cannot rederive from
// its own streamed leaves blocks the advance and records a CertFetchError;
// once the network supplies a segment hash that matches, the advance
// succeeds and the error is cleared.
func TestRunAdvance_LeafVerificationFailsThenRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	l := testLog(6)
	st.PutLog(l)

	old := insertSTH(t, ctx, st, l.LogID, 100, hashOf(0xAA))
	next := insertSTH(t, ctx, st, l.LogID, 110, hashOf(0xBB))
	leaves := testLeaves(100, 110)
	seg := ctclient.NodeID{Level: 1, Index: 50} // covers leaf range [100, 102)

	// First attempt: the log supplies a segment hash that does not match
	// what the Worker itself derives from the streamed leaves.
	adFail := &fakeAdapter{
		entries: func(lo, hi int64) ([]ctclient.Leaf, error) { return leaves, nil },
		consistency: func(sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error) {
			return []ctclient.ProofSegment{{NodeID: seg, Hash: hashOf(0xFF)}}, nil
		},
	}
	advanced, err := runAdvance(ctx, st, adFail, l, old, next, "test")
	if err != nil {
		t.Fatalf("runAdvance (first attempt): %v", err)
	}
	if advanced {
		t.Fatalf("advanced = true on first attempt, want false")
	}
	if !hasCertFetchError(st.CertFetchErrors(), l.LogID, old.TreeSize, next.TreeSize) {
		t.Fatalf("no cert fetch error recorded for range [%d, %d) after first attempt", old.TreeSize, next.TreeSize)
	}

	// Retry: the log now supplies the correct segment hash.
	want := subtreeHash(t, leaves, 100, 102)
	adRetry := &fakeAdapter{
		entries: func(lo, hi int64) ([]ctclient.Leaf, error) { return leaves, nil },
		consistency: func(sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error) {
			return []ctclient.ProofSegment{{NodeID: seg, Hash: want}}, nil
		},
	}
	advanced, err = runAdvance(ctx, st, adRetry, l, old, next, "test")
	if err != nil {
		t.Fatalf("runAdvance (retry): %v", err)
	}
	if !advanced {
		t.Fatalf("advanced = false on retry, want true")
	}
	if hasCertFetchError(st.CertFetchErrors(), l.LogID, old.TreeSize, next.TreeSize) {
		t.Errorf("cert fetch error for range [%d, %d) still present after a successful retry", old.TreeSize, next.TreeSize)
	}
}
