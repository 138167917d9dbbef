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

package ctclient

import (
	"testing"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

func leafHashes(n int) []Hash {
	hasher := rfc6962.DefaultHasher
	out := make([]Hash, n)
	for i := range out {
		out[i] = Hash(hasher.HashLeaf([]byte{byte(i)}))
	}
	return out
}

func TestNodeIDLeafRange(t *testing.T) {
	for _, tc := range []struct {
		desc     string
		id       NodeID
		wantLo   int64
		wantHi   int64
	}{
		{desc: "leaf", id: NodeID{Level: 0, Index: 5}, wantLo: 5, wantHi: 6},
		{desc: "level-1", id: NodeID{Level: 1, Index: 2}, wantLo: 4, wantHi: 6},
		{desc: "level-3", id: NodeID{Level: 3, Index: 1}, wantLo: 8, wantHi: 16},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			lo, hi := tc.id.LeafRange()
			if lo != tc.wantLo || hi != tc.wantHi {
				t.Errorf("LeafRange() = (%d, %d), want (%d, %d)", lo, hi, tc.wantLo, tc.wantHi)
			}
		})
	}
}

func TestVerifySegmentAgainstLeaves(t *testing.T) {
	leaves := leafHashes(8)

	fact := compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	r := fact.NewEmptyRange(0)
	for _, h := range leaves[:4] {
		if err := r.Append(h[:], nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	rootOf4, err := r.GetRootHash(nil)
	if err != nil {
		t.Fatalf("GetRootHash: %v", err)
	}
	var wantHash Hash
	copy(wantHash[:], rootOf4)

	t.Run("matching-segment-is-checkable-and-ok", func(t *testing.T) {
		seg := ProofSegment{NodeID: NodeID{Level: 2, Index: 0}, Hash: wantHash}
		ok, checkable, err := VerifySegmentAgainstLeaves(seg, 0, leaves[:4])
		if err != nil {
			t.Fatalf("VerifySegmentAgainstLeaves: %v", err)
		}
		if !checkable || !ok {
			t.Errorf("got (ok=%v, checkable=%v), want (true, true)", ok, checkable)
		}
	})

	t.Run("wrong-hash-is-checkable-and-not-ok", func(t *testing.T) {
		bad := wantHash
		bad[0] ^= 0xFF
		seg := ProofSegment{NodeID: NodeID{Level: 2, Index: 0}, Hash: bad}
		ok, checkable, err := VerifySegmentAgainstLeaves(seg, 0, leaves[:4])
		if err != nil {
			t.Fatalf("VerifySegmentAgainstLeaves: %v", err)
		}
		if !checkable || ok {
			t.Errorf("got (ok=%v, checkable=%v), want (false, true)", ok, checkable)
		}
	})

	t.Run("segment-outside-streamed-range-is-not-checkable", func(t *testing.T) {
		seg := ProofSegment{NodeID: NodeID{Level: 0, Index: 6}, Hash: wantHash}
		_, checkable, err := VerifySegmentAgainstLeaves(seg, 4, leaves[4:8])
		if err != nil {
			t.Fatalf("VerifySegmentAgainstLeaves: %v", err)
		}
		if !checkable {
			t.Errorf("got checkable=false, want true for segment fully inside range")
		}

		seg2 := ProofSegment{NodeID: NodeID{Level: 2, Index: 0}, Hash: wantHash}
		_, checkable2, err := VerifySegmentAgainstLeaves(seg2, 4, leaves[4:8])
		if err != nil {
			t.Fatalf("VerifySegmentAgainstLeaves: %v", err)
		}
		if checkable2 {
			t.Errorf("got checkable=true, want false for segment covering [0,4) when only [4,8) was streamed")
		}
	})
}
