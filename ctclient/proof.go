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
	"fmt"

	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

// VerifySegmentAgainstLeaves independently recomputes the hash of the
// subtree named by seg.NodeID from a slice of leaf hashes the caller
// streamed itself, and reports whether it matches seg.Hash.
//
// leaves must be the full, contiguous run of leaf hashes for
// [leavesLo, leavesLo+len(leaves)); the segment is only checkable if its
// subtree range falls entirely within that run (otherwise this returns
// ok=false, checkable=false, nil) — segments covering the older, already-trusted prefix of the tree
// cannot be rederived from newly streamed leaves and are left to the
// network-verified proof alone.
func VerifySegmentAgainstLeaves(seg ProofSegment, leavesLo int64, leaves []Hash) (ok, checkable bool, err error) {
	lo, hi := seg.NodeID.LeafRange()
	if lo < leavesLo || hi > leavesLo+int64(len(leaves)) {
		return false, false, nil
	}

	fact := compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}
	r := fact.NewEmptyRange(uint64(lo))
	for i := lo; i < hi; i++ {
		h := leaves[i-leavesLo]
		if err := r.Append(h[:], nil); err != nil {
			return false, true, fmt.Errorf("ctclient: append leaf %d to compact range: %w", i, err)
		}
	}
	got, err := r.GetRootHash(nil)
	if err != nil {
		return false, true, fmt.Errorf("ctclient: compute subtree root for node %v: %w", seg.NodeID, err)
	}

	var gotHash Hash
	copy(gotHash[:], got)
	return gotHash == seg.Hash, true, nil
}
