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

	"github.com/ctlogwatch/monitor/ctclient"
	"github.com/ctlogwatch/monitor/store"
	"k8s.io/klog/v2"
)

// runAdvance attempts to move the log's pointer from old to next. It returns
// (true, nil) only if the next STH is fully verified consistent with old and
// every newly grown leaf was streamed and checked; any other outcome leaves
// the pointer untouched and records durable evidence of why.
//
// A non-nil error here is always a Store fault (unexpected database error),
// never a CT protocol or verification failure — those are recorded as
// evidence rows and signalled through the bool return instead.
func runAdvance(ctx context.Context, st Store, ad Adapter, l store.Log, old, next store.STH, name string) (advanced bool, err error) {
	segs, cerr := ad.CheckConsistency(ctx, l.EndpointURL, l.PublicKey, old.TreeSize, next.TreeSize, ctclient.Hash(old.TreeHash), ctclient.Hash(next.TreeHash))
	if cerr != nil {
		klog.Warningf("%s: consistency proof [%d,%d) failed: %v", name, old.TreeSize, next.TreeSize, cerr)
		if err := st.UpsertConsistencyCheckError(ctx, l.LogID, old.ID, next.ID, cerr.Error()); err != nil {
			return false, fmt.Errorf("record consistency check error: %w", err)
		}
		return false, nil
	}

	leaves, gerr := ad.GetEntries(ctx, l.EndpointURL, l.PublicKey, old.TreeSize, next.TreeSize)
	if gerr != nil {
		klog.Warningf("%s: get-entries [%d,%d) failed: %v", name, old.TreeSize, next.TreeSize, gerr)
		if err := st.UpsertCertFetchError(ctx, l.LogID, old.TreeSize, next.TreeSize, gerr.Error()); err != nil {
			return false, fmt.Errorf("record cert fetch error: %w", err)
		}
		return false, nil
	}

	leafHashes := make([]ctclient.Hash, len(leaves))
	for i, leaf := range leaves {
		leafHashes[i] = leaf.LeafHash
		if err := ingestLeaf(ctx, st, l.LogID, leaf, name); err != nil {
			// A per-leaf ingest failure never aborts the advance: the proof
			// verification below is what guarantees the tree itself is
			// sound, and a single unparsable leaf is recorded on its own
			// narrow range rather than blocking every other leaf behind it.
			if rerr := st.UpsertCertFetchError(ctx, l.LogID, leaf.Index, leaf.Index+1, err.Error()); rerr != nil {
				return false, fmt.Errorf("record per-leaf cert fetch error: %w", rerr)
			}
		}
	}

	for _, seg := range segs {
		ok, checkable, verr := ctclient.VerifySegmentAgainstLeaves(seg, old.TreeSize, leafHashes)
		if verr != nil {
			return false, fmt.Errorf("verify proof segment %v: %w", seg.NodeID, verr)
		}
		if checkable && !ok {
			msg := fmt.Sprintf("proof segment %v recomputed from streamed leaves does not match the network-supplied hash", seg.NodeID)
			klog.Warningf("%s: %s", name, msg)
			if err := st.UpsertCertFetchError(ctx, l.LogID, old.TreeSize, next.TreeSize, msg); err != nil {
				return false, fmt.Errorf("record cert fetch error: %w", err)
			}
			return false, nil
		}
	}

	if err := st.AdvanceLatestSTH(ctx, l.LogID, next.ID); err != nil {
		return false, fmt.Errorf("advance latest sth: %w", err)
	}
	if err := st.DeleteCertFetchErrors(ctx, l.LogID, old.TreeSize, next.TreeSize); err != nil {
		return false, fmt.Errorf("delete cert fetch errors: %w", err)
	}
	if err := st.DeleteConsistencyCheckError(ctx, l.LogID, old.ID, next.ID); err != nil {
		return false, fmt.Errorf("delete consistency check error: %w", err)
	}
	klog.Infof("%s: advanced tree_size %d -> %d", name, old.TreeSize, next.TreeSize)
	return true, nil
}
