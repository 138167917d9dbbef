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

// runSweep re-checks every STH still outstanding against latest: same
// tree_size means a fork (same size, different hash) or a pass (identical
// hash); smaller tree_size means a consistency proof is requested and
// verified against latest directly, independent of whatever chain of
// advances happened in between. A sweep failure is durable evidence, not a
// Store fault, so it never aborts the iteration or propagates as an error —
// callers only need the side effects.
func runSweep(ctx context.Context, st Store, ad Adapter, l store.Log, latest store.STH, name string) {
	outstanding, err := st.OutstandingSTHs(ctx, l.LogID, latest.TreeSize)
	if err != nil {
		panic(fmt.Sprintf("%s: list outstanding sths: %v", name, err))
	}

	for _, s := range outstanding {
		if s.ID == latest.ID {
			continue
		}

		var consistent bool
		var reason string
		switch {
		case s.TreeSize == latest.TreeSize:
			consistent = s.TreeHash == latest.TreeHash
			if !consistent {
				reason = "Different hash but same tree size."
			}
		default:
			_, cerr := ad.CheckConsistency(ctx, l.EndpointURL, l.PublicKey, s.TreeSize, latest.TreeSize, ctclient.Hash(s.TreeHash), ctclient.Hash(latest.TreeHash))
			consistent = cerr == nil
			if cerr != nil {
				reason = cerr.Error()
			}
		}

		if consistent {
			if err := st.SetSTHConsistent(ctx, s.ID); err != nil {
				panic(fmt.Sprintf("%s: set sth %d consistent: %v", name, s.ID, err))
			}
			if err := st.DeleteConsistencyCheckError(ctx, l.LogID, s.ID, latest.ID); err != nil {
				panic(fmt.Sprintf("%s: delete consistency check error: %v", name, err))
			}
			klog.Infof("%s: sth %d (tree_size=%d) now verified consistent with latest (tree_size=%d)", name, s.ID, s.TreeSize, latest.TreeSize)
			continue
		}

		klog.Warningf("%s: sth %d (tree_size=%d) inconsistent with latest (tree_size=%d): %s", name, s.ID, s.TreeSize, latest.TreeSize, reason)
		if err := st.UpsertConsistencyCheckError(ctx, l.LogID, s.ID, latest.ID, reason); err != nil {
			panic(fmt.Sprintf("%s: record consistency check error: %v", name, err))
		}
	}
}
