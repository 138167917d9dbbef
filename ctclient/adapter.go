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
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/certificate-transparency-go/client"
	"github.com/google/certificate-transparency-go/jsonclient"
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
	"golang.org/x/time/rate"
)

// maxEntriesPerPage bounds a single get-entries call; logs reject or cap
// larger ranges. Grounded on the retrieval pack's VCT consistency monitor,
// which names the same constant for the same reason.
const maxEntriesPerPage = 1000

// Adapter is the stateless CT Protocol Adapter. A zero Adapter is usable,
// but callers should set HTTPClient/Limiter; the zero values give an
// unbounded, default-timeout client, which is unsuitable for polite polling
// of a large log fleet.
type Adapter struct {
	// HTTPClient is used for every outbound call. It should carry its own
	// timeout since the core places no per-operation deadline of its own.
	HTTPClient *http.Client
	// Limiter paces every outbound request made through this Adapter; nil
	// means unthrottled. It is not keyed by log: Workers sharing one Adapter
	// share one budget across all their logs.
	Limiter *rate.Limiter
}

func (a *Adapter) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return http.DefaultClient
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.Limiter == nil {
		return nil
	}
	return a.Limiter.Wait(ctx)
}

func (a *Adapter) logClient(endpoint string, pubKeyDER []byte) (*client.LogClient, error) {
	opts := jsonclient.Options{PublicKeyDER: pubKeyDER}
	lc, err := client.New(endpoint, a.httpClient(), opts)
	if err != nil {
		return nil, fmt.Errorf("ctclient: new log client for %s: %w", endpoint, err)
	}
	return lc, nil
}

// FetchSTH fetches the current STH and verifies its signature against
// pubKeyDER. Does not check freshness against any previously observed STH —
// that comparison belongs to the caller.
func (a *Adapter) FetchSTH(ctx context.Context, endpoint string, pubKeyDER []byte) (*STH, error) {
	if err := a.wait(ctx); err != nil {
		return nil, fmt.Errorf("ctclient: rate limit: %w", err)
	}
	lc, err := a.logClient(endpoint, pubKeyDER)
	if err != nil {
		return nil, err
	}
	sth, err := lc.GetSTH(ctx)
	if err != nil {
		return nil, fmt.Errorf("ctclient: get-sth %s: %w", endpoint, err)
	}
	if sth.TreeSize > math.MaxInt64 {
		return nil, fmt.Errorf("ctclient: get-sth %s: tree_size %d exceeds math.MaxInt64", endpoint, sth.TreeSize)
	}
	return &STH{
		TreeSize:     int64(sth.TreeSize),
		TreeHash:     Hash(sth.SHA256RootHash),
		Timestamp:    int64(sth.Timestamp),
		Signature:    sth.TreeHeadSignature.Signature,
		ReceivedTime: time.Now().UTC(),
	}, nil
}

// CheckConsistency retrieves and verifies the Merkle consistency proof
// between a tree of size sizeA (root hashA) and size sizeB (root hashB),
// sizeA <= sizeB. Returns the decomposition of proof segments, each tagged
// with the subtree it covers, so the Worker can later cross-check segments
// covering the newly grown range against leaves it streamed itself.
func (a *Adapter) CheckConsistency(ctx context.Context, endpoint string, pubKeyDER []byte, sizeA, sizeB int64, hashA, hashB Hash) ([]ProofSegment, error) {
	if sizeA == 0 {
		// Any tree is consistent with a tree of size zero, and a zero-sized
		// proof request is rejected by well-behaved logs; nothing to fetch
		// or verify.
		return nil, nil
	}
	if err := a.wait(ctx); err != nil {
		return nil, fmt.Errorf("ctclient: rate limit: %w", err)
	}
	lc, err := a.logClient(endpoint, pubKeyDER)
	if err != nil {
		return nil, err
	}

	proofHashes, err := lc.GetSTHConsistency(ctx, uint64(sizeA), uint64(sizeB))
	if err != nil {
		return nil, fmt.Errorf("ctclient: get-sth-consistency %s [%d,%d): %w", endpoint, sizeA, sizeB, err)
	}

	if err := proof.VerifyConsistency(rfc6962.DefaultHasher, uint64(sizeA), uint64(sizeB), proofHashes, hashA[:], hashB[:]); err != nil {
		return nil, fmt.Errorf("ctclient: verify consistency proof %s [%d,%d): %w", endpoint, sizeA, sizeB, err)
	}

	nodes, err := proof.Consistency(uint64(sizeA), uint64(sizeB))
	if err != nil {
		return nil, fmt.Errorf("ctclient: decompose consistency proof [%d,%d): %w", sizeA, sizeB, err)
	}
	if len(nodes.IDs) != len(proofHashes) {
		return nil, fmt.Errorf("ctclient: consistency proof %s [%d,%d) has %d hashes, want %d", endpoint, sizeA, sizeB, len(proofHashes), len(nodes.IDs))
	}

	segs := make([]ProofSegment, len(nodes.IDs))
	for i, id := range nodes.IDs {
		var h Hash
		copy(h[:], proofHashes[i])
		segs[i] = ProofSegment{NodeID: NodeID{Level: id.Level, Index: id.Index}, Hash: h}
	}
	return segs, nil
}

// GetEntries streams leaves [lo, hi) in order, in pages of at most
// maxEntriesPerPage.
func (a *Adapter) GetEntries(ctx context.Context, endpoint string, pubKeyDER []byte, lo, hi int64) ([]Leaf, error) {
	lc, err := a.logClient(endpoint, pubKeyDER)
	if err != nil {
		return nil, err
	}

	leaves := make([]Leaf, 0, hi-lo)
	for start := lo; start < hi; {
		if err := a.wait(ctx); err != nil {
			return nil, fmt.Errorf("ctclient: rate limit: %w", err)
		}
		end := start + maxEntriesPerPage
		if end > hi {
			end = hi
		}
		entries, err := lc.GetEntries(ctx, start, end-1)
		if err != nil {
			return nil, fmt.Errorf("ctclient: get-entries %s [%d,%d): %w", endpoint, start, end, err)
		}
		for i, entry := range entries {
			leafHash, err := merkleLeafHash(entry)
			if err != nil {
				return nil, fmt.Errorf("ctclient: leaf hash at index %d: %w", start+int64(i), err)
			}
			leaves = append(leaves, Leaf{Index: start + int64(i), LeafHash: leafHash, entry: entry})
		}
		if len(entries) == 0 {
			// A well-behaved log never returns an empty page inside a
			// range it previously committed to via its STH; treat it as a
			// fetch error rather than spinning.
			return nil, fmt.Errorf("ctclient: get-entries %s [%d,%d): empty page", endpoint, start, end)
		}
		start += int64(len(entries))
	}
	return leaves, nil
}
