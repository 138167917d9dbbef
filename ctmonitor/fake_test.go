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
	"sync"

	"github.com/ctlogwatch/monitor/ctclient"
)

type sthStep struct {
	sth *ctclient.STH
	err error
}

// fakeAdapter is a scripted Adapter double. FetchSTH pops steps off a queue
// in order; CheckConsistency and GetEntries default to trivial no-op
// success (nil segments, nil leaves) unless a test overrides the function
// fields.
type fakeAdapter struct {
	mu   sync.Mutex
	sths []sthStep

	consistency func(sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error)
	entries     func(lo, hi int64) ([]ctclient.Leaf, error)
}

func (f *fakeAdapter) FetchSTH(_ context.Context, _ string, _ []byte) (*ctclient.STH, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sths) == 0 {
		return nil, errors.New("fakeAdapter: fetch-sth queue exhausted")
	}
	step := f.sths[0]
	f.sths = f.sths[1:]
	return step.sth, step.err
}

func (f *fakeAdapter) CheckConsistency(_ context.Context, _ string, _ []byte, sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error) {
	if f.consistency != nil {
		return f.consistency(sizeA, sizeB, hashA, hashB)
	}
	return nil, nil
}

func (f *fakeAdapter) GetEntries(_ context.Context, _ string, _ []byte, lo, hi int64) ([]ctclient.Leaf, error) {
	if f.entries != nil {
		return f.entries(lo, hi)
	}
	return nil, nil
}

func hashOf(b byte) ctclient.Hash {
	var h ctclient.Hash
	h[0] = b
	return h
}
