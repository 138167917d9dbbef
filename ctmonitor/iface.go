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

// Package ctmonitor implements the Log Worker state machine — poll, classify,
// advance, sweep — and the Supervisor that owns the worker set.
package ctmonitor

import (
	"context"

	"github.com/ctlogwatch/monitor/ctclient"
	"github.com/ctlogwatch/monitor/store"
)

// Store is the subset of *store.Store a Worker needs. Defined here, in the
// consumer package, so tests can supply an in-memory double
// (internal/testonly/store) without depending on a real database.
type Store interface {
	GetLog(ctx context.Context, logID store.LogID) (store.Log, error)
	ListActiveLogs(ctx context.Context) ([]store.Log, error)
	GetSTH(ctx context.Context, logID store.LogID, id int64) (store.STH, error)
	SetLastSTHError(ctx context.Context, logID store.LogID, reason string) error
	ClearLastSTHError(ctx context.Context, logID store.LogID) error
	InsertSTHDedup(ctx context.Context, logID store.LogID, sth store.STH) (int64, error)
	AdvanceLatestSTH(ctx context.Context, logID store.LogID, newSTHID int64) error
	SetSTHConsistent(ctx context.Context, sthID int64) error
	OutstandingSTHs(ctx context.Context, logID store.LogID, latestTreeSize int64) ([]store.STH, error)
	UpsertConsistencyCheckError(ctx context.Context, logID store.LogID, fromSTHID, toSTHID int64, reason string) error
	DeleteConsistencyCheckError(ctx context.Context, logID store.LogID, fromSTHID, toSTHID int64) error
	UpsertCertFetchError(ctx context.Context, logID store.LogID, fromTreeSize, toTreeSize int64, reason string) error
	DeleteCertFetchErrors(ctx context.Context, logID store.LogID, fromTreeSize, toTreeSize int64) error
	IngestCertificate(ctx context.Context, logID store.LogID, leafIndex int64, leafHash, fingerprint store.Hash, leafDER []byte, chainDER [][]byte, dnsNames []string) error
}

// Adapter is the subset of *ctclient.Adapter a Worker needs.
type Adapter interface {
	FetchSTH(ctx context.Context, endpoint string, pubKeyDER []byte) (*ctclient.STH, error)
	CheckConsistency(ctx context.Context, endpoint string, pubKeyDER []byte, sizeA, sizeB int64, hashA, hashB ctclient.Hash) ([]ctclient.ProofSegment, error)
	GetEntries(ctx context.Context, endpoint string, pubKeyDER []byte, lo, hi int64) ([]ctclient.Leaf, error)
}
