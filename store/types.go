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

// Package store implements the durable, serializable state backing the
// monitor: logs, their observed STHs, and the evidence rows recording any
// misbehavior seen along the way.
package store

import (
	"encoding/hex"
	"time"
)

// LogID is the 32-byte identifier of a CT log, usually the SHA-256 hash of
// its public key.
type LogID [32]byte

// Hex returns the lowercase hex encoding of the log id, as used on the wire.
func (l LogID) Hex() string {
	return hex.EncodeToString(l[:])
}

// Hash is a 32-byte Merkle tree hash or leaf hash.
type Hash [32]byte

// Hex returns the lowercase hex encoding of the hash, as used on the wire.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// Log is a monitored CT log.
type Log struct {
	LogID        LogID
	EndpointURL  string
	Name         string
	PublicKey    []byte // DER
	Monitoring   bool
	LatestSTHID  *int64
	LastSTHError *string
}

// STH is a Signed Tree Head observed for a log.
type STH struct {
	ID                          int64
	LogID                       LogID
	TreeHash                    Hash
	TreeSize                    int64
	STHTimestamp                int64 // ms since epoch
	ReceivedTime                time.Time
	Signature                   []byte
	CheckedConsistentWithLatest bool
}

// ConsistencyCheckError records that two STHs from the same log have not
// (yet, or ever) been shown to be consistent.
type ConsistencyCheckError struct {
	LogID          LogID
	FromSTHID      int64
	ToSTHID        int64
	DiscoveryTime  time.Time
	LastCheckTime  time.Time
	LastCheckError string
}

// CertFetchError records a failed leaf-range fetch or verification during an
// advance attempt.
type CertFetchError struct {
	LogID        LogID
	FromTreeSize int64
	ToTreeSize   int64
	ErrorTime    time.Time
	ErrorMsg     string
}

// Certificate is a content-addressed leaf certificate.
type Certificate struct {
	Fingerprint Hash // SHA-256 of DER
	DER         []byte
}

// CertificateChain is the rest of the chain for a leaf certificate, stored
// once per distinct leaf fingerprint.
type CertificateChain struct {
	Fingerprint Hash
	ChainDER    [][]byte
}

// CertificateDNSNames are the distinct DNS SANs of a leaf certificate,
// extracted once per distinct fingerprint.
type CertificateDNSNames struct {
	Fingerprint Hash
	DNSNames    []string
}

// CertificateAppearsInLeaf associates a certificate fingerprint with the
// specific log position it was observed at.
type CertificateAppearsInLeaf struct {
	LogID       LogID
	LeafIndex   int64
	LeafHash    Hash
	Fingerprint Hash
}

// RetiredLogChangedError is reserved for a future check that flags a retired
// log whose STH pointer keeps advancing; nothing in the core writes it yet.
type RetiredLogChangedError struct {
	LogID     LogID
	STHID     int64
	NoticedAt time.Time
}

// LogSummary is the dashboard-facing projection of a Log plus its latest STH,
// used by the Read API.
type LogSummary struct {
	Log        Log
	LatestSTH  *STH
}

// Stats is the dashboard-facing counter pair.
type Stats struct {
	ActiveLogs int
	TotalLogs  int
}
