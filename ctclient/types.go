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

// Package ctclient is the stateless façade over the CT wire protocol: fetch
// and verify an STH, fetch and verify a consistency proof, and stream leaf
// entries with their parsed X.509 chains. It retains no per-call state;
// concurrent calls from distinct Workers are independent.
package ctclient

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/google/certificate-transparency-go/ct"
	"github.com/google/certificate-transparency-go/tls"
	"github.com/google/certificate-transparency-go/x509"
	"github.com/transparency-dev/merkle/rfc6962"
)

// Hash is a 32-byte Merkle tree or leaf hash.
type Hash [32]byte

// STH is a fetched and signature-verified Signed Tree Head.
type STH struct {
	TreeSize     int64
	TreeHash     Hash
	Timestamp    int64 // ms since epoch
	Signature    []byte
	ReceivedTime time.Time
}

// NodeID names a Merkle subtree by level and index, mirroring
// transparency-dev/merkle/compact.NodeID without exposing that package's
// type in this façade's API.
type NodeID struct {
	Level uint64
	Index uint64
}

// LeafRange returns the half-open range of leaf indices [lo, hi) covered by
// the subtree this NodeID names.
func (n NodeID) LeafRange() (lo, hi int64) {
	width := int64(1) << n.Level
	lo = int64(n.Index) * width
	hi = lo + width
	return lo, hi
}

// ProofSegment pairs a hash from a consistency proof with the subtree it
// covers, so a caller can independently recompute and cross-check any
// segment whose leaves it has streamed itself.
type ProofSegment struct {
	NodeID NodeID
	Hash   Hash
}

// Leaf is one streamed log entry: its RFC 6962 Merkle leaf hash, its
// wire-format entry type, and enough of the original bytes to parse the
// X.509 chain on demand.
type Leaf struct {
	Index    int64
	LeafHash Hash
	entry    ct.LogEntry
}

// VerifyAndGetX509Chain returns the leaf certificate and the rest of the
// chain as parsed by the CT-aware x509 fork, which tolerates CT-specific
// extensions (notably the precertificate poison) that trip a standard
// library parse. Returns a structural error if the entry cannot be parsed.
func (l Leaf) VerifyAndGetX509Chain() (leaf *x509.Certificate, chain []*x509.Certificate, err error) {
	switch l.entry.Leaf.TimestampedEntry.EntryType {
	case ct.X509LogEntryType:
		if l.entry.X509Cert == nil {
			return nil, nil, fmt.Errorf("ctclient: leaf %d: entry type X509 but no parsed certificate", l.Index)
		}
		leaf = l.entry.X509Cert
	case ct.PrecertLogEntryType:
		if l.entry.Precert == nil || l.entry.Precert.TBSCertificate == nil {
			return nil, nil, fmt.Errorf("ctclient: leaf %d: entry type precert but no parsed TBS certificate", l.Index)
		}
		leaf = l.entry.Precert.TBSCertificate
	default:
		return nil, nil, fmt.Errorf("ctclient: leaf %d: unknown entry type %v", l.Index, l.entry.Leaf.TimestampedEntry.EntryType)
	}

	chain = make([]*x509.Certificate, 0, len(l.entry.Chain))
	for i, asn1Cert := range l.entry.Chain {
		cert, err := x509.ParseCertificate(asn1Cert.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("ctclient: leaf %d: parse chain certificate %d: %w", l.Index, i, err)
		}
		chain = append(chain, cert)
	}
	return leaf, chain, nil
}

// Fingerprint returns the SHA-256 fingerprint of the leaf certificate's DER,
// the content-address used by the Store's certificate tables.
func Fingerprint(leaf *x509.Certificate) Hash {
	return sha256.Sum256(leaf.Raw)
}

// merkleLeafHash computes the RFC 6962 Merkle leaf hash of entry, the value
// accumulated while streaming leaves and compared against proof segments.
func merkleLeafHash(entry ct.LogEntry) (Hash, error) {
	leafBytes, err := tls.Marshal(entry.Leaf)
	if err != nil {
		return Hash{}, fmt.Errorf("ctclient: marshal leaf: %w", err)
	}
	return Hash(rfc6962.DefaultHasher.HashLeaf(leafBytes)), nil
}
