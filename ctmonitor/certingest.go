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

// ingestLeaf parses leaf's certificate chain and records it in st. A parse
// failure is returned to the caller, which decides whether and how to record
// it; it never panics or logs beyond a warning, since a single malformed
// leaf is expected to happen occasionally and must not take down the
// Worker. A Store error while recording the certificate is a Store fault and
// panics, like every other Store fault in the Worker.
func ingestLeaf(ctx context.Context, st Store, logID store.LogID, leaf ctclient.Leaf, name string) error {
	cert, chain, err := leaf.VerifyAndGetX509Chain()
	if err != nil {
		klog.Warningf("%s: leaf %d: %v", name, leaf.Index, err)
		return fmt.Errorf("parse leaf %d: %w", leaf.Index, err)
	}

	fp := ctclient.Fingerprint(cert)
	chainDER := make([][]byte, len(chain))
	for i, c := range chain {
		chainDER[i] = c.Raw
	}

	if err := st.IngestCertificate(ctx, logID, leaf.Index, store.Hash(leaf.LeafHash), store.Hash(fp), cert.Raw, chainDER, cert.DNSNames); err != nil {
		panic(fmt.Sprintf("%s: ingest leaf %d: %v", name, leaf.Index, err))
	}
	return nil
}
