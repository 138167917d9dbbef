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
	"testing"
	"time"

	tstore "github.com/ctlogwatch/monitor/internal/testonly/store"
)

// TestSupervisor_ShutdownTerminatesAllWorkers covers end-to-end scenario 6:
// issuing Shutdown to a Supervisor running several Workers mid-sleep makes
// every one of them return, and Wait unblocks.
func TestSupervisor_ShutdownTerminatesAllWorkers(t *testing.T) {
	ctx := context.Background()
	st := tstore.New()
	for i := byte(1); i <= 3; i++ {
		l := testLog(i)
		l.Monitoring = true
		st.PutLog(l)
	}

	// Never returns a usable STH: each Worker's first poll fails and it goes
	// straight to sleep, which is the "mid-sleep" state the scenario
	// describes.
	ad := &fakeAdapter{}

	sup := NewSupervisor(st, ad, 50*time.Millisecond)
	if err := sup.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sup.Shutdown()

	done := make(chan struct{})
	go func() {
		sup.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not terminate within 5s of Shutdown")
	}
}
