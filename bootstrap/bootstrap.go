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

// Package bootstrap populates the ctlogs table from Google's CT log list,
// a one-shot collaborator entirely decoupled from the monitor daemon.
package bootstrap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ctlogwatch/monitor/store"
	"k8s.io/klog/v2"
)

// GoogleLogListURL is the default source of truth for known CT logs.
const GoogleLogListURL = "https://www.gstatic.com/ct/log_list/v3/all_logs_list.json"

// logList mirrors the subset of Google's all_logs_list.json schema this
// package depends on.
type logList struct {
	Operators []struct {
		Logs []struct {
			Description string `json:"description"`
			LogID       string `json:"log_id"` // base64
			Key         string `json:"key"`     // base64 DER SPKI
			URL         string `json:"url"`
			State       map[string]json.RawMessage `json:"state"`
		} `json:"logs"`
	} `json:"operators"`
}

// monitoredStates maps the Google log-list states this package recognizes to
// their monitoring flag: retired and rejected logs are recorded but flagged
// monitoring=false, and a log in any state not listed here is skipped.
var monitoredStates = map[string]bool{
	"pending":   true,
	"qualified": true,
	"usable":    true,
	"readonly":  true,
	"retired":   false,
	"rejected":  false,
}

// Store is the subset of *store.Store bootstrap needs.
type Store interface {
	InsertLog(ctx context.Context, l store.Log) error
}

// Run fetches the log list from url (GoogleLogListURL if empty) and upserts
// every log it names into st, skipping logs whose state is not recognized or
// whose log_id or key is malformed. A public-key mismatch against an existing
// row is refused (store.ErrPublicKeyChanged) rather than silently
// overwritten; Run stops at the first such conflict so an operator can
// investigate before any further row is touched.
func Run(ctx context.Context, httpClient *http.Client, st Store, url string) error {
	if url == "" {
		url = GoogleLogListURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ll, err := fetchLogList(ctx, httpClient, url)
	if err != nil {
		return fmt.Errorf("bootstrap: fetch log list: %w", err)
	}

	var count, skipped int
	for _, op := range ll.Operators {
		for _, log := range op.Logs {
			l, ok, err := toLog(log.LogID, log.Key, log.URL, log.Description, log.State)
			if err != nil {
				klog.Warningf("bootstrap: skipping log %q: %v", log.Description, err)
				skipped++
				continue
			}
			if !ok {
				skipped++
				continue
			}
			if err := st.InsertLog(ctx, l); err != nil {
				return fmt.Errorf("bootstrap: insert log %q (%s): %w", log.Description, l.LogID.Hex(), err)
			}
			count++
		}
	}
	klog.Infof("bootstrap: upserted %d logs, skipped %d (unrecognized state or malformed entry)", count, skipped)
	return nil
}

func toLog(logIDB64, keyB64, url, name string, state map[string]json.RawMessage) (store.Log, bool, error) {
	idRaw, err := base64.StdEncoding.DecodeString(logIDB64)
	if err != nil || len(idRaw) != 32 {
		return store.Log{}, false, fmt.Errorf("malformed log_id %q", logIDB64)
	}
	keyRaw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return store.Log{}, false, fmt.Errorf("malformed key %q", keyB64)
	}

	var stateName string
	for k := range state {
		stateName = k
		break
	}
	monitoring, known := monitoredStates[stateName]
	if !known {
		return store.Log{}, false, nil
	}

	var logID store.LogID
	copy(logID[:], idRaw)
	return store.Log{
		LogID:       logID,
		EndpointURL: url,
		Name:        name,
		PublicKey:   keyRaw,
		Monitoring:  monitoring,
	}, true, nil
}

func fetchLogList(ctx context.Context, httpClient *http.Client, url string) (*logList, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var ll logList
	if err := json.NewDecoder(resp.Body).Decode(&ll); err != nil {
		return nil, fmt.Errorf("decode log list: %w", err)
	}
	return &ll, nil
}
