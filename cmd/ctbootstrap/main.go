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

// The ctbootstrap binary populates the ctlogs table from a CT log list,
// a one-shot operation entirely decoupled from the ctmonitord daemon.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/ctlogwatch/monitor/bootstrap"
	"github.com/ctlogwatch/monitor/internal/secrets"
	"github.com/ctlogwatch/monitor/store"
	"k8s.io/klog/v2"
)

var (
	databaseURLSecret = flag.String("database_url_secret_arn", "", "AWS Secrets Manager ARN holding the database DSN, used instead of the DATABASE_URL environment variable.")
	logListURL        = flag.String("log_list_url", bootstrap.GoogleLogListURL, "URL of the CT log list JSON to bootstrap from.")
	timeout           = flag.Duration("timeout", 30*time.Second, "Overall deadline for the fetch-and-populate run.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	dsn, ok := os.LookupEnv("DATABASE_URL")
	if *databaseURLSecret != "" {
		resolved, err := secrets.ResolveDatabaseURL(ctx, *databaseURLSecret)
		if err != nil {
			klog.Exitf("Resolving --database_url_secret_arn: %v", err)
		}
		dsn, ok = resolved, true
	}
	if !ok || dsn == "" {
		klog.Exit("DATABASE_URL must be set (or --database_url_secret_arn given)")
	}

	st, err := store.Open(ctx, dsn, 4)
	if err != nil {
		klog.Exitf("store.Open: %v", err)
	}
	defer st.Close()

	if err := bootstrap.Run(ctx, nil, st, *logListURL); err != nil {
		klog.Exitf("bootstrap.Run: %v", err)
	}
	klog.Info("ctbootstrap: done")
}
