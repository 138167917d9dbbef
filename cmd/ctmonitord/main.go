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

// The ctmonitord binary runs the CT log monitor daemon: one Worker per
// monitored log, and a read-only dashboard HTTP/JSON surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ctlogwatch/monitor/ctclient"
	"github.com/ctlogwatch/monitor/ctmonitor"
	"github.com/ctlogwatch/monitor/internal/secrets"
	"github.com/ctlogwatch/monitor/readapi"
	"github.com/ctlogwatch/monitor/store"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

var (
	httpEndpoint      = flag.String("http_endpoint", "localhost:6963", "Endpoint for the read API HTTP server (host:port).")
	databaseURLSecret = flag.String("database_url_secret_arn", "", "AWS Secrets Manager ARN holding the database DSN, used instead of the DATABASE_URL environment variable.")
	maxDBConns        = flag.Int("max_db_conns", 20, "Maximum number of open connections in the shared database pool.")
	pollInterval      durationFlag
	httpTimeout       = flag.Duration("log_http_timeout", 30*time.Second, "Per-request timeout for outbound calls to a monitored CT log.")
	rateLimitPerSec   = flag.Float64("log_rate_limit", 2.0, "Maximum outbound requests per second to monitored logs, one budget shared by all of them.")
)

func init() {
	pollInterval.d = 5 * time.Second
	flag.Var(&pollInterval, "poll_interval", "Target interval between successive polls of a single log's get-sth endpoint.")
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	ctx, cancel := context.WithCancel(context.Background())
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

	st, err := store.Open(ctx, dsn, *maxDBConns)
	if err != nil {
		klog.Exitf("store.Open: %v", err)
	}
	defer st.Close()

	ad := &ctclient.Adapter{
		HTTPClient: &http.Client{Timeout: *httpTimeout},
		Limiter:    rate.NewLimiter(rate.Limit(*rateLimitPerSec), 1),
	}

	sup := ctmonitor.NewSupervisor(st, ad, pollInterval.d)
	if err := sup.Start(ctx); err != nil {
		klog.Exitf("supervisor.Start: %v", err)
	}

	handler := readapi.NewHandler(st)
	srv := &http.Server{Addr: *httpEndpoint, Handler: otelhttp.NewHandler(handler.Mux(), "/")}

	klog.Infof("**** CT Monitor starting, read API on %s ****", *httpEndpoint)

	shutdownWG := new(sync.WaitGroup)
	shutdownWG.Add(1)
	go awaitSignal(func() {
		defer shutdownWG.Done()
		klog.Info("Shutting down...")

		sup.Shutdown()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("srv.Shutdown(): %v", err)
		}

		sup.Wait()
		klog.Info("All workers stopped")
	})

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Errorf("ListenAndServe: %v", err)
	}
	shutdownWG.Wait()
}

func awaitSignal(doneFn func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigs
	klog.Warningf("Signal received: %v", sig)
	klog.Flush()

	doneFn()
}

// durationFlag is a flag.Value wrapping time.Duration, following the
// teacher's timestampFlag pattern for structured flag inputs.
type durationFlag struct {
	d time.Duration
}

func (f *durationFlag) String() string {
	return f.d.String()
}

func (f *durationFlag) Set(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	f.d = d
	return nil
}
