// Copyright 2019 The Wuffs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	decodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "binpipe_decode_duration_seconds",
		Help: "Wall-clock time spent in one decode run, by format.",
	}, []string{"format"})

	filesExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binpipe_files_extracted_total",
		Help: "Number of files emitted via an OnExtract event, by format.",
	}, []string{"format"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "binpipe_decode_errors_total",
		Help: "Number of decode runs that ended in OnError, by format.",
	}, []string{"format"})
)

// observeDecode times a decode run and records its duration. defer
// observeDecode(format)() at the top of a command's run function.
func observeDecode(format string) func() {
	start := time.Now()
	return func() {
		decodeDuration.WithLabelValues(format).Observe(time.Since(start).Seconds())
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose decode-duration and file-count counters on a /metrics debug endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.WithField("run_id", runID).WithField("addr", addr).Info("serving /metrics")
			return http.ListenAndServe(addr, mux)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9400", "address to serve /metrics on")
	return cmd
}
