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
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/google/binpipe/archive/gzip"
	"github.com/google/binpipe/events"
)

func gunzipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gunzip <file.gz>",
		Short: "Decompress a single-member GZIP file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observeDecode("gzip")()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			entry := log.WithField("run_id", runID).WithField("archive", args[0])

			var bar *progressBar
			if cfg.GetBool("progress") {
				bar = newProgressBar(args[0], int64(len(data)))
				defer bar.done()
			}

			var payload []byte
			g := gzip.New(gzip.Options{StrictValidation: cfg.GetBool("strict-crc")})
			if bar != nil {
				g.OnProgress = bar.onProgress
			}
			g.OnExtract = func(f events.ExtractedFile) { payload = f.FileData }
			g.OnInfo = func(i events.Info) { entry.Warn(i.Message) }
			var runErr error
			g.OnError = func(err error) {
				decodeErrors.WithLabelValues("gzip").Inc()
				runErr = err
			}
			var finishInfo gzip.FinishInfo
			g.OnFinish = func(fi gzip.FinishInfo) { finishInfo = fi }

			if err := g.Push(data); err != nil {
				return err
			}
			if runErr != nil {
				return runErr
			}

			name := finishInfo.Filename
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), ".gz")
			}
			outPath := filepath.Join(cfg.GetString("out-dir"), name)
			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(outPath, payload, 0o644); err != nil {
				return err
			}
			filesExtracted.WithLabelValues("gzip").Inc()
			entry.WithField("file", outPath).WithField("bytes", len(payload)).Info("finished")
			return nil
		},
	}
	return cmd
}
