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

	"github.com/spf13/cobra"

	"github.com/google/binpipe/archive/zip"
	"github.com/google/binpipe/events"
)

func unzipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unzip <archive.zip>",
		Short: "Extract a ZIP archive's entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observeDecode("zip")()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			outDir := cfg.GetString("out-dir")
			entry := log.WithField("run_id", runID).WithField("archive", args[0])

			var bar *progressBar
			if cfg.GetBool("progress") {
				bar = newProgressBar(args[0], int64(len(data)))
				defer bar.done()
			}

			u := zip.New(zip.Options{StrictValidation: cfg.GetBool("strict-crc")})
			if bar != nil {
				u.OnProgress = bar.onProgress
			}
			u.OnExtract = func(f events.ExtractedFile) {
				path := filepath.Join(outDir, f.Filename)
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					entry.WithError(err).Error("could not create output directory")
					return
				}
				if err := os.WriteFile(path, f.FileData, 0o644); err != nil {
					entry.WithError(err).Error("could not write extracted file")
					return
				}
				filesExtracted.WithLabelValues("zip").Inc()
				entry.WithField("file", f.Filename).WithField("bytes", len(f.FileData)).Info("extracted")
			}
			u.OnInfo = func(i events.Info) { entry.Warn(i.Message) }
			var runErr error
			u.OnError = func(err error) {
				decodeErrors.WithLabelValues("zip").Inc()
				runErr = err
			}
			u.OnFinish = func(fi zip.FinishInfo) {
				entry.WithField("entries", len(fi.Entries)).Info("finished")
			}

			if err := u.Push(data); err != nil {
				return err
			}
			return runErr
		},
	}
	return cmd
}
