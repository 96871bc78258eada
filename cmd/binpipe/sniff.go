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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/google/binpipe/sniff"
)

func sniffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sniff <file>",
		Short: "Identify a file's MIME type from its magic-number prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			s := sniff.New()
			mime, _, err := s.SniffReader(f)
			if err != nil {
				return err
			}
			if mime == "" {
				mime = "application/octet-stream"
			}
			fmt.Fprintln(cmd.OutOrStdout(), mime)
			return nil
		},
	}
	return cmd
}

// isUSTAR reports whether b carries the USTAR magic at header offset 257.
// TAR has no entry in sniff's magic-number table (its header has no fixed
// leading signature), so dispatch falls back to this offset check, same as
// the original bitjs harness's TAR detection.
func isUSTAR(b []byte) bool {
	const off = 257
	return len(b) >= off+5 && string(b[off:off+5]) == "ustar"
}

func sniffDispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sniff-dispatch <file>",
		Short: "Sniff a file and hand it to the matching decoder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			s := sniff.New()
			mime, _ := s.Sniff(data)

			entry := log.WithField("run_id", runID).WithField("file", args[0])

			var target *cobra.Command
			switch {
			case mime == "application/zip":
				target = unzipCmd()
			case mime == "application/gzip":
				target = gunzipCmd()
			case isUSTAR(data) || strings.EqualFold(filepath.Ext(args[0]), ".tar"):
				target = untarCmd()
			default:
				entry.WithField("mime", mime).Warn("no decoder for this file")
				fmt.Fprintf(cmd.OutOrStdout(), "no decoder for mime %q\n", mime)
				return nil
			}

			entry.WithField("dispatched_to", target.Name()).Info("sniff-dispatch")
			target.SetOut(cmd.OutOrStdout())
			return target.RunE(target, args)
		},
	}
	return cmd
}
