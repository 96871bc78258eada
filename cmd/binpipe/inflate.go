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

	"github.com/spf13/cobra"

	"github.com/google/binpipe/inflate"
)

func inflateCmd() *cobra.Command {
	var hint int
	cmd := &cobra.Command{
		Use:   "inflate <file.deflate>",
		Short: "Decompress a raw RFC 1951 DEFLATE stream, writing the result to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observeDecode("inflate")()

			encoded, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out, err := inflate.Decode(encoded, hint, inflate.Options{
				StrictStoredLength: cfg.GetBool("strict-crc"),
			})
			if err != nil {
				decodeErrors.WithLabelValues("inflate").Inc()
				return err
			}
			log.WithField("run_id", runID).WithField("bytes", len(out)).Info("inflated")
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().IntVar(&hint, "hint", 0, "expected decompressed size, used only to pre-size the output buffer")
	return cmd
}
