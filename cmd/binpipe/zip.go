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
)

func zipCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "zip <output.zip> <file>...",
		Short: "Pack files into a STORE-mode ZIP archive",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer observeDecode("zip-encode")()

			entry := log.WithField("run_id", runID).WithField("archive", args[0])
			z := zip.NewZip()
			for _, path := range args[1:] {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				info, err := os.Stat(path)
				if err != nil {
					return err
				}
				name := filepath.Base(path)
				if err := z.AddFile(name, data, zip.MethodStore, info.ModTime().UnixMilli()); err != nil {
					return err
				}
				entry.WithField("file", name).WithField("bytes", len(data)).Info("added")
			}
			out := z.Close(comment)
			if err := os.WriteFile(args[0], out, 0o644); err != nil {
				return err
			}
			entry.WithField("bytes", len(out)).Info("finished")
			return nil
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "archive comment recorded in the end-of-central-directory record")
	return cmd
}
