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
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg   = viper.New()
	runID = uuid.New().String()
	log   = logrus.New()
)

// rootCmd builds the command tree. Every leaf command reads its flags
// back out of cfg rather than off the cobra.Command directly, so a
// config file (bound via --config) can supply the same settings.
func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "binpipe",
		Short:         "Decode and encode the archive and image formats this module implements",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if cfg.GetBool("verbose") {
				log.SetLevel(logrus.DebugLevel)
			}
			log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		},
	}

	pf := root.PersistentFlags()
	pf.Bool("strict-crc", false, "fail on CRC-32/checksum mismatches instead of ignoring them")
	pf.String("out-dir", ".", "directory extracted files are written to")
	pf.Bool("verbose", false, "enable debug-level logging")
	pf.Bool("progress", false, "render an mpb progress bar driven by on_progress events")
	pf.String("config", "", "optional config file (viper-compatible: yaml, json, toml)")
	cfg.BindPFlags(pf)

	cobra.OnInitialize(func() {
		if path := cfg.GetString("config"); path != "" {
			cfg.SetConfigFile(path)
			if err := cfg.ReadInConfig(); err != nil {
				log.WithError(err).WithField("run_id", runID).Warn("could not read config file")
			}
		}
	})

	root.AddCommand(
		unzipCmd(),
		untarCmd(),
		gunzipCmd(),
		zipCmd(),
		inflateCmd(),
		sniffCmd(),
		sniffDispatchCmd(),
		serveCmd(),
	)
	return root
}
