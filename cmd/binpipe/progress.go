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
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/google/binpipe/events"
)

// progressBar drives one mpb bar off a decoder's on_progress event. total
// is whatever the caller passes; every command passes the input file's
// length in bytes. The bar's current value is set from the event's
// CurrentBytesUnarchived, so it counts uncompressed bytes against that
// total.
type progressBar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

func newProgressBar(label string, total int64) *progressBar {
	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(total,
		mpb.PrependDecorators(decor.Name(label)),
		mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
	)
	return &progressBar{p: p, bar: bar}
}

func (pb *progressBar) onProgress(ev events.Progress) {
	pb.bar.SetCurrent(ev.CurrentBytesUnarchived)
}

func (pb *progressBar) done() {
	pb.bar.SetCurrent(pb.bar.Current())
	pb.bar.Abort(false)
	pb.p.Wait()
}
