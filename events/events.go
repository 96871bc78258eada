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

// ----------------

// Package events defines the typed event records and callback-slot
// dispatcher shared by every archive and image decoder.
//
// The source this toolkit is modeled on used a DOM-style EventTarget with
// weakly-typed event names. Here, each event kind gets its own typed
// callback slot (On<Kind>) instead: callers that don't care about a given
// event kind simply never assign it, and there is no string-keyed dispatch
// to get wrong.
package events

// State is the lifecycle state of an archive decoder.
type State int

const (
	NotStarted State = iota
	Unarchiving
	Waiting
	Finished
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Unarchiving:
		return "UNARCHIVING"
	case Waiting:
		return "WAITING"
	case Finished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Progress carries the fields spec.md requires to report decode progress.
type Progress struct {
	CurrentFilename                 string
	CurrentFileNumber               int
	CurrentBytesUnarchivedInFile    int64
	CurrentBytesUnarchived          int64
	TotalUncompressedBytesInArchive int64
	TotalFilesInArchive              int
	TotalCompressedBytesRead         int64
}

// ExtractedFile is the payload of an "extract" event.
type ExtractedFile struct {
	Filename string
	FileData []byte
}

// Info is a non-fatal notice: an unsupported compression method or
// typeflag that caused a single entry to be skipped, e.g.
type Info struct {
	Message string
}

// Emitter holds one typed callback slot per event kind, shared by every
// decoder. Fields left nil are simply not called; the zero Emitter is
// therefore usable without any setup.
type Emitter struct {
	OnStart    func()
	OnProgress func(Progress)
	OnExtract  func(ExtractedFile)
	OnInfo     func(Info)
	OnError    func(error)
	onFinished bool
}

func (e *Emitter) emitStart() {
	if e.OnStart != nil {
		e.OnStart()
	}
}

// EmitStart fires the start callback. Archive decoders call this exactly
// once, on the first Push.
func (e *Emitter) EmitStart() { e.emitStart() }

// EmitProgress fires the progress callback.
func (e *Emitter) EmitProgress(p Progress) {
	if e.OnProgress != nil {
		e.OnProgress(p)
	}
}

// EmitExtract fires the extract callback.
func (e *Emitter) EmitExtract(f ExtractedFile) {
	if e.OnExtract != nil {
		e.OnExtract(f)
	}
}

// EmitInfo fires the info callback.
func (e *Emitter) EmitInfo(msg string) {
	if e.OnInfo != nil {
		e.OnInfo(Info{Message: msg})
	}
}

// EmitError fires the error callback. Per spec.md section 7, an error
// event implies the decoder has entered a terminal state.
func (e *Emitter) EmitError(err error) {
	if e.OnError != nil {
		e.OnError(err)
	}
}
