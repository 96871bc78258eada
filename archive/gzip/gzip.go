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

// Package gzip implements a single-member RFC 1952 GZIP decoder (Gunzip):
// header parse (including FEXTRA/FNAME/FCOMMENT/FHCRC), a raw DEFLATE
// payload via the sibling inflate package, and the trailing CRC-32/ISIZE
// footer.
package gzip

import (
	"errors"

	"github.com/google/binpipe/bitio"
	"github.com/google/binpipe/byteio"
	"github.com/google/binpipe/crc32table"
	"github.com/google/binpipe/events"
	"github.com/google/binpipe/inflate"
)

const (
	gzipMagic0 = 0x1F
	gzipMagic1 = 0x8B
	methodDeflate = 8

	flagFTEXT    = 1 << 0
	flagFHCRC    = 1 << 1
	flagFEXTRA   = 1 << 2
	flagFNAME    = 1 << 3
	flagFCOMMENT = 1 << 4
)

// ErrBadMagic is fatal: the first two bytes are not 0x1F 0x8B.
var ErrBadMagic = errors.New("gzip: bad magic number")

// ErrUnsupportedMethod is fatal: only method 8 (DEFLATE) is defined.
var ErrUnsupportedMethod = errors.New("gzip: unsupported compression method")

// ErrCRCMismatch is returned only when Options.StrictValidation is set.
var ErrCRCMismatch = errors.New("gzip: CRC-32 mismatch")

// Options configures Gunzip.
type Options struct {
	// StrictValidation checks the decompressed CRC-32 and size against
	// the trailing footer.
	StrictValidation bool
}

// FinishInfo is the metadata attached to Gunzip's finish event.
type FinishInfo struct {
	Filename string
	// TrailingBytes is how many bytes remained after this member's
	// footer. A well-formed single-member stream leaves this at 0; a
	// nonzero count most often means a second member follows, which
	// this decoder does not parse (spec.md §6 restricts this version to
	// single-member streams) — left for the caller to re-invoke a fresh
	// Gunzip over if they choose.
	TrailingBytes int
}

// Gunzip is an event-driven, incremental GZIP decoder.
type Gunzip struct {
	events.Emitter
	OnFinish func(FinishInfo)

	opts    Options
	state   events.State
	stopped bool

	bytes        *byteio.Stream // used only until the header is parsed
	headerParsed bool
	filename     string
	dec          *inflate.Decoder
}

// New returns a Gunzip decoder ready to receive pushed bytes.
func New(opts Options) *Gunzip {
	return &Gunzip{opts: opts, state: events.NotStarted}
}

// State reports the decoder's current lifecycle state.
func (g *Gunzip) State() events.State { return g.state }

// Stop idempotently halts further processing.
func (g *Gunzip) Stop() { g.stopped = true }

// Push supplies another page of archive bytes and drives the decoder as
// far forward as currently-buffered bytes allow.
func (g *Gunzip) Push(b []byte) error {
	if g.stopped || g.state == events.Finished {
		return nil
	}
	if g.state == events.NotStarted {
		g.bytes = byteio.NewFromBytes(b)
		g.state = events.Unarchiving
		g.EmitStart()
	} else if g.headerParsed {
		g.dec.Push(b)
	} else {
		g.bytes.Push(b)
	}
	return g.run()
}

func (g *Gunzip) run() error {
	if g.stopped {
		return nil
	}
	if !g.headerParsed {
		checkpoint := g.bytes.Tee()
		if err := g.parseHeader(); err != nil {
			if err == byteio.ErrBufferOverrun {
				g.bytes = checkpoint
				g.state = events.Waiting
				return nil
			}
			return g.fail(err)
		}
		g.headerParsed = true
		g.dec = inflate.NewDecoder(g.bytes.Drain(), inflate.Options{StrictStoredLength: g.opts.StrictValidation})
		g.bytes = nil
	}

	snapshot := g.dec.Checkpoint()
	data, err := g.dec.Decode(0)
	if err != nil {
		if err == bitio.ErrBufferOverrun {
			g.dec.Restore(snapshot)
			g.state = events.Waiting
			return nil
		}
		return g.fail(err)
	}

	bits := g.dec.Bits()
	bits.Align()
	footer, err := bits.ReadBytes(8)
	if err != nil {
		if err == bitio.ErrBufferOverrun {
			g.dec.Restore(snapshot)
			g.state = events.Waiting
			return nil
		}
		return g.fail(err)
	}
	wantCRC := leUint32(footer[0:4])
	wantISize := leUint32(footer[4:8])
	if g.opts.StrictValidation {
		if got := crc32table.Checksum(data); got != wantCRC {
			return g.fail(ErrCRCMismatch)
		}
		if uint32(len(data)) != wantISize {
			return g.fail(ErrCRCMismatch)
		}
	}

	g.EmitExtract(events.ExtractedFile{Filename: g.filename, FileData: data})
	g.EmitProgress(events.Progress{
		CurrentFilename:                 g.filename,
		CurrentFileNumber:               1,
		CurrentBytesUnarchivedInFile:    int64(len(data)),
		CurrentBytesUnarchived:          int64(len(data)),
		TotalUncompressedBytesInArchive: int64(len(data)),
		TotalFilesInArchive:             1,
	})

	trailing := bits.Drain()
	g.state = events.Finished
	if g.OnFinish != nil {
		g.OnFinish(FinishInfo{Filename: g.filename, TrailingBytes: len(trailing)})
	}
	return nil
}

func (g *Gunzip) fail(err error) error {
	g.state = events.Finished
	g.EmitError(err)
	return err
}

func (g *Gunzip) parseHeader() error {
	s := g.bytes
	magic, err := s.ReadBytes(2)
	if err != nil {
		return err
	}
	if magic[0] != gzipMagic0 || magic[1] != gzipMagic1 {
		return ErrBadMagic
	}
	method, err := s.ReadBytes(1)
	if err != nil {
		return err
	}
	if method[0] != methodDeflate {
		return ErrUnsupportedMethod
	}
	flags, err := s.ReadBytes(1)
	if err != nil {
		return err
	}
	if _, err := s.ReadBytes(4); err != nil { // mtime
		return err
	}
	if _, err := s.ReadBytes(1); err != nil { // xfl
		return err
	}
	if _, err := s.ReadBytes(1); err != nil { // os
		return err
	}

	flag := flags[0]
	if flag&flagFEXTRA != 0 {
		xlen, err := s.ReadNumber(2)
		if err != nil {
			return err
		}
		if _, err := s.ReadBytes(int(xlen)); err != nil {
			return err
		}
	}
	if flag&flagFNAME != 0 {
		name, err := readCString(s)
		if err != nil {
			return err
		}
		g.filename = name
	}
	if flag&flagFCOMMENT != 0 {
		if _, err := readCString(s); err != nil {
			return err
		}
	}
	if flag&flagFHCRC != 0 {
		if _, err := s.ReadBytes(2); err != nil {
			return err
		}
	}
	return nil
}

// readCString reads bytes up to and including a trailing NUL, returning
// everything before it. It reads one byte at a time, so a short buffer
// surfaces ErrBufferOverrun and the caller rolls back to its checkpoint and
// waits for more input.
func readCString(s *byteio.Stream) (string, error) {
	var out []byte
	for {
		b, err := s.ReadBytes(1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
