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

// Package tar implements a USTAR decoder (Untar): a front-to-back loop
// over 512-byte headers with prefix+name reconstruction, typeflag
// dispatch, and buffer-underflow tee-rollback identical in shape to
// archive/zip's.
package tar

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/binpipe/byteio"
	"github.com/google/binpipe/events"
)

const blockSize = 512

// Header field offsets within one 512-byte USTAR block.
const (
	offName     = 0
	lenName     = 100
	offSize     = 124
	lenSize     = 12
	offTypeflag = 156
	offMagic    = 257
	lenMagic    = 6
	offPrefix   = 345
	lenPrefix   = 155
)

const (
	typeflagRegularAlt = '0'
	typeflagRegularOld = 0
	typeflagDirectory  = '5'
)

// ErrBadHeader is fatal: a header's size field is not valid octal ASCII.
var ErrBadHeader = errors.New("tar: malformed header size field")

// Options configures Untar. Currently empty; kept symmetric with the
// other archive decoders so a caller can switch between them uniformly.
type Options struct{}

// FinishInfo is the metadata attached to Untar's finish event. USTAR has
// no archive-level comment or manifest analog to ZIP's central directory,
// so it is presently empty; kept as a named type so adding fields later
// does not change Untar's public signature.
type FinishInfo struct{}

// Untar is an event-driven, incremental USTAR decoder.
type Untar struct {
	events.Emitter
	OnFinish func(FinishInfo)

	opts    Options
	state   events.State
	stopped bool
	bytes   *byteio.Stream

	fileNumber int
}

// New returns an Untar decoder ready to receive pushed bytes.
func New(opts Options) *Untar {
	return &Untar{opts: opts, state: events.NotStarted}
}

// State reports the decoder's current lifecycle state.
func (u *Untar) State() events.State { return u.state }

// Stop idempotently halts further processing.
func (u *Untar) Stop() { u.stopped = true }

// Push supplies another page of archive bytes and drives the decoder as
// far forward as currently-buffered bytes allow.
func (u *Untar) Push(b []byte) error {
	if u.stopped || u.state == events.Finished {
		return nil
	}
	if u.state == events.NotStarted {
		u.bytes = byteio.NewFromBytes(b)
		u.state = events.Unarchiving
		u.EmitStart()
	} else {
		u.bytes.Push(b)
	}
	return u.run()
}

func (u *Untar) run() error {
	for {
		if u.stopped {
			return nil
		}
		checkpoint := u.bytes.Tee()
		header, err := u.bytes.PeekBytes(4)
		if err == byteio.ErrBufferOverrun {
			u.bytes = checkpoint
			u.state = events.Waiting
			return nil
		}
		if err != nil {
			return u.fail(err)
		}
		if header[0] == 0 && header[1] == 0 && header[2] == 0 && header[3] == 0 {
			u.state = events.Finished
			if u.OnFinish != nil {
				u.OnFinish(FinishInfo{})
			}
			return nil
		}

		if err := u.processEntry(); err != nil {
			if err == byteio.ErrBufferOverrun {
				u.bytes = checkpoint
				u.state = events.Waiting
				return nil
			}
			return u.fail(err)
		}
	}
}

func (u *Untar) fail(err error) error {
	u.state = events.Finished
	u.EmitError(err)
	return err
}

func trimField(b []byte) string {
	if i := indexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func parseOctalSize(b []byte) (int64, error) {
	s := trimField(b)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, ErrBadHeader
	}
	return v, nil
}

// processEntry consumes one 512-byte header, its payload (if any), and the
// padding bytes up to the next 512-byte boundary.
func (u *Untar) processEntry() error {
	s := u.bytes
	header, err := s.ReadBytes(blockSize)
	if err != nil {
		return err
	}

	name := trimField(header[offName : offName+lenName])
	typeflag := header[offTypeflag]
	magic := string(header[offMagic : offMagic+lenMagic])
	size, err := parseOctalSize(header[offSize : offSize+lenSize])
	if err != nil {
		return err
	}

	filename := name
	if strings.HasPrefix(magic, "ustar") {
		if prefix := trimField(header[offPrefix : offPrefix+lenPrefix]); prefix != "" {
			filename = prefix + "/" + name
		}
	}

	switch typeflag {
	case typeflagRegularAlt, typeflagRegularOld:
		payload, err := s.ReadBytes(int(size))
		if err != nil {
			return err
		}
		if padding := paddingFor(size); padding > 0 {
			if _, err := s.ReadBytes(padding); err != nil {
				return err
			}
		}
		u.fileNumber++
		u.EmitExtract(events.ExtractedFile{Filename: filename, FileData: payload})
		u.EmitProgress(events.Progress{
			CurrentFilename:              filename,
			CurrentFileNumber:            u.fileNumber,
			CurrentBytesUnarchivedInFile: size,
			CurrentBytesUnarchived:       size,
		})

	case typeflagDirectory:
		u.EmitInfo("directory entry: " + filename)

	default:
		if _, err := s.ReadBytes(int(size)); err != nil {
			return err
		}
		if padding := paddingFor(size); padding > 0 {
			if _, err := s.ReadBytes(padding); err != nil {
				return err
			}
		}
		u.EmitInfo("skipped unsupported typeflag " + strconv.Itoa(int(typeflag)) + " for " + filename)
	}
	return nil
}

func paddingFor(size int64) int {
	rem := size % blockSize
	if rem == 0 {
		return 0
	}
	return int(blockSize - rem)
}
