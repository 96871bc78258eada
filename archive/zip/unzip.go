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

package zip

import (
	"errors"
	"fmt"

	"github.com/google/binpipe/byteio"
	"github.com/google/binpipe/crc32table"
	"github.com/google/binpipe/events"
	"github.com/google/binpipe/inflate"
)

// ErrUnsupportedMethod reports a compression method other than STORE or
// DEFLATE. Unzip reports such an entry through OnInfo and skips it;
// Zip.AddFile returns it as an error.
var ErrUnsupportedMethod = errors.New("zip: unsupported compression method")

// ErrCRCMismatch is returned only when Options.StrictValidation is set.
var ErrCRCMismatch = errors.New("zip: CRC-32 mismatch")

// ErrMalformedDataDescriptor is fatal: the forward scan for a trailing
// data descriptor ran out of plausible boundaries within buffered input.
var ErrMalformedDataDescriptor = errors.New("zip: could not locate a valid data descriptor")

// Unzip is an event-driven, incremental ZIP decoder. Bytes are supplied via
// Push as they arrive; the decoder walks the local-file-header records
// front-to-back, dispatching STORE or DEFLATE payloads, and finishes with an
// optional central-directory postlude that recovers the archive comment and
// a manifest of entries.
//
// Unzip never seeks backward in the host's sense: when a record needs more
// bytes than are currently buffered, the whole current record is rolled
// back (via byteio.Stream.Tee) and Push returns, leaving the decoder in
// events.Waiting until more bytes arrive.
type Unzip struct {
	events.Emitter
	// OnFinish is invoked once, when the central-directory postlude (if
	// present) has been consumed and no further records remain.
	OnFinish func(FinishInfo)

	opts    Options
	state   events.State
	stopped bool
	bytes   *byteio.Stream

	fileNumber        int
	totalUncompressed int64
	totalCompressed   int64
}

// New returns an Unzip decoder ready to receive pushed bytes.
func New(opts Options) *Unzip {
	return &Unzip{opts: opts, state: events.NotStarted}
}

// State reports the decoder's current lifecycle state.
func (u *Unzip) State() events.State { return u.state }

// Stop idempotently halts further processing; subsequent Push calls are a
// no-op.
func (u *Unzip) Stop() { u.stopped = true }

// Push supplies another page of archive bytes and drives the decoder as far
// forward as currently-buffered bytes allow.
func (u *Unzip) Push(b []byte) error {
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

func (u *Unzip) run() error {
	for {
		if u.stopped {
			return nil
		}
		checkpoint := u.bytes.Tee()
		sig, err := u.bytes.PeekNumber(4)
		if err == byteio.ErrBufferOverrun {
			u.bytes = checkpoint
			u.state = events.Waiting
			return nil
		}
		if err != nil {
			return u.fail(err)
		}

		if sig == localFileHeaderSig {
			if err := u.processLocalFile(); err != nil {
				if err == byteio.ErrBufferOverrun {
					u.bytes = checkpoint
					u.state = events.Waiting
					return nil
				}
				return u.fail(err)
			}
			continue
		}

		info, err := u.processPostlude()
		if err != nil {
			if err == byteio.ErrBufferOverrun {
				u.bytes = checkpoint
				u.state = events.Waiting
				return nil
			}
			return u.fail(err)
		}
		u.state = events.Finished
		if u.OnFinish != nil {
			u.OnFinish(info)
		}
		return nil
	}
}

func (u *Unzip) fail(err error) error {
	u.state = events.Finished
	u.EmitError(err)
	return err
}

// processLocalFile reads one local-file-header record (signature through
// payload), dispatches decompression, and emits an extract event.
func (u *Unzip) processLocalFile() error {
	s := u.bytes
	if _, err := s.ReadNumber(4); err != nil { // signature, already peeked
		return err
	}
	if _, err := s.ReadNumber(2); err != nil { // version needed
		return err
	}
	flags, err := s.ReadNumber(2)
	if err != nil {
		return err
	}
	method, err := s.ReadNumber(2)
	if err != nil {
		return err
	}
	if _, err := s.ReadNumber(2); err != nil { // mod time
		return err
	}
	if _, err := s.ReadNumber(2); err != nil { // mod date
		return err
	}
	headerCRC, err := s.ReadNumber(4)
	if err != nil {
		return err
	}
	headerCompSize, err := s.ReadNumber(4)
	if err != nil {
		return err
	}
	headerUncompSize, err := s.ReadNumber(4)
	if err != nil {
		return err
	}
	nameLen, err := s.ReadNumber(2)
	if err != nil {
		return err
	}
	extraLen, err := s.ReadNumber(2)
	if err != nil {
		return err
	}
	nameBytes, err := s.ReadBytes(int(nameLen))
	if err != nil {
		return err
	}
	if _, err := s.ReadBytes(int(extraLen)); err != nil { // extra field, unused
		return err
	}

	hasDataDescriptor := flags&0x08 != 0

	var payload []byte
	var crc, compSize, uncompSize uint32
	if hasDataDescriptor {
		payload, crc, compSize, uncompSize, err = u.readDescriptorDelimited()
		if err != nil {
			return err
		}
	} else {
		payload, err = s.ReadBytes(int(headerCompSize))
		if err != nil {
			return err
		}
		crc, compSize, uncompSize = headerCRC, headerCompSize, headerUncompSize
	}

	data, err := decompress(Method(method), payload, int(uncompSize), u.opts.StrictValidation)
	if errors.Is(err, ErrUnsupportedMethod) {
		u.EmitInfo(fmt.Sprintf("%v; skipped %s", err, nameBytes))
		return nil
	}
	if err != nil {
		return err
	}
	if u.opts.StrictValidation {
		if got := crc32table.Checksum(data); got != crc {
			return ErrCRCMismatch
		}
	}

	u.fileNumber++
	u.totalCompressed += int64(compSize)
	u.totalUncompressed += int64(uncompSize)

	filename := string(nameBytes)
	isDir := len(filename) > 0 && filename[len(filename)-1] == '/'
	if !isDir {
		u.EmitExtract(events.ExtractedFile{
			Filename: filename,
			FileData: data,
		})
	}
	u.EmitProgress(events.Progress{
		CurrentFilename:              filename,
		CurrentFileNumber:            u.fileNumber,
		CurrentBytesUnarchivedInFile: int64(uncompSize),
		CurrentBytesUnarchived:       u.totalUncompressed,
		TotalCompressedBytesRead:     u.totalCompressed,
	})
	return nil
}

// readDescriptorDelimited handles the general-purpose-bit-3 case: the
// compressed payload's length is not known up front, so it scans forward,
// one byte at a time, for the next local-file, central-directory, or
// data-descriptor signature, then validates the 16 bytes (signed) or 12
// bytes (unsigned) immediately preceding that boundary against the
// candidate compressed size.
func (u *Unzip) readDescriptorDelimited() (payload []byte, crc, compSize, uncompSize uint32, err error) {
	const maxScanWindow = 1 << 24 // 16 MiB: a sanity bound against corrupt archives with no descriptor at all
	payloadStart := u.bytes.Tee()
	scanner := u.bytes.Tee()
	pos := 0
	for {
		if pos > maxScanWindow {
			return nil, 0, 0, 0, ErrMalformedDataDescriptor
		}
		peek, perr := scanner.PeekBytes(4)
		if perr != nil {
			return nil, 0, 0, 0, perr
		}
		candidate := leUint32(peek)
		if candidate == localFileHeaderSig || candidate == centralDirectorySig || candidate == dataDescriptorSig {
			if ok, p, c, cs, us := tryDescriptorBoundary(payloadStart, pos); ok {
				if _, rerr := u.bytes.ReadBytes(pos); rerr != nil {
					return nil, 0, 0, 0, rerr
				}
				return p, c, cs, us, nil
			}
		}
		if _, rerr := scanner.ReadBytes(1); rerr != nil {
			return nil, 0, 0, 0, rerr
		}
		pos++
	}
}

// tryDescriptorBoundary checks whether the descriptorLen bytes immediately
// before position pos (relative to payloadStart) form a valid data
// descriptor, trying the 16-byte signed form first and the 12-byte
// unsigned form second.
func tryDescriptorBoundary(payloadStart *byteio.Stream, pos int) (ok bool, payload []byte, crc, compSize, uncompSize uint32) {
	if pos >= 16 {
		raw, err := payloadStart.PeekBytes(pos)
		if err == nil {
			tail := raw[pos-16:]
			if leUint32(tail[0:4]) == dataDescriptorSig {
				cs := leUint32(tail[8:12])
				if int(cs) == pos-16 {
					return true, raw[:pos-16], leUint32(tail[4:8]), cs, leUint32(tail[12:16])
				}
			}
		}
	}
	if pos >= 12 {
		raw, err := payloadStart.PeekBytes(pos)
		if err == nil {
			tail := raw[pos-12:]
			cs := leUint32(tail[4:8])
			if int(cs) == pos-12 {
				return true, raw[:pos-12], leUint32(tail[0:4]), cs, leUint32(tail[8:12])
			}
		}
	}
	return false, nil, 0, 0, 0
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func decompress(method Method, payload []byte, uncompSizeHint int, strict bool) ([]byte, error) {
	switch method {
	case MethodStore:
		return payload, nil
	case MethodDeflate:
		return inflate.Decode(payload, uncompSizeHint, inflate.Options{StrictStoredLength: strict})
	default:
		return nil, fmt.Errorf("%w: method %d", ErrUnsupportedMethod, method)
	}
}

// processPostlude consumes an optional archive-extra-data record, any
// number of central-directory file headers, an optional digital-signature
// record, and the end-of-central-directory record.
func (u *Unzip) processPostlude() (FinishInfo, error) {
	s := u.bytes
	var info FinishInfo

	sig, err := s.PeekNumber(4)
	if err != nil {
		return info, err
	}
	if sig == archiveExtraDataSig {
		if _, err := s.ReadNumber(4); err != nil {
			return info, err
		}
		n, err := s.ReadNumber(4)
		if err != nil {
			return info, err
		}
		if _, err := s.ReadBytes(int(n)); err != nil {
			return info, err
		}
	}

	for {
		sig, err := s.PeekNumber(4)
		if err != nil {
			return info, err
		}
		if sig != centralDirectorySig {
			break
		}
		entry, err := u.readCentralDirectoryEntry()
		if err != nil {
			return info, err
		}
		info.Entries = append(info.Entries, entry)
	}

	sig, err = s.PeekNumber(4)
	if err != nil {
		return info, err
	}
	if sig == digitalSignatureRecSig {
		if _, err := s.ReadNumber(4); err != nil {
			return info, err
		}
		n, err := s.ReadNumber(2)
		if err != nil {
			return info, err
		}
		if _, err := s.ReadBytes(int(n)); err != nil {
			return info, err
		}
	}

	sig, err = s.PeekNumber(4)
	if err != nil {
		return info, err
	}
	if sig != endOfCentralDirSig {
		return info, fmt.Errorf("zip: expected end-of-central-directory record, found signature %#08x", sig)
	}
	if _, err := s.ReadNumber(4); err != nil {
		return info, err
	}
	for i := 0; i < 4; i++ { // disk number, CD-start disk, CD records here, CD records total
		if _, err := s.ReadNumber(2); err != nil {
			return info, err
		}
	}
	for i := 0; i < 2; i++ { // CD size, CD offset
		if _, err := s.ReadNumber(4); err != nil {
			return info, err
		}
	}
	commentLen, err := s.ReadNumber(2)
	if err != nil {
		return info, err
	}
	comment, err := s.ReadBytes(int(commentLen))
	if err != nil {
		return info, err
	}
	info.Comment = string(comment)
	return info, nil
}

func (u *Unzip) readCentralDirectoryEntry() (CentralDirectoryEntry, error) {
	s := u.bytes
	var e CentralDirectoryEntry
	if _, err := s.ReadNumber(4); err != nil { // signature
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // version made by
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // version needed
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // gp flag
		return e, err
	}
	method, err := s.ReadNumber(2)
	if err != nil {
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // mod time
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // mod date
		return e, err
	}
	crc, err := s.ReadNumber(4)
	if err != nil {
		return e, err
	}
	compSize, err := s.ReadNumber(4)
	if err != nil {
		return e, err
	}
	uncompSize, err := s.ReadNumber(4)
	if err != nil {
		return e, err
	}
	nameLen, err := s.ReadNumber(2)
	if err != nil {
		return e, err
	}
	extraLen, err := s.ReadNumber(2)
	if err != nil {
		return e, err
	}
	commentLen, err := s.ReadNumber(2)
	if err != nil {
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // disk number start
		return e, err
	}
	if _, err := s.ReadNumber(2); err != nil { // internal attrs
		return e, err
	}
	extAttrs, err := s.ReadNumber(4)
	if err != nil {
		return e, err
	}
	localOffset, err := s.ReadNumber(4)
	if err != nil {
		return e, err
	}
	nameBytes, err := s.ReadBytes(int(nameLen))
	if err != nil {
		return e, err
	}
	if _, err := s.ReadBytes(int(extraLen)); err != nil {
		return e, err
	}
	if _, err := s.ReadBytes(int(commentLen)); err != nil {
		return e, err
	}

	e.Filename = string(nameBytes)
	e.Method = Method(method)
	e.CRC32 = crc
	e.CompressedSize = compSize
	e.UncompressedSize = uncompSize
	e.ExternalAttrs = extAttrs
	e.LocalHeaderOffset = localOffset
	return e, nil
}
