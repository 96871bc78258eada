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

// Package png implements an event-emitting, incremental PNG chunk parser:
// the 8-byte signature, the length|type|data|crc chunk loop, and the
// structural invariants the W3C PNG spec places on chunk order (IHDR
// first, PLTE before any palette-dependent chunk, IEND last).
//
// Pixel data itself is not decompressed here: IDAT payloads are handed to
// the caller still ZLIB-compressed. Consecutive OnImageData payloads
// concatenate to one ZLIB stream; the sibling inflate package decodes raw
// DEFLATE only, so it takes that stream without its 2-byte ZLIB header.
package png

import (
	"errors"

	"github.com/google/binpipe/byteio"
	"github.com/google/binpipe/crc32table"
	"github.com/google/binpipe/events"
)

var pngSignature = [8]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}

var (
	// ErrBadSignature is fatal: the first 8 bytes are not the PNG magic.
	ErrBadSignature = errors.New("png: bad signature")

	// ErrChunkOrder is fatal: a chunk appeared somewhere the format
	// forbids (IHDR not first, a palette-dependent chunk before PLTE for
	// an indexed image). Parsing stops at IEND, so bytes after it are
	// ignored rather than rejected.
	ErrChunkOrder = errors.New("png: chunk out of order")

	// ErrInvalidChunkLength is fatal: a chunk's length doesn't match
	// what its type and the image's color type require (e.g. tRNS for
	// a truecolor image must be exactly 6 bytes).
	ErrInvalidChunkLength = errors.New("png: invalid chunk length")

	// ErrCRCMismatch is returned only when Options.StrictValidation is set.
	ErrCRCMismatch = errors.New("png: chunk CRC-32 mismatch")
)

// ColorType is IHDR's color-type byte.
type ColorType byte

const (
	ColorTypeGrayscale      ColorType = 0
	ColorTypeTruecolor      ColorType = 2
	ColorTypeIndexed        ColorType = 3
	ColorTypeGrayscaleAlpha ColorType = 4
	ColorTypeTruecolorAlpha ColorType = 6
)

// ImageHeader is IHDR, decoded.
type ImageHeader struct {
	Width             int
	Height            int
	BitDepth          byte
	ColorType         ColorType
	CompressionMethod byte
	FilterMethod      byte
	InterlaceMethod   byte
}

// PaletteEntry is one PLTE entry.
type PaletteEntry struct {
	R, G, B byte
}

// Palette is PLTE, decoded.
type Palette struct {
	Entries []PaletteEntry
}

// ImageData is one IDAT chunk's raw (still-compressed) payload.
type ImageData struct {
	Data []byte
}

// Transparency is tRNS, left undecoded beyond the length check (its
// interpretation depends on color type: alpha-per-palette-entry for
// indexed images, a single color key for gray/truecolor).
type Transparency struct {
	Data []byte
}

// Chunk is the passthrough record for every ancillary or private chunk
// type this package does not decode further (gAMA, sBIT, bKGD, cHRM,
// tEXt, zTXt, iTXt, pHYs, tIME, eXIf, hIST, sPLT, and anything unknown).
type Chunk struct {
	Type string
	Data []byte
}

// Options configures Parser.
type Options struct {
	// StrictValidation checks each chunk's trailing CRC-32.
	StrictValidation bool
}

// Parser is an event-driven, incremental PNG decoder.
type Parser struct {
	OnImageHeader  func(ImageHeader)
	OnPalette      func(Palette)
	OnImageData    func(ImageData)
	OnTransparency func(Transparency)
	OnChunk        func(Chunk)
	OnFinish       func()
	OnInfo         func(events.Info)
	OnError        func(error)

	opts    Options
	state   events.State
	stopped bool

	bytes *byteio.Stream

	sawIHDR     bool
	sawPLTE     bool
	sawAnyIDAT  bool
	colorType   ColorType
	paletteSize int
}

// New returns a Parser ready to receive pushed bytes.
func New(opts Options) *Parser {
	p := &Parser{opts: opts, state: events.NotStarted}
	p.bytes = byteio.NewFromBytes(nil)
	p.bytes.SetOrder(byteio.BigEndian)
	return p
}

// State reports the parser's current lifecycle state.
func (p *Parser) State() events.State { return p.state }

// Stop idempotently halts further processing.
func (p *Parser) Stop() { p.stopped = true }

// Push supplies another page of file bytes and drives the parser as far
// forward as currently-buffered bytes allow.
func (p *Parser) Push(b []byte) error {
	if p.stopped || p.state == events.Finished {
		return nil
	}
	if p.state == events.NotStarted {
		p.bytes = byteio.NewFromBytes(b)
		p.bytes.SetOrder(byteio.BigEndian)
		p.state = events.Unarchiving
	} else {
		p.bytes.Push(b)
	}
	return p.run()
}

func (p *Parser) run() error {
	for {
		if p.stopped {
			return nil
		}
		checkpoint := p.bytes.Tee()

		if !p.sawIHDR && p.bytes.ConsumedBytes() == 0 {
			sig, err := p.bytes.ReadBytes(8)
			if err != nil {
				if err == byteio.ErrBufferOverrun {
					p.bytes = checkpoint
					p.state = events.Waiting
					return nil
				}
				return p.fail(err)
			}
			if [8]byte(sig) != pngSignature {
				return p.fail(ErrBadSignature)
			}
			continue
		}

		done, err := p.processChunk()
		if err != nil {
			if err == byteio.ErrBufferOverrun {
				p.bytes = checkpoint
				p.state = events.Waiting
				return nil
			}
			return p.fail(err)
		}
		if done {
			p.state = events.Finished
			if p.OnFinish != nil {
				p.OnFinish()
			}
			return nil
		}
	}
}

func (p *Parser) fail(err error) error {
	p.state = events.Finished
	if p.OnError != nil {
		p.OnError(err)
	}
	return err
}

// processChunk reads one length|type|data|crc chunk and dispatches on its
// type. It returns done=true once IEND has been consumed.
func (p *Parser) processChunk() (done bool, err error) {
	length, err := p.bytes.ReadNumber(4)
	if err != nil {
		return false, err
	}
	typeBytes, err := p.bytes.ReadBytes(4)
	if err != nil {
		return false, err
	}
	data, err := p.bytes.ReadBytes(int(length))
	if err != nil {
		return false, err
	}
	crc, err := p.bytes.ReadNumber(4)
	if err != nil {
		return false, err
	}

	if p.opts.StrictValidation {
		check := make([]byte, 0, 4+len(data))
		check = append(check, typeBytes...)
		check = append(check, data...)
		if crc32table.Checksum(check) != crc {
			return false, ErrCRCMismatch
		}
	}

	typ := string(typeBytes)
	if !p.sawIHDR && typ != "IHDR" {
		return false, ErrChunkOrder
	}

	switch typ {
	case "IHDR":
		return false, p.processIHDR(data)
	case "PLTE":
		return false, p.processPLTE(data)
	case "IDAT":
		p.sawAnyIDAT = true
		if p.OnImageData != nil {
			p.OnImageData(ImageData{Data: data})
		}
		return false, nil
	case "tRNS":
		return false, p.processTRNS(data)
	case "bKGD", "hIST":
		if p.colorType == ColorTypeIndexed && !p.sawPLTE {
			return false, ErrChunkOrder
		}
		if p.OnChunk != nil {
			p.OnChunk(Chunk{Type: typ, Data: data})
		}
		return false, nil
	case "IEND":
		return true, nil
	default:
		if p.OnChunk != nil {
			p.OnChunk(Chunk{Type: typ, Data: data})
		}
		return false, nil
	}
}

func (p *Parser) processIHDR(data []byte) error {
	if p.sawIHDR {
		return ErrChunkOrder
	}
	if len(data) != 13 {
		return ErrInvalidChunkLength
	}
	p.sawIHDR = true
	p.colorType = ColorType(data[9])
	hdr := ImageHeader{
		Width:             int(beUint32(data[0:4])),
		Height:            int(beUint32(data[4:8])),
		BitDepth:          data[8],
		ColorType:         p.colorType,
		CompressionMethod: data[10],
		FilterMethod:      data[11],
		InterlaceMethod:   data[12],
	}
	if p.OnImageHeader != nil {
		p.OnImageHeader(hdr)
	}
	return nil
}

func (p *Parser) processPLTE(data []byte) error {
	if p.sawPLTE || p.sawAnyIDAT {
		return ErrChunkOrder
	}
	if len(data)%3 != 0 {
		return ErrInvalidChunkLength
	}
	p.sawPLTE = true
	entries := make([]PaletteEntry, len(data)/3)
	for i := range entries {
		entries[i] = PaletteEntry{R: data[3*i], G: data[3*i+1], B: data[3*i+2]}
	}
	p.paletteSize = len(entries)
	if p.OnPalette != nil {
		p.OnPalette(Palette{Entries: entries})
	}
	return nil
}

func (p *Parser) processTRNS(data []byte) error {
	switch p.colorType {
	case ColorTypeGrayscale:
		if len(data) != 2 {
			return ErrInvalidChunkLength
		}
	case ColorTypeTruecolor:
		if len(data) != 6 {
			return ErrInvalidChunkLength
		}
	case ColorTypeIndexed:
		if !p.sawPLTE {
			return ErrChunkOrder
		}
		if len(data) > p.paletteSize {
			return ErrInvalidChunkLength
		}
	default:
		// tRNS is forbidden for color types that already carry alpha.
		return ErrInvalidChunkLength
	}
	if p.OnTransparency != nil {
		p.OnTransparency(Transparency{Data: data})
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
}
