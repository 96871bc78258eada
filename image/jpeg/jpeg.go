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

// Package jpeg implements an event-emitting, incremental JPEG/JFIF/Exif
// marker-segment parser per JEITA CP-3451: SOI/EOI, APP0 (JFIF/JFXX), APP1
// (Exif, handed to the sibling internal/exif package), APP14 (Adobe), DQT,
// DHT, SOF0/1/2, SOS and the entropy-coded scan that follows it.
//
// Marker and quantization-table layout, including the zig-zag coefficient
// order used by DQT payloads, is defined in this package; the module has
// no JPEG encoder.
package jpeg

import (
	"errors"

	"github.com/google/binpipe/byteio"
	"github.com/google/binpipe/events"
	"github.com/google/binpipe/internal/exif"
)

const (
	markerPrefix = 0xFF

	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerDQT  = 0xDB
	markerDHT  = 0xC4
	markerDRI  = 0xDD
	markerAPP0 = 0xE0
	markerAPP1 = 0xE1
	markerAPP14 = 0xEE
)

func isSOFMarker(m byte) bool {
	switch m {
	case 0xC0, 0xC1, 0xC2:
		return true
	}
	return false
}

var (
	// ErrBadSOI is fatal: the file doesn't start with the SOI marker.
	ErrBadSOI = errors.New("jpeg: missing SOI marker")

	// ErrBadMarker is fatal: a segment didn't start with 0xFF, or used a
	// reserved/unsupported marker where a segment length was expected.
	ErrBadMarker = errors.New("jpeg: bad marker segment")

	// ErrUnsupportedSOF is fatal: a SOF marker other than 0/1/2 (the only
	// ones this parser decodes).
	ErrUnsupportedSOF = errors.New("jpeg: unsupported start-of-frame marker")
)

// zigzag is JPEG's zig-zag coefficient visiting order: DQT payloads are
// stored in this order.
var zigzag = [64]uint8{
	0o00, 0o01, 0o10, 0o20, 0o11, 0o02, 0o03, 0o12,
	0o21, 0o30, 0o40, 0o31, 0o22, 0o13, 0o04, 0o05,
	0o14, 0o23, 0o32, 0o41, 0o50, 0o60, 0o51, 0o42,
	0o33, 0o24, 0o15, 0o06, 0o07, 0o16, 0o25, 0o34,
	0o43, 0o52, 0o61, 0o70, 0o71, 0o62, 0o53, 0o44,
	0o35, 0o26, 0o17, 0o27, 0o36, 0o45, 0o54, 0o63,
	0o72, 0o73, 0o64, 0o55, 0o46, 0o37, 0o47, 0o56,
	0o65, 0o74, 0o75, 0o66, 0o57, 0o67, 0o76, 0o77,
}

// QuantizationTable is one DQT table, de-zig-zagged into natural
// (row-major) order.
type QuantizationTable struct {
	Selector byte
	Values   [64]uint16
}

// HuffmanTableSpec is one DHT table's raw spec (bits-per-length counts plus
// the symbols in canonical order), left unbuilt: building a decode table
// from it is the sibling huffman package's job, not this parser's.
type HuffmanTableSpec struct {
	Class    byte // 0 = DC, 1 = AC
	Selector byte
	Counts   [16]byte
	Symbols  []byte
}

// FrameComponent is one component entry inside a SOF segment.
type FrameComponent struct {
	ID                 byte
	HorizontalSampling byte
	VerticalSampling   byte
	QuantSelector       byte
}

// StartOfFrame is a decoded SOF0/SOF1/SOF2 segment.
type StartOfFrame struct {
	Marker            byte // 0xC0, 0xC1 or 0xC2
	Precision         byte
	Height            int
	Width             int
	Components        []FrameComponent
}

// ScanComponent is one component entry inside a SOS segment.
type ScanComponent struct {
	ComponentSelector byte
	DCTableSelector   byte
	ACTableSelector   byte
}

// StartOfScan is a decoded SOS header, immediately followed by
// entropy-coded data which is delivered via OnEntropyData.
type StartOfScan struct {
	Components     []ScanComponent
	SpectralStart  byte
	SpectralEnd    byte
	ApproxHigh     byte
	ApproxLow      byte
}

// EntropyData is the byte-destuffed entropy-coded segment bytes following
// one SOS header, up to (but not including) the next real marker.
type EntropyData struct {
	Data []byte
}

// JFIFHeader is APP0's JFIF payload.
type JFIFHeader struct {
	VersionMajor, VersionMinor byte
	DensityUnits               byte
	DensityX, DensityY         int
	ThumbnailWidth             byte
	ThumbnailHeight            byte
}

// AdobeSegment is APP14's Adobe payload.
type AdobeSegment struct {
	Version         int
	Flags0, Flags1  int
	ColorTransform  byte
}

// Marker is the generic passthrough record for any recognized-but-not-
// specially-decoded marker segment (e.g. DRI, JFXX thumbnails) and for
// markers with no payload semantics this package models explicitly.
type Marker struct {
	Marker byte
	Data   []byte
}

// Options configures Parser.
type Options struct{}

// Parser is an event-driven, incremental JPEG marker-segment parser.
type Parser struct {
	OnStartOfFrame   func(StartOfFrame)
	OnQuantization   func(QuantizationTable)
	OnHuffmanTable   func(HuffmanTableSpec)
	OnStartOfScan    func(StartOfScan)
	OnEntropyData    func(EntropyData)
	OnJFIF           func(JFIFHeader)
	OnExifTag        func(exif.Entry)
	OnAdobe          func(AdobeSegment)
	OnMarker         func(Marker)
	OnFinish         func()
	OnInfo           func(events.Info)
	OnError          func(error)

	state   events.State
	stopped bool
	bytes   *byteio.Stream
	sawSOI  bool
}

// New returns a Parser ready to receive pushed bytes.
func New(opts Options) *Parser {
	return &Parser{state: events.NotStarted}
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
		done, err := p.step()
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

// step consumes one marker segment (or the SOI prologue), returning
// done=true once EOI has been consumed.
func (p *Parser) step() (done bool, err error) {
	if !p.sawSOI {
		prefix, err := p.bytes.ReadBytes(2)
		if err != nil {
			return false, err
		}
		if prefix[0] != markerPrefix || prefix[1] != markerSOI {
			return false, ErrBadSOI
		}
		p.sawSOI = true
		return false, nil
	}

	marker, err := p.readMarker()
	if err != nil {
		return false, err
	}

	switch marker {
	case markerEOI:
		return true, nil
	case markerSOS:
		if err := p.processSOS(); err != nil {
			return false, err
		}
		return false, nil
	case markerDQT:
		return false, p.processDQT()
	case markerDHT:
		return false, p.processDHT()
	case markerAPP0:
		return false, p.processAPP0()
	case markerAPP1:
		return false, p.processAPP1()
	case markerAPP14:
		return false, p.processAPP14()
	}
	if isSOFMarker(marker) {
		return false, p.processSOF(marker)
	}
	switch marker {
	case 0xC3, 0xC5, 0xC6, 0xC7, 0xC9, 0xCA, 0xCB, 0xCD, 0xCE, 0xCF:
		return false, ErrUnsupportedSOF
	}
	return false, p.processGenericMarker(marker)
}

// readMarker consumes one 0xFF-prefixed marker byte, skipping any fill
// bytes (0xFF repeated, per JEITA CP-3451 B.1.1.3) before the real marker.
func (p *Parser) readMarker() (byte, error) {
	b, err := p.bytes.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	if b[0] != markerPrefix {
		return 0, ErrBadMarker
	}
	for {
		m, err := p.bytes.ReadBytes(1)
		if err != nil {
			return 0, err
		}
		if m[0] != 0xFF {
			return m[0], nil
		}
	}
}

func (p *Parser) readSegment() ([]byte, error) {
	length, err := p.bytes.ReadNumber(2)
	if err != nil {
		return nil, err
	}
	if length < 2 {
		return nil, ErrBadMarker
	}
	return p.bytes.ReadBytes(int(length) - 2)
}

func (p *Parser) processDQT() error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	for len(data) > 0 {
		precision := data[0] >> 4
		selector := data[0] & 0x0F
		data = data[1:]
		n := 64
		width := 1
		if precision != 0 {
			width = 2
		}
		if len(data) < n*width {
			return ErrBadMarker
		}
		var table QuantizationTable
		table.Selector = selector
		for z := 0; z < n; z++ {
			var v uint16
			if width == 1 {
				v = uint16(data[z])
			} else {
				v = uint16(data[2*z])<<8 | uint16(data[2*z+1])
			}
			table.Values[zigzag[z]] = v
		}
		data = data[n*width:]
		if p.OnQuantization != nil {
			p.OnQuantization(table)
		}
	}
	return nil
}

func (p *Parser) processDHT() error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	for len(data) > 0 {
		if len(data) < 17 {
			return ErrBadMarker
		}
		spec := HuffmanTableSpec{
			Class:    data[0] >> 4,
			Selector: data[0] & 0x0F,
		}
		copy(spec.Counts[:], data[1:17])
		total := 0
		for _, c := range spec.Counts {
			total += int(c)
		}
		data = data[17:]
		if len(data) < total {
			return ErrBadMarker
		}
		spec.Symbols = append([]byte(nil), data[:total]...)
		data = data[total:]
		if p.OnHuffmanTable != nil {
			p.OnHuffmanTable(spec)
		}
	}
	return nil
}

func (p *Parser) processSOF(marker byte) error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	if len(data) < 6 {
		if marker != 0xC0 && marker != 0xC1 && marker != 0xC2 {
			return ErrUnsupportedSOF
		}
		return ErrBadMarker
	}
	numComponents := int(data[5])
	if len(data) != 6+3*numComponents {
		return ErrBadMarker
	}
	sof := StartOfFrame{
		Marker:    marker,
		Precision: data[0],
		Height:    int(data[1])<<8 | int(data[2]),
		Width:     int(data[3])<<8 | int(data[4]),
	}
	for i := 0; i < numComponents; i++ {
		c := data[6+3*i:]
		sof.Components = append(sof.Components, FrameComponent{
			ID:                 c[0],
			HorizontalSampling: c[1] >> 4,
			VerticalSampling:   c[1] & 0x0F,
			QuantSelector:      c[2],
		})
	}
	if p.OnStartOfFrame != nil {
		p.OnStartOfFrame(sof)
	}
	return nil
}

func (p *Parser) processSOS() error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	if len(data) < 1 {
		return ErrBadMarker
	}
	numComponents := int(data[0])
	if len(data) != 1+2*numComponents+3 {
		return ErrBadMarker
	}
	sos := StartOfScan{}
	for i := 0; i < numComponents; i++ {
		c := data[1+2*i:]
		sos.Components = append(sos.Components, ScanComponent{
			ComponentSelector: c[0],
			DCTableSelector:   c[1] >> 4,
			ACTableSelector:   c[1] & 0x0F,
		})
	}
	tail := data[1+2*numComponents:]
	sos.SpectralStart = tail[0]
	sos.SpectralEnd = tail[1]
	sos.ApproxHigh = tail[2] >> 4
	sos.ApproxLow = tail[2] & 0x0F
	if p.OnStartOfScan != nil {
		p.OnStartOfScan(sos)
	}
	return p.processEntropyData()
}

// processEntropyData consumes entropy-coded bytes up to (not including) the
// next non-stuffed 0xFF marker, destuffing 0xFF 0x00 to a literal 0xFF and
// folding restart markers (0xFFD0-0xFFD7) into the segment, per spec.md's
// "JPEG structure" description. It peeks rather than reads-then-rewinds,
// since byteio.Stream is forward-only by design (spec.md §3) and has no
// backward seek: the cursor only ever advances past bytes this function
// has decided belong to the entropy segment.
func (p *Parser) processEntropyData() error {
	var out []byte
	for {
		two, err := p.bytes.PeekBytes(2)
		if err != nil {
			if err != byteio.ErrBufferOverrun {
				return err
			}
			one, err1 := p.bytes.PeekBytes(1)
			if err1 != nil {
				return err1
			}
			if one[0] == markerPrefix {
				// Ambiguous: need the following byte to know whether
				// this is a stuffed/restart marker or a real one.
				return byteio.ErrBufferOverrun
			}
			p.bytes.Skip(1)
			out = append(out, one[0])
			continue
		}
		if two[0] != markerPrefix {
			p.bytes.Skip(1)
			out = append(out, two[0])
			continue
		}
		switch {
		case two[1] == 0x00:
			p.bytes.Skip(2)
			out = append(out, markerPrefix)
		case two[1] >= 0xD0 && two[1] <= 0xD7:
			p.bytes.Skip(2)
			out = append(out, markerPrefix, two[1])
		default:
			// A genuine marker follows; leave it for the main loop.
			if p.OnEntropyData != nil && len(out) > 0 {
				p.OnEntropyData(EntropyData{Data: out})
			}
			return nil
		}
	}
}

func (p *Parser) processAPP0() error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	if len(data) >= 5 && string(data[0:5]) == "JFIF\x00" && len(data) >= 14 {
		hdr := JFIFHeader{
			VersionMajor: data[5],
			VersionMinor: data[6],
			DensityUnits: data[7],
			DensityX:     int(data[8])<<8 | int(data[9]),
			DensityY:     int(data[10])<<8 | int(data[11]),
			ThumbnailWidth:  data[12],
			ThumbnailHeight: data[13],
		}
		if p.OnJFIF != nil {
			p.OnJFIF(hdr)
		}
		return nil
	}
	if p.OnMarker != nil {
		p.OnMarker(Marker{Marker: markerAPP0, Data: data})
	}
	return nil
}

func (p *Parser) processAPP1() error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	if len(data) >= 6 && string(data[0:6]) == "Exif\x00\x00" {
		entries, err := exif.Parse(data[6:])
		if err != nil {
			if p.OnInfo != nil {
				p.OnInfo(events.Info{Message: "jpeg: malformed Exif segment: " + err.Error()})
			}
			return nil
		}
		for _, e := range entries {
			if p.OnExifTag != nil {
				p.OnExifTag(e)
			}
		}
		return nil
	}
	if p.OnMarker != nil {
		p.OnMarker(Marker{Marker: markerAPP1, Data: data})
	}
	return nil
}

func (p *Parser) processAPP14() error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	if len(data) == 12 && string(data[0:5]) == "Adobe" {
		seg := AdobeSegment{
			Version:        int(data[5])<<8 | int(data[6]),
			Flags0:         int(data[7])<<8 | int(data[8]),
			Flags1:         int(data[9])<<8 | int(data[10]),
			ColorTransform: data[11],
		}
		if p.OnAdobe != nil {
			p.OnAdobe(seg)
		}
		return nil
	}
	if p.OnMarker != nil {
		p.OnMarker(Marker{Marker: markerAPP14, Data: data})
	}
	return nil
}

func (p *Parser) processGenericMarker(marker byte) error {
	data, err := p.readSegment()
	if err != nil {
		return err
	}
	if p.OnMarker != nil {
		p.OnMarker(Marker{Marker: marker, Data: data})
	}
	return nil
}
