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

// Package gif implements an event-emitting, incremental GIF87a/GIF89a
// parser per the W3C GIF89a specification: the header, logical screen
// descriptor and optional global color table, then the block sequence
// (image descriptors with their LZW sub-blocks, and the four extension
// kinds), ending at the trailer byte 0x3B.
//
// LZW sub-blocks are delivered still packed (length-prefixed runs
// concatenated into one slice) rather than decompressed to pixel indices:
// spec.md's "Image parsers" component scopes this family as grammar-driven
// event parsers, the same choice this package's sibling image/png package
// makes for IDAT payloads.
package gif

import (
	"errors"

	"github.com/google/binpipe/byteio"
	"github.com/google/binpipe/events"
)

const (
	blockImageDescriptor = 0x2C
	blockExtension       = 0x21
	blockTrailer         = 0x3B

	labelGraphicControl = 0xF9
	labelComment         = 0xFE
	labelPlainText       = 0x01
	labelApplication     = 0xFF
)

var (
	// ErrBadSignature is fatal: the file doesn't start with "GIF87a" or
	// "GIF89a".
	ErrBadSignature = errors.New("gif: bad signature")

	// ErrBadBlockIntroducer is fatal: a byte where a block introducer
	// (0x2C, 0x21 or 0x3B) was expected was none of those.
	ErrBadBlockIntroducer = errors.New("gif: bad block introducer")

	// ErrBadExtensionLabel is fatal: an 0x21 introducer was followed by
	// a label this parser doesn't recognize.
	ErrBadExtensionLabel = errors.New("gif: bad extension label")

	// ErrBadFixedBlockSize is fatal: a fixed-size extension sub-block
	// (graphic control, plain text, application) declared a block size
	// other than the format's required constant.
	ErrBadFixedBlockSize = errors.New("gif: bad fixed extension block size")
)

// Header is the 6-byte signature, decoded.
type Header struct {
	Version string // "87a" or "89a"
}

// LogicalScreen is the logical screen descriptor.
type LogicalScreen struct {
	Width                int
	Height               int
	GlobalColorTableFlag bool
	ColorResolution      byte
	SortFlag             bool
	GlobalColorTableSize int // number of entries, already expanded from the packed field
	BackgroundColorIndex byte
	PixelAspectRatio     byte
}

// ColorTableEntry is one RGB color-table entry.
type ColorTableEntry struct {
	R, G, B byte
}

// ColorTable is a global or local color table.
type ColorTable struct {
	Entries []ColorTableEntry
}

// ImageDescriptor is a 0x2C image descriptor, decoded.
type ImageDescriptor struct {
	Left                int
	Top                 int
	Width               int
	Height              int
	LocalColorTableFlag bool
	InterlaceFlag       bool
	SortFlag            bool
	LocalColorTableSize int
}

// ImageData is the LZW-coded sub-blocks following one image descriptor
// (and its optional local color table), still packed.
type ImageData struct {
	LZWMinimumCodeSize byte
	Data               []byte
}

// GraphicControlExtension is an 0x21 0xF9 block.
type GraphicControlExtension struct {
	DisposalMethod        byte
	UserInputFlag         bool
	TransparentColorFlag  bool
	DelayTime              int
	TransparentColorIndex byte
}

// CommentExtension is an 0x21 0xFE block.
type CommentExtension struct {
	Text string
}

// PlainTextExtension is an 0x21 0x01 block.
type PlainTextExtension struct {
	TextGridLeft, TextGridTop          int
	TextGridWidth, TextGridHeight       int
	CharacterCellWidth, CharacterCellHeight byte
	TextForegroundColorIndex, TextBackgroundColorIndex byte
	Data []byte
}

// ApplicationExtension is an 0x21 0xFF block (spec.md §4.L's generic
// application extension, SPEC_FULL.md's supplemented typed record for it —
// the Netscape looping extension is the common case but any 11-byte
// identifier+auth-code block parses into this same type).
type ApplicationExtension struct {
	Identifier string
	AuthCode   string
	Data       []byte
}

// Options configures Parser.
type Options struct{}

// Parser is an event-driven, incremental GIF parser.
type Parser struct {
	OnHeader                  func(Header)
	OnLogicalScreen           func(LogicalScreen)
	OnGlobalColorTable        func(ColorTable)
	OnImageDescriptor         func(ImageDescriptor)
	OnLocalColorTable         func(ColorTable)
	OnImageData               func(ImageData)
	OnGraphicControlExtension func(GraphicControlExtension)
	OnCommentExtension        func(CommentExtension)
	OnPlainTextExtension      func(PlainTextExtension)
	OnApplicationExtension    func(ApplicationExtension)
	OnFinish                  func()
	OnInfo                    func(events.Info)
	OnError                   func(error)

	state     events.State
	stopped   bool
	bytes     *byteio.Stream
	sawHeader bool
	sawScreen bool
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

func (p *Parser) step() (done bool, err error) {
	if !p.sawHeader {
		sig, err := p.bytes.ReadString(6)
		if err != nil {
			return false, err
		}
		if sig != "GIF87a" && sig != "GIF89a" {
			return false, ErrBadSignature
		}
		p.sawHeader = true
		if p.OnHeader != nil {
			p.OnHeader(Header{Version: sig[3:]})
		}
		return false, nil
	}

	if !p.sawScreen {
		if err := p.processLogicalScreen(); err != nil {
			return false, err
		}
		p.sawScreen = true
		return false, nil
	}

	introducer, err := p.bytes.ReadBytes(1)
	if err != nil {
		return false, err
	}
	switch introducer[0] {
	case blockTrailer:
		return true, nil
	case blockImageDescriptor:
		return false, p.processImageDescriptor()
	case blockExtension:
		return false, p.processExtension()
	}
	return false, ErrBadBlockIntroducer
}

func (p *Parser) processLogicalScreen() error {
	dims, err := p.bytes.ReadBytes(7)
	if err != nil {
		return err
	}
	packed := dims[4]
	screen := LogicalScreen{
		Width:                int(dims[0]) | int(dims[1])<<8,
		Height:               int(dims[2]) | int(dims[3])<<8,
		GlobalColorTableFlag: packed&0x80 != 0,
		ColorResolution:      (packed >> 4) & 0x07,
		SortFlag:             packed&0x08 != 0,
		BackgroundColorIndex: dims[5],
		PixelAspectRatio:     dims[6],
	}
	if screen.GlobalColorTableFlag {
		screen.GlobalColorTableSize = 1 << ((packed & 0x07) + 1)
	}
	if p.OnLogicalScreen != nil {
		p.OnLogicalScreen(screen)
	}
	if screen.GlobalColorTableFlag {
		table, err := p.readColorTable(screen.GlobalColorTableSize)
		if err != nil {
			return err
		}
		if p.OnGlobalColorTable != nil {
			p.OnGlobalColorTable(table)
		}
	}
	return nil
}

func (p *Parser) readColorTable(numEntries int) (ColorTable, error) {
	raw, err := p.bytes.ReadBytes(3 * numEntries)
	if err != nil {
		return ColorTable{}, err
	}
	table := ColorTable{Entries: make([]ColorTableEntry, numEntries)}
	for i := range table.Entries {
		table.Entries[i] = ColorTableEntry{R: raw[3*i], G: raw[3*i+1], B: raw[3*i+2]}
	}
	return table, nil
}

func (p *Parser) processImageDescriptor() error {
	data, err := p.bytes.ReadBytes(9)
	if err != nil {
		return err
	}
	packed := data[8]
	desc := ImageDescriptor{
		Left:                int(data[0]) | int(data[1])<<8,
		Top:                 int(data[2]) | int(data[3])<<8,
		Width:               int(data[4]) | int(data[5])<<8,
		Height:              int(data[6]) | int(data[7])<<8,
		LocalColorTableFlag: packed&0x80 != 0,
		InterlaceFlag:       packed&0x40 != 0,
		SortFlag:            packed&0x20 != 0,
	}
	if desc.LocalColorTableFlag {
		desc.LocalColorTableSize = 1 << ((packed & 0x07) + 1)
	}
	if p.OnImageDescriptor != nil {
		p.OnImageDescriptor(desc)
	}
	if desc.LocalColorTableFlag {
		table, err := p.readColorTable(desc.LocalColorTableSize)
		if err != nil {
			return err
		}
		if p.OnLocalColorTable != nil {
			p.OnLocalColorTable(table)
		}
	}

	codeSize, err := p.bytes.ReadBytes(1)
	if err != nil {
		return err
	}
	subData, err := p.readSubBlocks()
	if err != nil {
		return err
	}
	if p.OnImageData != nil {
		p.OnImageData(ImageData{LZWMinimumCodeSize: codeSize[0], Data: subData})
	}
	return nil
}

// readSubBlocks reads a sequence of length-prefixed byte runs, ended by a
// zero-length block, concatenating every run's payload.
func (p *Parser) readSubBlocks() ([]byte, error) {
	var out []byte
	for {
		length, err := p.bytes.ReadBytes(1)
		if err != nil {
			return nil, err
		}
		if length[0] == 0 {
			return out, nil
		}
		chunk, err := p.bytes.ReadBytes(int(length[0]))
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
}

func (p *Parser) processExtension() error {
	label, err := p.bytes.ReadBytes(1)
	if err != nil {
		return err
	}
	switch label[0] {
	case labelGraphicControl:
		return p.processGraphicControl()
	case labelComment:
		return p.processComment()
	case labelPlainText:
		return p.processPlainText()
	case labelApplication:
		return p.processApplication()
	}
	return ErrBadExtensionLabel
}

func (p *Parser) processGraphicControl() error {
	size, err := p.bytes.ReadBytes(1)
	if err != nil {
		return err
	}
	if size[0] != 4 {
		return ErrBadFixedBlockSize
	}
	body, err := p.bytes.ReadBytes(4)
	if err != nil {
		return err
	}
	terminator, err := p.bytes.ReadBytes(1)
	if err != nil {
		return err
	}
	if terminator[0] != 0 {
		return ErrBadFixedBlockSize
	}
	packed := body[0]
	gce := GraphicControlExtension{
		DisposalMethod:        (packed >> 2) & 0x07,
		UserInputFlag:         packed&0x02 != 0,
		TransparentColorFlag:  packed&0x01 != 0,
		DelayTime:             int(body[1]) | int(body[2])<<8,
		TransparentColorIndex: body[3],
	}
	if p.OnGraphicControlExtension != nil {
		p.OnGraphicControlExtension(gce)
	}
	return nil
}

func (p *Parser) processComment() error {
	data, err := p.readSubBlocks()
	if err != nil {
		return err
	}
	if p.OnCommentExtension != nil {
		p.OnCommentExtension(CommentExtension{Text: string(data)})
	}
	return nil
}

func (p *Parser) processPlainText() error {
	size, err := p.bytes.ReadBytes(1)
	if err != nil {
		return err
	}
	if size[0] != 12 {
		return ErrBadFixedBlockSize
	}
	body, err := p.bytes.ReadBytes(12)
	if err != nil {
		return err
	}
	data, err := p.readSubBlocks()
	if err != nil {
		return err
	}
	pte := PlainTextExtension{
		TextGridLeft:              int(body[0]) | int(body[1])<<8,
		TextGridTop:               int(body[2]) | int(body[3])<<8,
		TextGridWidth:             int(body[4]) | int(body[5])<<8,
		TextGridHeight:            int(body[6]) | int(body[7])<<8,
		CharacterCellWidth:        body[8],
		CharacterCellHeight:       body[9],
		TextForegroundColorIndex:  body[10],
		TextBackgroundColorIndex:  body[11],
		Data:                      data,
	}
	if p.OnPlainTextExtension != nil {
		p.OnPlainTextExtension(pte)
	}
	return nil
}

func (p *Parser) processApplication() error {
	size, err := p.bytes.ReadBytes(1)
	if err != nil {
		return err
	}
	if size[0] != 11 {
		return ErrBadFixedBlockSize
	}
	body, err := p.bytes.ReadBytes(11)
	if err != nil {
		return err
	}
	data, err := p.readSubBlocks()
	if err != nil {
		return err
	}
	ae := ApplicationExtension{
		Identifier: string(body[0:8]),
		AuthCode:   string(body[8:11]),
		Data:       data,
	}
	if p.OnApplicationExtension != nil {
		p.OnApplicationExtension(ae)
	}
	return nil
}
