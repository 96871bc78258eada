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

package gif

import (
	"bytes"
	"testing"

	"github.com/google/binpipe/events"
)

func le16(v int) []byte { return []byte{byte(v), byte(v >> 8)} }

// buildMinimalGIF assembles a single-frame GIF89a with a global color
// table, a Netscape-style application extension, a graphic control
// extension, a comment, and one image descriptor with local color table.
func buildMinimalGIF() []byte {
	var buf bytes.Buffer
	buf.WriteString("GIF89a")

	// Logical screen descriptor: 2x1, global color table flag set, 2 entries.
	buf.Write(le16(2))
	buf.Write(le16(1))
	buf.WriteByte(0x80) // GCT flag, size field 0 -> 2 entries
	buf.WriteByte(0)    // background color index
	buf.WriteByte(0)    // pixel aspect ratio
	buf.Write([]byte{0, 0, 0, 255, 255, 255})

	// Application extension (Netscape looping).
	buf.WriteByte(blockExtension)
	buf.WriteByte(labelApplication)
	buf.WriteByte(11)
	buf.WriteString("NETSCAPE2.0")
	buf.WriteByte(3)
	buf.Write([]byte{1, 0, 0})
	buf.WriteByte(0)

	// Comment extension.
	buf.WriteByte(blockExtension)
	buf.WriteByte(labelComment)
	buf.WriteByte(5)
	buf.WriteString("hello")
	buf.WriteByte(0)

	// Graphic control extension.
	buf.WriteByte(blockExtension)
	buf.WriteByte(labelGraphicControl)
	buf.WriteByte(4)
	buf.WriteByte(0x01) // transparent color flag
	buf.Write(le16(10))
	buf.WriteByte(0)
	buf.WriteByte(0)

	// Image descriptor with a local color table of 2 entries.
	buf.WriteByte(blockImageDescriptor)
	buf.Write(le16(0))
	buf.Write(le16(0))
	buf.Write(le16(2))
	buf.Write(le16(1))
	buf.WriteByte(0x80)
	buf.Write([]byte{10, 20, 30, 40, 50, 60})
	buf.WriteByte(2) // LZW minimum code size
	buf.WriteByte(3)
	buf.Write([]byte{0xAA, 0xBB, 0xCC})
	buf.WriteByte(0)

	buf.WriteByte(blockTrailer)
	return buf.Bytes()
}

func TestGifParsesMinimalFile(t *testing.T) {
	data := buildMinimalGIF()

	var header *Header
	var screen *LogicalScreen
	var globalTable *ColorTable
	var app *ApplicationExtension
	var comment *CommentExtension
	var gce *GraphicControlExtension
	var desc *ImageDescriptor
	var localTable *ColorTable
	var img *ImageData
	var finished bool
	var gotErr error

	p := New(Options{})
	p.OnHeader = func(h Header) { header = &h }
	p.OnLogicalScreen = func(s LogicalScreen) { screen = &s }
	p.OnGlobalColorTable = func(c ColorTable) { globalTable = &c }
	p.OnApplicationExtension = func(a ApplicationExtension) { app = &a }
	p.OnCommentExtension = func(c CommentExtension) { comment = &c }
	p.OnGraphicControlExtension = func(g GraphicControlExtension) { gce = &g }
	p.OnImageDescriptor = func(d ImageDescriptor) { desc = &d }
	p.OnLocalColorTable = func(c ColorTable) { localTable = &c }
	p.OnImageData = func(d ImageData) { img = &d }
	p.OnFinish = func() { finished = true }
	p.OnError = func(err error) { gotErr = err }

	if err := p.Push(data); err != nil {
		t.Fatalf("push: %v", err)
	}
	if gotErr != nil {
		t.Fatalf("parse error: %v", gotErr)
	}
	if !finished {
		t.Fatal("OnFinish was not called")
	}
	if header == nil || header.Version != "89a" {
		t.Fatalf("header = %+v", header)
	}
	if screen == nil || screen.Width != 2 || screen.Height != 1 || !screen.GlobalColorTableFlag || screen.GlobalColorTableSize != 2 {
		t.Fatalf("screen = %+v", screen)
	}
	if globalTable == nil || len(globalTable.Entries) != 2 || globalTable.Entries[1].R != 255 {
		t.Fatalf("globalTable = %+v", globalTable)
	}
	if app == nil || app.Identifier != "NETSCAPE2.0"[:8] || app.AuthCode != "2.0" {
		t.Fatalf("app = %+v", app)
	}
	if !bytes.Equal(app.Data, []byte{1, 0, 0}) {
		t.Fatalf("app.Data = %#v", app.Data)
	}
	if comment == nil || comment.Text != "hello" {
		t.Fatalf("comment = %+v", comment)
	}
	if gce == nil || !gce.TransparentColorFlag || gce.DelayTime != 10 {
		t.Fatalf("gce = %+v", gce)
	}
	if desc == nil || desc.Width != 2 || desc.Height != 1 || !desc.LocalColorTableFlag || desc.LocalColorTableSize != 2 {
		t.Fatalf("desc = %+v", desc)
	}
	if localTable == nil || len(localTable.Entries) != 2 || localTable.Entries[0].R != 10 {
		t.Fatalf("localTable = %+v", localTable)
	}
	if img == nil || img.LZWMinimumCodeSize != 2 || !bytes.Equal(img.Data, []byte{0xAA, 0xBB, 0xCC}) {
		t.Fatalf("img = %+v", img)
	}
}

func TestGifRejectsBadSignature(t *testing.T) {
	p := New(Options{})
	var gotErr error
	p.OnError = func(err error) { gotErr = err }
	if err := p.Push([]byte("JUNKxx")); err != ErrBadSignature {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
	if gotErr != ErrBadSignature {
		t.Fatalf("OnError = %v, want ErrBadSignature", gotErr)
	}
}

func TestGifIncrementalPush(t *testing.T) {
	data := buildMinimalGIF()
	p := New(Options{})
	var finished bool
	p.OnFinish = func() { finished = true }

	mid := len(data) / 2
	if err := p.Push(data[:mid]); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if p.State() != events.Waiting {
		t.Fatalf("state = %v, want Waiting", p.State())
	}
	if err := p.Push(data[mid:]); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if !finished {
		t.Fatal("OnFinish was not called")
	}
}
