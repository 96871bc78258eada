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

package tar

import (
	"fmt"
	"testing"

	"github.com/google/binpipe/events"
)

// buildHeader constructs one 512-byte USTAR header block. size is written
// as null-padded octal ASCII, as real tar writers do.
func buildHeader(name string, prefix string, typeflag byte, size int64) []byte {
	h := make([]byte, blockSize)
	copy(h[offName:offName+lenName], name)
	sizeStr := fmt.Sprintf("%011o\x00", size)
	copy(h[offSize:offSize+lenSize], sizeStr)
	h[offTypeflag] = typeflag
	copy(h[offMagic:offMagic+lenMagic], "ustar")
	if prefix != "" {
		copy(h[offPrefix:offPrefix+lenPrefix], prefix)
	}
	return h
}

func padTo512(payload []byte) []byte {
	out := append([]byte(nil), payload...)
	if p := paddingFor(int64(len(payload))); p > 0 {
		out = append(out, make([]byte, p)...)
	}
	return out
}

func endOfArchive() []byte {
	return make([]byte, blockSize*2)
}

func drive(t *testing.T, u *Untar, data []byte) (extracted []events.ExtractedFile, infos []string, finished bool, errOut error) {
	t.Helper()
	u.OnExtract = func(f events.ExtractedFile) { extracted = append(extracted, f) }
	u.OnInfo = func(i events.Info) { infos = append(infos, i.Message) }
	u.OnFinish = func(FinishInfo) { finished = true }
	u.OnError = func(err error) { errOut = err }
	if err := u.Push(data); err != nil {
		return extracted, infos, finished, err
	}
	return extracted, infos, finished, errOut
}

func TestUntarRegularFile(t *testing.T) {
	payload := []byte("hello from tar")
	var archive []byte
	archive = append(archive, buildHeader("hello.txt", "", '0', int64(len(payload)))...)
	archive = append(archive, padTo512(payload)...)
	archive = append(archive, endOfArchive()...)

	u := New(Options{})
	extracted, _, finished, err := drive(t, u, archive)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !finished {
		t.Fatal("OnFinish was not called")
	}
	if len(extracted) != 1 || extracted[0].Filename != "hello.txt" || string(extracted[0].FileData) != string(payload) {
		t.Fatalf("extracted = %+v", extracted)
	}
}

// TestUntarLongPrefixPath is spec.md scenario 5: prefix "deep/nested/dir"
// plus name "file.txt" reconstructs to "deep/nested/dir/file.txt".
func TestUntarLongPrefixPath(t *testing.T) {
	payload := []byte("x")
	var archive []byte
	archive = append(archive, buildHeader("file.txt", "deep/nested/dir", '0', int64(len(payload)))...)
	archive = append(archive, padTo512(payload)...)
	archive = append(archive, endOfArchive()...)

	u := New(Options{})
	extracted, _, _, err := drive(t, u, archive)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(extracted) != 1 || extracted[0].Filename != "deep/nested/dir/file.txt" {
		t.Fatalf("extracted = %+v", extracted)
	}
}

func TestUntarDirectoryEntryEmitsInfo(t *testing.T) {
	var archive []byte
	archive = append(archive, buildHeader("a/dir/", "", '5', 0)...)
	archive = append(archive, endOfArchive()...)

	u := New(Options{})
	extracted, infos, finished, err := drive(t, u, archive)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(extracted) != 0 {
		t.Fatalf("expected no extracted files for a directory entry, got %+v", extracted)
	}
	if len(infos) != 1 {
		t.Fatalf("expected one info event, got %v", infos)
	}
	if !finished {
		t.Fatal("OnFinish was not called")
	}
}

func TestUntarIncrementalPush(t *testing.T) {
	payload := []byte("incremental tar payload")
	var archive []byte
	archive = append(archive, buildHeader("f.bin", "", '0', int64(len(payload)))...)
	archive = append(archive, padTo512(payload)...)
	archive = append(archive, endOfArchive()...)

	u := New(Options{})
	var extracted []events.ExtractedFile
	finished := false
	u.OnExtract = func(f events.ExtractedFile) { extracted = append(extracted, f) }
	u.OnFinish = func(FinishInfo) { finished = true }

	mid := blockSize / 2
	if err := u.Push(archive[:mid]); err != nil {
		t.Fatalf("first push: %v", err)
	}
	if u.State() != events.Waiting {
		t.Fatalf("state = %v, want Waiting", u.State())
	}
	if len(extracted) != 0 {
		t.Fatalf("extracted before full header arrived: %+v", extracted)
	}
	if err := u.Push(archive[mid:]); err != nil {
		t.Fatalf("second push: %v", err)
	}
	if !finished {
		t.Fatal("OnFinish was not called")
	}
	if len(extracted) != 1 || string(extracted[0].FileData) != string(payload) {
		t.Fatalf("extracted = %+v", extracted)
	}
}
