/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package parser

import (
	"bytes"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/cloudwego/framer/internal/mocks"
	"github.com/cloudwego/framer/internal/test"
	"github.com/cloudwego/framer/pkg/buffer"
)

// trackingAllocator remembers every buffer it hands out so tests can prove
// frame views alias allocator memory.
type trackingAllocator struct {
	bufs [][]byte
}

func (a *trackingAllocator) Alloc(size int) []byte {
	buf := make([]byte, size)
	a.bufs = append(a.bufs, buf)
	return buf
}

func (a *trackingAllocator) Free(buf []byte) {}

func TestAllocatingBodyIsNotCopied(t *testing.T) {
	alloc := &trackingAllocator{}
	body := []byte("zero copy body")

	var sawFrame bool
	owner := &funcOwner{
		onFrame: func(f *Frame) {
			sawFrame = true
			spans := f.Spans()
			test.Assert(t, len(spans) == 1, len(spans))
			// The body sits right after the 3-byte prefix in the first
			// allocator buffer; the span must alias it, not copy it.
			test.Assert(t, len(alloc.bufs) == 1)
			test.Assert(t, &spans[0][0] == &alloc.bufs[0][3])
			test.Assert(t, &f.Bytes()[0] == &alloc.bufs[0][3])
		},
	}
	p := NewParser(owner, WithMode(ModeNameAllocating), WithAllocator(alloc))
	feed(p, encodeFrames(3, body))
	test.Assert(t, sawFrame)
}

func TestAllocatingMultiSpanFrame(t *testing.T) {
	body := make([]byte, 50)
	for i := range body {
		body[i] = byte(i + 1)
	}
	owner := &recordingOwner{}
	p := NewParser(owner,
		WithMode(ModeNameAllocating),
		WithAllocator(buffer.NewCountingAllocator(nil)),
		WithBlockSize(16))

	// Byte-at-a-time delivery forces the body across several 16-byte
	// blocks; the frame must come back as multiple spans that join to the
	// original body.
	stream := encodeFrames(3, body)
	feed(p, stream, func() []int {
		chunks := make([]int, len(stream))
		for i := range chunks {
			chunks[i] = 1
		}
		return chunks
	}()...)

	test.Assert(t, len(owner.frames) == 1)
	test.Assert(t, bytes.Equal(owner.frames[0], body))
	test.Assert(t, owner.spanCount[0] > 1, owner.spanCount[0])
}

func TestAllocatingReleasesBuffersAfterDelivery(t *testing.T) {
	alloc := buffer.NewCountingAllocator(nil)
	owner := &recordingOwner{}
	p := NewParser(owner,
		WithMode(ModeNameAllocating),
		WithAllocator(alloc),
		WithBlockSize(8))

	bodies := [][]byte{
		bytes.Repeat([]byte("a"), 20),
		bytes.Repeat([]byte("b"), 20),
		bytes.Repeat([]byte("c"), 20),
	}
	feed(p, encodeFrames(3, bodies...))
	test.Assert(t, len(owner.frames) == 3)

	// Everything was delivered; at most the current write target may still
	// be checked out.
	test.Assert(t, alloc.Outstanding() <= 1, alloc.Outstanding())

	p.Close()
	test.Assert(t, alloc.Outstanding() == 0, alloc.Outstanding())
}

func TestAllocatingCloseReleasesPartialFrame(t *testing.T) {
	alloc := buffer.NewCountingAllocator(nil)
	owner := &recordingOwner{}
	p := NewParser(owner,
		WithMode(ModeNameAllocating),
		WithAllocator(alloc),
		WithBlockSize(8))

	// Leave a 40-byte body half-delivered across multiple pinned buffers.
	stream := encodeFrames(3, bytes.Repeat([]byte("x"), 40))
	feed(p, stream[:23])
	test.Assert(t, alloc.Outstanding() > 1, alloc.Outstanding())

	p.Close()
	test.Assert(t, alloc.Outstanding() == 0, alloc.Outstanding())
	test.Assert(t, len(owner.frames) == 0)
	test.Assert(t, len(owner.errs) == 0)
}

func TestAllocatingErrorReleasesBuffers(t *testing.T) {
	alloc := buffer.NewCountingAllocator(nil)
	owner := &recordingOwner{}
	p := NewParser(owner,
		WithMode(ModeNameAllocating),
		WithAllocator(alloc),
		WithMaxFrameSize(8),
		WithBlockSize(8))

	feed(p, AppendLengthPrefix(nil, 3, 9))
	test.Assert(t, len(owner.errs) == 1)
	test.Assert(t, alloc.Outstanding() == 0, alloc.Outstanding())
}

func TestAllocatingAllocAndFreeBalance(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	alloc := mocks.NewMockAllocator(ctrl)
	allocated := 0
	alloc.EXPECT().Alloc(gomock.Any()).DoAndReturn(func(size int) []byte {
		allocated++
		return make([]byte, size)
	}).AnyTimes()
	freed := 0
	alloc.EXPECT().Free(gomock.Any()).Do(func(buf []byte) {
		freed++
	}).AnyTimes()

	owner := &recordingOwner{}
	p := NewParser(owner,
		WithMode(ModeNameAllocating),
		WithAllocator(alloc),
		WithBlockSize(4))

	feed(p, encodeFrames(3, []byte("0123456789"), nil, []byte("ab")))
	p.Close()

	test.Assert(t, len(owner.frames) == 3)
	test.Assert(t, allocated > 1, allocated)
	test.Assert(t, allocated == freed, allocated, freed)
}

func TestAllocatingSizesBufferForLargeFrame(t *testing.T) {
	alloc := &trackingAllocator{}
	owner := &recordingOwner{}
	p := NewParser(owner,
		WithMode(ModeNameAllocating),
		WithAllocator(alloc),
		WithBlockSize(8))

	body := bytes.Repeat([]byte("q"), 1000)
	stream := encodeFrames(3, body)
	// Deliver the prefix first so the strategy knows the body size when it
	// checks out the next buffer.
	feed(p, stream[:8])
	feed(p, stream[8:])

	test.Assert(t, len(owner.frames) == 1)
	test.Assert(t, bytes.Equal(owner.frames[0], body))
	// One of the checked-out buffers must have been sized for the whole
	// remaining body rather than the 8-byte block size.
	var sawLarge bool
	for _, b := range alloc.bufs {
		if len(b) >= 995 {
			sawLarge = true
		}
	}
	test.Assert(t, sawLarge)
}
