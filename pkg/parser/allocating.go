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
	"fmt"

	"github.com/cloudwego/framer/pkg/buffer"
)

// allocBuffer is one checked-out allocator buffer with its valid-range
// bookkeeping: bytes [0, w) were filled by the transport, bytes [0, r) have
// been parsed, and pins counts the in-flight frame spans still referencing
// the buffer. A buffer goes back to the allocator only when it is fully
// parsed, unpinned, and no longer the write target.
type allocBuffer struct {
	data []byte
	w    int
	r    int
	pins int
}

type pendingSpan struct {
	buf    *allocBuffer
	lo, hi int
}

// allocatingStrategy reassembles frames in place against allocator-owned
// buffers. Body bytes are never copied: each completed frame is delivered as
// views into the buffers the transport filled, one span per buffer the body
// crossed. Only the length prefix, which is not part of the frame view, may
// be staged through a small scratch array when it straddles buffers.
//
// The strategy checks out a fresh buffer while earlier ones are still pinned
// by a partial frame, which requires the allocator to support disjoint
// concurrent buffers; buffer.PoolAllocator and anything pool-backed do.
type allocatingStrategy struct {
	owner Owner
	alloc buffer.Allocator

	lengthFieldSize int
	maxFrameSize    int
	blockSize       int

	// bufs holds checked-out buffers oldest first; the last one is the
	// current write target handed out by getReadBuffer.
	bufs []*allocBuffer

	prefix    [maxLengthFieldSize]byte
	prefixLen int

	// frameLength is -1 while awaiting a prefix; bodyRemaining counts the
	// body bytes still to arrive for the in-flight frame.
	frameLength   int
	bodyRemaining int

	pending    []pendingSpan
	pendingLen int
}

func newAllocatingStrategy(owner Owner, cfg config) *allocatingStrategy {
	return &allocatingStrategy{
		owner:           owner,
		alloc:           cfg.allocator,
		lengthFieldSize: cfg.lengthFieldSize,
		maxFrameSize:    cfg.maxFrameSize,
		blockSize:       cfg.blockSize,
		frameLength:     -1,
	}
}

// getReadBuffer returns the writable tail of the current buffer, checking a
// new one out when the current buffer is exhausted. When the in-flight frame
// is larger than the block size the new buffer is sized to hold the whole
// remaining body, so large frames stay in as few spans as possible.
func (s *allocatingStrategy) getReadBuffer() []byte {
	cur := s.writeTarget()
	if cur == nil || cur.w == len(cur.data) {
		size := s.blockSize
		if s.frameLength >= 0 && s.bodyRemaining > size {
			size = s.bodyRemaining
		}
		cur = &allocBuffer{data: s.alloc.Alloc(size)}
		s.bufs = append(s.bufs, cur)
		s.sweep()
	}
	return cur.data[cur.w:]
}

func (s *allocatingStrategy) writeTarget() *allocBuffer {
	if len(s.bufs) == 0 {
		return nil
	}
	return s.bufs[len(s.bufs)-1]
}

func (s *allocatingStrategy) dataAvailable(n int) error {
	cur := s.writeTarget()
	if cur == nil || cur.w+n > len(cur.data) {
		return fmt.Errorf("framer: transport reported %d bytes beyond the supplied read buffer", n)
	}
	cur.w += n

	// Unparsed bytes only ever live in the write target: every earlier
	// buffer was parsed to its end before a new one was checked out.
	for cur.r < cur.w {
		if s.frameLength < 0 {
			take := s.lengthFieldSize - s.prefixLen
			if avail := cur.w - cur.r; take > avail {
				take = avail
			}
			copy(s.prefix[s.prefixLen:], cur.data[cur.r:cur.r+take])
			s.prefixLen += take
			cur.r += take
			if s.prefixLen < s.lengthFieldSize {
				continue
			}
			length := decodeLength(s.prefix[:s.lengthFieldSize])
			s.prefixLen = 0
			if length > s.maxFrameSize {
				return fmt.Errorf("%w: declared %d, maximum %d", ErrFrameTooLarge, length, s.maxFrameSize)
			}
			s.frameLength = length
			s.bodyRemaining = length
			if length == 0 {
				s.emitFrame()
			}
			continue
		}
		take := s.bodyRemaining
		if avail := cur.w - cur.r; take > avail {
			take = avail
		}
		s.pending = append(s.pending, pendingSpan{buf: cur, lo: cur.r, hi: cur.r + take})
		cur.pins++
		s.pendingLen += take
		cur.r += take
		s.bodyRemaining -= take
		if s.bodyRemaining == 0 {
			s.emitFrame()
		}
	}
	return nil
}

// emitFrame delivers the pending spans as one frame, then unpins and sweeps
// the buffers they referenced.
func (s *allocatingStrategy) emitFrame() {
	var spans [][]byte
	if len(s.pending) > 0 {
		spans = make([][]byte, len(s.pending))
		for i, ps := range s.pending {
			spans[i] = ps.buf.data[ps.lo:ps.hi]
		}
	}
	s.owner.OnFrame(newFrame(spans))
	for _, ps := range s.pending {
		ps.buf.pins--
	}
	s.pending = s.pending[:0]
	s.pendingLen = 0
	s.frameLength = -1
	s.bodyRemaining = 0
	s.sweep()
}

// sweep releases every fully parsed, unpinned buffer except the current
// write target.
func (s *allocatingStrategy) sweep() {
	kept := s.bufs[:0]
	for i, b := range s.bufs {
		last := i == len(s.bufs)-1
		if !last && b.pins == 0 && b.r == b.w {
			s.alloc.Free(b.data)
			continue
		}
		kept = append(kept, b)
	}
	s.bufs = kept
}

func (s *allocatingStrategy) bufferAvailable([]byte) error {
	// The parser only routes movable buffers to movable strategies; reaching
	// here means the transport ignored IsBufferMovable.
	return ErrIllegalBufferAvailable
}

func (s *allocatingStrategy) bufferedLen() int {
	n := s.prefixLen + s.pendingLen
	if s.frameLength >= 0 {
		n += s.lengthFieldSize
	}
	if cur := s.writeTarget(); cur != nil {
		n += cur.w - cur.r
	}
	return n
}

func (s *allocatingStrategy) hasPartialFrame() bool {
	return s.prefixLen > 0 || s.frameLength >= 0
}

func (s *allocatingStrategy) release() {
	for _, b := range s.bufs {
		s.alloc.Free(b.data)
	}
	s.bufs = nil
	s.pending = nil
	s.pendingLen = 0
	s.prefixLen = 0
	s.frameLength = -1
	s.bodyRemaining = 0
}
