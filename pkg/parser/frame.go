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

// Frame is one complete protocol message with its length prefix stripped.
//
// The backing storage is owned by the parser that produced the frame and is
// only valid for the duration of the Owner.OnFrame call; an Owner that keeps
// the payload beyond the callback must copy it. Frames produced by the
// frame-length strategy are always a single contiguous span; the allocating
// strategy emits one span per allocator buffer the body landed in.
type Frame struct {
	spans  [][]byte
	length int
}

func newFrame(spans [][]byte) *Frame {
	n := 0
	for _, s := range spans {
		n += len(s)
	}
	return &Frame{spans: spans, length: n}
}

// Len returns the body length in bytes.
func (f *Frame) Len() int {
	return f.length
}

// Spans returns the frame body as a sequence of byte spans in wire order.
// No bytes are copied.
func (f *Frame) Spans() [][]byte {
	return f.spans
}

// Bytes returns the frame body as one contiguous slice. For a single-span
// frame this aliases the backing storage without copying; a body spanning
// several buffers is joined into a fresh slice.
func (f *Frame) Bytes() []byte {
	if len(f.spans) == 1 {
		return f.spans[0]
	}
	joined := make([]byte, 0, f.length)
	for _, s := range f.spans {
		joined = append(joined, s...)
	}
	return joined
}
