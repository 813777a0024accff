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

// frameLengthStrategy reassembles frames by copying every incoming span into
// a private queue and slicing complete frames out of it. The copy makes read
// buffers disposable, so this is the strategy behind movable-buffer mode.
//
// The cursor is the pair (frameLength, awaiting): between frames the strategy
// awaits a full length prefix; once the prefix is buffered it is consumed,
// the decoded length is latched, and the strategy awaits the body.
type frameLengthStrategy struct {
	owner Owner
	queue *buffer.Queue

	lengthFieldSize int
	maxFrameSize    int

	// frameLength is the latched body length of the in-flight frame, or -1
	// while the prefix itself is still incomplete.
	frameLength int

	// readBuf is the scratch buffer handed out by getReadBuffer. Any buffer
	// works here since dataAvailable copies out of it immediately.
	readBuf []byte
}

func newFrameLengthStrategy(owner Owner, cfg config) *frameLengthStrategy {
	return &frameLengthStrategy{
		owner:           owner,
		queue:           buffer.NewQueue(cfg.blockSize),
		lengthFieldSize: cfg.lengthFieldSize,
		maxFrameSize:    cfg.maxFrameSize,
		frameLength:     -1,
		readBuf:         make([]byte, cfg.blockSize),
	}
}

func (s *frameLengthStrategy) getReadBuffer() []byte {
	return s.readBuf
}

func (s *frameLengthStrategy) dataAvailable(n int) error {
	if n > len(s.readBuf) {
		return fmt.Errorf("framer: transport reported %d bytes beyond the supplied read buffer", n)
	}
	return s.bufferAvailable(s.readBuf[:n])
}

func (s *frameLengthStrategy) bufferAvailable(buf []byte) error {
	s.queue.Append(buf)
	return s.drain()
}

// drain emits every complete frame buffered in the queue, leaving a partial
// prefix or body (if any) queued for the next read event.
func (s *frameLengthStrategy) drain() error {
	for {
		if s.frameLength < 0 {
			if s.queue.Len() < s.lengthFieldSize {
				return nil
			}
			prefix, _ := s.queue.Next(s.lengthFieldSize)
			length := decodeLength(prefix)
			if length > s.maxFrameSize {
				return fmt.Errorf("%w: declared %d, maximum %d", ErrFrameTooLarge, length, s.maxFrameSize)
			}
			s.frameLength = length
		}
		if s.queue.Len() < s.frameLength {
			return nil
		}
		body, _ := s.queue.Next(s.frameLength)
		s.frameLength = -1
		if len(body) == 0 {
			s.owner.OnFrame(newFrame(nil))
		} else {
			s.owner.OnFrame(newFrame([][]byte{body}))
		}
	}
}

func (s *frameLengthStrategy) bufferedLen() int {
	n := s.queue.Len()
	if s.frameLength >= 0 {
		// The prefix was already consumed from the queue but its frame is
		// still in flight; count it as buffered.
		n += s.lengthFieldSize
	}
	return n
}

func (s *frameLengthStrategy) hasPartialFrame() bool {
	return s.frameLength >= 0 || s.queue.Len() > 0
}

func (s *frameLengthStrategy) release() {
	s.queue.Release()
	s.frameLength = -1
}
