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

package buffer

import (
	"errors"
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

const defaultQueueSize = 4096

// ErrQueueUnderflow is returned when more bytes are requested than buffered.
var ErrQueueUnderflow = errors.New("buffer: queue underflow")

// Queue is a growable FIFO byte buffer with separate read and write cursors.
// Appended bytes are copied in; Peek and Next return views into the internal
// storage that stay valid until the next Append or Release. Consumed space is
// compacted lazily on Append, so a queue that is drained between reads never
// reallocates.
//
// Queue is not safe for concurrent use; a parser owns its queue exclusively
// on the connection's event-loop goroutine.
type Queue struct {
	buff     []byte
	readIdx  int
	writeIdx int
}

// NewQueue creates a Queue with the given initial capacity.
func NewQueue(estimatedLength int) *Queue {
	if estimatedLength <= 0 {
		estimatedLength = defaultQueueSize
	}
	return &Queue{buff: dirtmake.Bytes(estimatedLength, estimatedLength)}
}

// Len returns the number of buffered, unconsumed bytes.
func (q *Queue) Len() int {
	return q.writeIdx - q.readIdx
}

// Append copies p onto the tail of the queue.
func (q *Queue) Append(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	q.ensureWritable(n)
	copy(q.buff[q.writeIdx:], p)
	q.writeIdx += n
}

// Peek returns a view of the next n bytes without consuming them.
func (q *Queue) Peek(n int) ([]byte, error) {
	if err := q.readableCheck(n); err != nil {
		return nil, err
	}
	return q.buff[q.readIdx : q.readIdx+n], nil
}

// Next consumes and returns a view of the next n bytes.
func (q *Queue) Next(n int) ([]byte, error) {
	p, err := q.Peek(n)
	if err != nil {
		return nil, err
	}
	q.readIdx += n
	return p, nil
}

// Skip consumes n bytes without returning them.
func (q *Queue) Skip(n int) error {
	if err := q.readableCheck(n); err != nil {
		return err
	}
	q.readIdx += n
	return nil
}

// Release drops all buffered bytes and returns the queue to its zero cursor
// state. The internal storage is retained for reuse.
func (q *Queue) Release() {
	q.readIdx = 0
	q.writeIdx = 0
}

func (q *Queue) readableCheck(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative read %d", ErrQueueUnderflow, n)
	}
	if q.Len() < n {
		return fmt.Errorf("%w: need %d bytes, buffered %d", ErrQueueUnderflow, n, q.Len())
	}
	return nil
}

// ensureWritable makes room for n more bytes, first by sliding the unread
// region back to the front, then by growing the storage.
func (q *Queue) ensureWritable(n int) {
	if len(q.buff)-q.writeIdx >= n {
		return
	}
	unread := q.Len()
	if q.readIdx > 0 {
		copy(q.buff, q.buff[q.readIdx:q.writeIdx])
		q.readIdx = 0
		q.writeIdx = unread
		if len(q.buff)-q.writeIdx >= n {
			return
		}
	}
	capacity := len(q.buff) * 2
	if capacity < unread+n {
		capacity = unread + n
	}
	grown := dirtmake.Bytes(capacity, capacity)
	copy(grown, q.buff[:q.writeIdx])
	q.buff = grown
}
