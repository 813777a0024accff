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

// Package buffer provides the byte-buffer primitives framer's strategies are
// built on: the Allocator capability consumed by the allocating strategy and
// the growable Queue used by the frame-length strategy.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/mcache"
)

// Allocator supplies and reclaims the byte buffers backing zero-copy parsing.
// One Allocator may serve many connections on different event-loop threads,
// so implementations must be safe for concurrent use. A checked-out buffer is
// owned exclusively by its borrower until Free is called.
type Allocator interface {
	// Alloc returns a buffer with len(buf) == size. The full capacity of the
	// returned slice belongs to the caller.
	Alloc(size int) []byte
	// Free returns a buffer obtained from Alloc. The caller must not touch
	// the buffer afterwards.
	Free(buf []byte)
}

// PoolAllocator is the default Allocator, backed by mcache's size-classed
// pools so buffers are recycled across connections.
type PoolAllocator struct{}

var _ Allocator = PoolAllocator{}

// Alloc implements the Allocator interface.
func (PoolAllocator) Alloc(size int) []byte {
	return mcache.Malloc(size)
}

// Free implements the Allocator interface.
func (PoolAllocator) Free(buf []byte) {
	mcache.Free(buf)
}

// CountingAllocator wraps an Allocator and tracks the number of outstanding
// buffers. It exists so owners of long-lived parsers (and tests) can verify
// that every checked-out buffer is eventually released.
type CountingAllocator struct {
	inner       Allocator
	outstanding int64

	mu   sync.Mutex
	live map[*byte]struct{}
}

// NewCountingAllocator wraps inner; a nil inner defaults to PoolAllocator.
func NewCountingAllocator(inner Allocator) *CountingAllocator {
	if inner == nil {
		inner = PoolAllocator{}
	}
	return &CountingAllocator{
		inner: inner,
		live:  make(map[*byte]struct{}),
	}
}

// Alloc implements the Allocator interface.
func (c *CountingAllocator) Alloc(size int) []byte {
	buf := c.inner.Alloc(size)
	atomic.AddInt64(&c.outstanding, 1)
	if cap(buf) > 0 {
		c.mu.Lock()
		c.live[&buf[:1][0]] = struct{}{}
		c.mu.Unlock()
	}
	return buf
}

// Free implements the Allocator interface. Freeing a buffer that was not
// allocated through this CountingAllocator panics.
func (c *CountingAllocator) Free(buf []byte) {
	if cap(buf) > 0 {
		key := &buf[:1][0]
		c.mu.Lock()
		if _, ok := c.live[key]; !ok {
			c.mu.Unlock()
			panic("buffer: Free of buffer not owned by this allocator")
		}
		delete(c.live, key)
		c.mu.Unlock()
	}
	atomic.AddInt64(&c.outstanding, -1)
	c.inner.Free(buf)
}

// Outstanding reports the number of buffers allocated but not yet freed.
func (c *CountingAllocator) Outstanding() int {
	return int(atomic.LoadInt64(&c.outstanding))
}
