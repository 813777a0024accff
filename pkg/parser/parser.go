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

// Package parser reassembles length-prefixed frames from the byte spans a
// non-blocking transport delivers, tolerating arbitrary fragmentation and
// coalescing across read events. Completed frames are handed to an Owner in
// strict receipt order, synchronously within the read callback that completed
// them.
//
// Two reassembly strategies are available, selected once at construction:
// the frame-length strategy copies incoming bytes into a private queue, while
// the allocating strategy parses in place against allocator-owned buffers so
// frame bodies are never copied before reaching the Owner.
package parser

import (
	"encoding/binary"
	"fmt"

	"github.com/cloudwego/framer/pkg/buffer"
	"github.com/cloudwego/framer/pkg/klog"
)

// Mode selects the reassembly strategy of a Parser. It is fixed for the
// lifetime of the instance.
type Mode int

const (
	// ModeFrameLength accumulates bytes into an internal queue and slices
	// frames out of it. Read buffers are movable in this mode.
	ModeFrameLength Mode = iota
	// ModeAllocating parses against allocator-owned buffers without copying
	// frame bodies. The transport must fill the parser-supplied buffer in
	// place, so read buffers are not movable.
	ModeAllocating
)

// Configuration values accepted by WithMode.
const (
	ModeNameFrameLength = "strategy"
	ModeNameAllocating  = "allocating"
)

func (m Mode) String() string {
	switch m {
	case ModeFrameLength:
		return ModeNameFrameLength
	case ModeAllocating:
		return ModeNameAllocating
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// stringToMode maps a configuration value to a Mode. Unrecognized values
// never fail construction; they fall back to ModeFrameLength with a warning.
func stringToMode(s string) Mode {
	switch s {
	case ModeNameFrameLength:
		return ModeFrameLength
	case ModeNameAllocating:
		return ModeAllocating
	}
	klog.Warnf("FRAMER: invalid parser mode: '%s', default to '%s'", s, ModeNameFrameLength)
	return ModeFrameLength
}

// Owner consumes the output of a Parser. All methods are invoked
// synchronously on the goroutine driving the read callbacks.
type Owner interface {
	// OnFrame is invoked once per completed frame, in receipt order. The
	// frame's backing storage is only valid until OnFrame returns.
	OnFrame(frame *Frame)

	// OnEOF is invoked when the transport closes. err is nil for a clean
	// close and wraps ErrTruncatedStream when the stream ended while a
	// length prefix or frame body was still incomplete.
	OnEOF(err error)

	// OnError is invoked for a transport read error or a fatal framing
	// error. No callback follows it; the Owner should tear the
	// connection down.
	OnError(err error)
}

const (
	defaultLengthFieldSize = 3
	defaultBlockSize       = 4096
	maxLengthFieldSize     = 4

	// defaultMaxFrameSize bounds a single frame body to 16 MiB - 1, the
	// largest length a 3-byte prefix can carry.
	defaultMaxFrameSize = 1<<24 - 1
)

type config struct {
	mode            Mode
	lengthFieldSize int
	maxFrameSize    int
	blockSize       int
	allocator       buffer.Allocator
}

// Option configures a Parser at construction time.
type Option func(*config)

// WithMode selects the reassembly strategy from its configuration value,
// "strategy" or "allocating". Anything else falls back to "strategy" with a
// warning.
func WithMode(mode string) Option {
	return func(c *config) {
		c.mode = stringToMode(mode)
	}
}

// WithAllocator sets the buffer source used by ModeAllocating. Ignored by
// ModeFrameLength. Defaults to buffer.PoolAllocator.
func WithAllocator(a buffer.Allocator) Option {
	return func(c *config) {
		if a != nil {
			c.allocator = a
		}
	}
}

// WithLengthFieldSize sets the width in bytes of the big-endian length
// prefix. The protocol revision fixes this on both peers; supported widths
// are 1 through 4. Defaults to 3.
func WithLengthFieldSize(size int) Option {
	return func(c *config) {
		c.lengthFieldSize = size
	}
}

// WithMaxFrameSize sets the largest accepted frame body in bytes. A decoded
// length above it is a fatal framing error. The effective limit is always
// capped at what the length prefix can encode.
func WithMaxFrameSize(size int) Option {
	return func(c *config) {
		c.maxFrameSize = size
	}
}

// WithBlockSize sets the minimum allocation unit of ModeAllocating read
// buffers. Defaults to 4096.
func WithBlockSize(size int) Option {
	return func(c *config) {
		c.blockSize = size
	}
}

// strategy is the reassembly capability behind a Parser. Implementations
// run on a single goroutine and report fatal framing errors by return value;
// completed frames go straight to the Owner.
type strategy interface {
	// getReadBuffer returns the writable region the transport fills next.
	getReadBuffer() []byte
	// dataAvailable consumes n bytes written into the last getReadBuffer
	// region, emitting zero or more frames to the Owner.
	dataAvailable(n int) error
	// bufferAvailable consumes a transport-owned buffer (movable mode only).
	bufferAvailable(buf []byte) error
	// bufferedLen reports the unconsumed bytes currently held.
	bufferedLen() int
	// hasPartialFrame reports whether a prefix or body is mid-reassembly.
	hasPartialFrame() bool
	// release drops all held state and returns buffers to their pools.
	release()
}

// Parser binds the transport's read-callback contract to one reassembly
// strategy. It is not safe for concurrent use; all callbacks must come from
// the single goroutine driving the connection, which is the contract
// non-blocking transports already provide.
type Parser struct {
	owner  Owner
	mode   Mode
	strat  strategy
	closed bool
}

// NewParser creates a Parser delivering to owner. The mode, prefix width,
// frame size ceiling and allocator all come from options; the zero
// configuration is a frame-length parser for 3-byte prefixes.
func NewParser(owner Owner, opts ...Option) *Parser {
	cfg := config{
		mode:            ModeFrameLength,
		lengthFieldSize: defaultLengthFieldSize,
		maxFrameSize:    defaultMaxFrameSize,
		blockSize:       defaultBlockSize,
		allocator:       buffer.PoolAllocator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.lengthFieldSize < 1 || cfg.lengthFieldSize > maxLengthFieldSize {
		klog.Warnf("FRAMER: invalid length field size %d, default to %d",
			cfg.lengthFieldSize, defaultLengthFieldSize)
		cfg.lengthFieldSize = defaultLengthFieldSize
	}
	if encodable := prefixCeiling(cfg.lengthFieldSize); cfg.maxFrameSize <= 0 || cfg.maxFrameSize > encodable {
		cfg.maxFrameSize = encodable
	}
	if cfg.blockSize <= 0 {
		cfg.blockSize = defaultBlockSize
	}

	p := &Parser{owner: owner, mode: cfg.mode}
	switch cfg.mode {
	case ModeAllocating:
		p.strat = newAllocatingStrategy(owner, cfg)
	default:
		p.strat = newFrameLengthStrategy(owner, cfg)
	}
	return p
}

// prefixCeiling returns the largest length a size-byte prefix can encode.
func prefixCeiling(size int) int {
	return 1<<(8*size) - 1
}

// decodeLength reads a big-endian unsigned integer of len(p) bytes.
func decodeLength(p []byte) int {
	var v uint64
	for _, b := range p {
		v = v<<8 | uint64(b)
	}
	return int(v)
}

// AppendLengthPrefix encodes length as a size-byte big-endian prefix and
// appends it to dst. It is the write-side complement of the parser, exported
// for transports and tests that produce framed streams.
func AppendLengthPrefix(dst []byte, size, length int) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(length))
	return append(dst, tmp[8-size:]...)
}

// Mode reports the strategy selected at construction.
func (p *Parser) Mode() Mode {
	return p.mode
}

// Closed reports whether the parser has stopped processing, either through
// Close or after a fatal error, EOF, or transport error.
func (p *Parser) Closed() bool {
	return p.closed
}

// IsBufferMovable reports whether the transport may deliver buffers it owns
// through ReadBufferAvailable instead of filling the parser-supplied buffer.
// Only the frame-length mode accepts movable buffers.
func (p *Parser) IsBufferMovable() bool {
	return p.mode != ModeAllocating
}

// GetReadBuffer returns the buffer the transport should fill with incoming
// bytes. In allocating mode the buffer is allocator-owned and must be filled
// in place. Returns nil once the parser is closed or failed, signalling the
// transport to stop reading.
func (p *Parser) GetReadBuffer() []byte {
	if p.closed {
		return nil
	}
	return p.strat.getReadBuffer()
}

// ReadDataAvailable signals that n bytes were written into the buffer last
// returned by GetReadBuffer. Zero or more completed frames are delivered to
// the Owner before it returns.
func (p *Parser) ReadDataAvailable(n int) {
	if p.closed || n == 0 {
		return
	}
	if err := p.strat.dataAvailable(n); err != nil {
		p.fatal(err)
	}
}

// ReadBufferAvailable delivers a buffer owned by the transport. Valid only
// when IsBufferMovable reports true; the frame-length strategy copies the
// bytes into its queue, so the transport may recycle buf once this returns.
func (p *Parser) ReadBufferAvailable(buf []byte) {
	if p.closed {
		return
	}
	if !p.IsBufferMovable() {
		p.fatal(ErrIllegalBufferAvailable)
		return
	}
	if err := p.strat.bufferAvailable(buf); err != nil {
		p.fatal(err)
	}
}

// ReadEOF signals a clean transport close. An in-flight partial frame at
// this point is a protocol violation and is surfaced through OnEOF as an
// ErrTruncatedStream.
func (p *Parser) ReadEOF() {
	if p.closed {
		return
	}
	var err error
	if p.strat.hasPartialFrame() {
		err = fmt.Errorf("%w: %d bytes buffered at EOF", ErrTruncatedStream, p.strat.bufferedLen())
	}
	p.shutdown()
	p.owner.OnEOF(err)
}

// ReadErr signals a transport-level I/O error. Parsing state is abandoned
// and err is forwarded to the Owner verbatim.
func (p *Parser) ReadErr(err error) {
	if p.closed {
		return
	}
	p.shutdown()
	p.owner.OnError(err)
}

// BufferedLen reports how many received bytes are buffered but not yet
// delivered as part of a completed frame.
func (p *Parser) BufferedLen() int {
	if p.closed {
		return 0
	}
	return p.strat.bufferedLen()
}

// Close releases all buffered and allocator-held state without invoking any
// further Owner callbacks. It is the destruction path for a connection being
// torn down and is idempotent.
func (p *Parser) Close() {
	if p.closed {
		return
	}
	p.shutdown()
}

func (p *Parser) fatal(err error) {
	p.shutdown()
	p.owner.OnError(err)
}

func (p *Parser) shutdown() {
	p.closed = true
	p.strat.release()
}
