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

// Package netpoll binds framer parsers to netpoll connections. Each accepted
// connection gets its own Parser; the event loop's read readiness is pumped
// through the parser's read-callback contract.
package netpoll

import (
	"context"

	"github.com/cloudwego/netpoll"

	"github.com/cloudwego/framer/pkg/parser"
)

// ConnParser pumps one connection's readable bytes into one Parser. It runs
// on the connection's event-loop goroutine, matching the parser's
// single-threaded contract.
type ConnParser struct {
	p *parser.Parser
}

// NewConnParser binds p to a connection's read path.
func NewConnParser(p *parser.Parser) *ConnParser {
	return &ConnParser{p: p}
}

// Parser returns the bound parser.
func (cp *ConnParser) Parser() *parser.Parser {
	return cp.p
}

// OnRead drains every byte currently readable on conn into the parser. In
// movable-buffer mode netpoll's zero-copy span is handed to the parser
// directly (the frame-length strategy copies it, so the span is released
// right after); in allocating mode the parser-supplied buffer is filled in
// place. Returns ErrParserClosed once the parser has failed or finished, so
// the caller can close the connection.
func (cp *ConnParser) OnRead(ctx context.Context, conn netpoll.Connection) error {
	reader := conn.Reader()
	for {
		if cp.p.Closed() {
			return parser.ErrParserClosed
		}
		n := reader.Len()
		if n == 0 {
			return nil
		}
		if cp.p.IsBufferMovable() {
			buf, err := reader.Next(n)
			if err != nil {
				cp.p.ReadErr(err)
				return err
			}
			cp.p.ReadBufferAvailable(buf)
			reader.Release()
			continue
		}
		dst := cp.p.GetReadBuffer()
		if len(dst) == 0 {
			return parser.ErrParserClosed
		}
		if n > len(dst) {
			n = len(dst)
		}
		src, err := reader.Next(n)
		if err != nil {
			cp.p.ReadErr(err)
			return err
		}
		copy(dst, src)
		reader.Release()
		cp.p.ReadDataAvailable(n)
	}
}

// OnClosed propagates the peer's close to the parser.
func (cp *ConnParser) OnClosed() {
	cp.p.ReadEOF()
}
