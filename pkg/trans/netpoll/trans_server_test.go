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

package netpoll

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/netpoll"
	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/framer/internal/test"
	"github.com/cloudwego/framer/pkg/parser"
)

// collectingOwner appends frame bodies for one connection. Per-connection
// callbacks are single-threaded, so only the shared counter needs sync.
type collectingOwner struct {
	bodies [][]byte
	total  *int64
}

func (o *collectingOwner) OnFrame(f *parser.Frame) {
	o.bodies = append(o.bodies, append([]byte(nil), f.Bytes()...))
	atomic.AddInt64(o.total, 1)
}

func (o *collectingOwner) OnEOF(err error) {}

func (o *collectingOwner) OnError(err error) {}

func TestTransServerDeliversFramedStreams(t *testing.T) {
	const (
		numConns      = 4
		framesPerConn = 50
	)
	for _, mode := range []string{parser.ModeNameFrameLength, parser.ModeNameAllocating} {
		t.Run(mode, func(t *testing.T) {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			test.Assert(t, err == nil, err)

			var (
				mu     sync.Mutex
				owners []*collectingOwner
				total  int64
			)
			factory := func(conn netpoll.Connection) parser.Owner {
				o := &collectingOwner{total: &total}
				mu.Lock()
				owners = append(owners, o)
				mu.Unlock()
				return o
			}

			ts := NewTransServer(factory, parser.WithMode(mode), parser.WithBlockSize(64))
			go func() { _ = ts.Serve(ln) }()
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				ts.Shutdown(ctx)
			}()

			var eg errgroup.Group
			for c := 0; c < numConns; c++ {
				c := c
				eg.Go(func() error {
					conn, err := net.Dial("tcp", ln.Addr().String())
					if err != nil {
						return err
					}
					defer conn.Close()
					var stream []byte
					for i := 0; i < framesPerConn; i++ {
						body := []byte(fmt.Sprintf("conn-%d-frame-%04d", c, i))
						stream = parser.AppendLengthPrefix(stream, 3, len(body))
						stream = append(stream, body...)
					}
					// Dribble in awkward sizes so frames split across reads.
					for off := 0; off < len(stream); {
						n := 7
						if off+n > len(stream) {
							n = len(stream) - off
						}
						if _, err := conn.Write(stream[off : off+n]); err != nil {
							return err
						}
						off += n
					}
					return nil
				})
			}
			test.Assert(t, eg.Wait() == nil)

			deadline := time.Now().Add(5 * time.Second)
			for atomic.LoadInt64(&total) < numConns*framesPerConn && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			test.Assertf(t, atomic.LoadInt64(&total) == numConns*framesPerConn,
				"got %d frames, want %d", atomic.LoadInt64(&total), numConns*framesPerConn)

			// Receipt order per connection must match send order.
			mu.Lock()
			defer mu.Unlock()
			test.Assert(t, len(owners) == numConns, len(owners))
			for _, o := range owners {
				test.Assert(t, len(o.bodies) == framesPerConn, len(o.bodies))
				var connID, seq int
				for i, b := range o.bodies {
					_, err := fmt.Sscanf(string(b), "conn-%d-frame-%04d", &connID, &seq)
					test.Assert(t, err == nil, err, string(b))
					test.Assertf(t, seq == i, "frame %d arrived at position %d", seq, i)
				}
			}
		})
	}
}
