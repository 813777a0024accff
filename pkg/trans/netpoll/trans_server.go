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
	"net"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/netpoll"

	"github.com/cloudwego/framer/pkg/klog"
	"github.com/cloudwego/framer/pkg/parser"
)

// OwnerFactory creates the frame consumer for one accepted connection.
type OwnerFactory func(conn netpoll.Connection) parser.Owner

type ctxKeyConnParser struct{}

// TransServer accepts connections on a netpoll event loop and runs one
// Parser per connection, delivering frames to Owners built by the factory.
type TransServer struct {
	factory OwnerFactory
	popts   []parser.Option

	evl       netpoll.EventLoop
	ln        net.Listener
	connCount int32
	mu        sync.Mutex
}

// NewTransServer creates a TransServer; popts configure every
// per-connection Parser identically (mode, prefix width, limits, allocator).
func NewTransServer(factory OwnerFactory, popts ...parser.Option) *TransServer {
	return &TransServer{factory: factory, popts: popts}
}

// Serve runs the event loop on ln, blocking until Shutdown or a fatal
// listener error.
func (ts *TransServer) Serve(ln net.Listener) error {
	ts.mu.Lock()
	evl, err := netpoll.NewEventLoop(ts.onConnRead, netpoll.WithOnPrepare(ts.onConnPrepare))
	if err == nil {
		ts.evl = evl
		// Convert the listener so that closing it also stops the event loop.
		ts.ln, err = netpoll.ConvertListener(ln)
	}
	ts.mu.Unlock()
	if err != nil {
		return err
	}
	return ts.evl.Serve(ts.ln)
}

// Shutdown stops accepting and closes the event loop, waiting up to the
// context deadline for in-flight reads to finish.
func (ts *TransServer) Shutdown(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.evl == nil {
		return nil
	}
	return ts.evl.Shutdown(ctx)
}

// ConnCount reports the number of live connections.
func (ts *TransServer) ConnCount() int {
	return int(atomic.LoadInt32(&ts.connCount))
}

func (ts *TransServer) onConnPrepare(conn netpoll.Connection) context.Context {
	cp := NewConnParser(parser.NewParser(ts.factory(conn), ts.popts...))
	atomic.AddInt32(&ts.connCount, 1)
	conn.AddCloseCallback(func(connection netpoll.Connection) error {
		atomic.AddInt32(&ts.connCount, -1)
		cp.OnClosed()
		return nil
	})
	return context.WithValue(context.Background(), ctxKeyConnParser{}, cp)
}

func (ts *TransServer) onConnRead(ctx context.Context, conn netpoll.Connection) error {
	cp, ok := ctx.Value(ctxKeyConnParser{}).(*ConnParser)
	if !ok {
		klog.Errorf("FRAMER: connection context carries no parser, closing %s", conn.RemoteAddr())
		return conn.Close()
	}
	if err := cp.OnRead(ctx, conn); err != nil {
		// The parser already reported the failure to its Owner; the
		// connection has nothing left to deliver.
		return conn.Close()
	}
	return nil
}
