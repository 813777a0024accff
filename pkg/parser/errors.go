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

import "errors"

// Fatal framing errors. Once one of these is reported through Owner.OnError,
// the parser stops processing and all further read callbacks are no-ops; the
// Owner is expected to tear down the connection.
var (
	// ErrFrameTooLarge indicates a decoded length prefix exceeded the
	// configured maximum frame size.
	ErrFrameTooLarge = errors.New("framer: frame length exceeds maximum")

	// ErrTruncatedStream indicates the peer closed the stream in the middle
	// of a length prefix or frame body. Reported through Owner.OnEOF to keep
	// it distinguishable from a clean close.
	ErrTruncatedStream = errors.New("framer: stream truncated mid-frame")

	// ErrIllegalBufferAvailable indicates ReadBufferAvailable was invoked on
	// a parser whose mode does not accept movable buffers.
	ErrIllegalBufferAvailable = errors.New("framer: buffer delivered to non-movable parser")

	// ErrParserClosed indicates bytes arrived for a parser that already
	// failed or was closed. Transports should stop reading at this point.
	ErrParserClosed = errors.New("framer: parser closed")
)
