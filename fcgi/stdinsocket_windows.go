// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build windows

package fcgi

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/windows"
)

// acquireStdinListener duplicates the socket handle an upstream server
// passed as standard input into a Go net.Listener, per Design Notes §9.
// IIS's FastCGI module and some Apache configurations on Windows start
// the responder process with its listening socket already bound to file
// descriptor 0 rather than passing an address to dial.
func acquireStdinListener() (net.Listener, error) {
	h := windows.Handle(os.Stdin.Fd())

	var protInfo windows.WSAProtocolInfo
	if err := windows.WSADuplicateSocket(h, uint32(os.Getpid()), &protInfo); err != nil {
		return nil, fmt.Errorf("fcgi: duplicating stdin socket: %w", err)
	}

	sock, err := windows.WSASocket(
		int32(protInfo.AddressFamily),
		int32(protInfo.SocketType),
		int32(protInfo.Protocol),
		&protInfo,
		0,
		windows.WSA_FLAG_OVERLAPPED,
	)
	if err != nil {
		return nil, fmt.Errorf("fcgi: recreating stdin socket: %w", err)
	}

	f := os.NewFile(uintptr(sock), "fcgi-stdin-socket")
	defer f.Close()

	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("fcgi: listener from stdin socket: %w", err)
	}
	return ln, nil
}
