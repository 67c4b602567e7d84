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

//go:build !windows

package fcgi

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCPBacklog builds a TCP listener bound to addr with the given
// listen(2) backlog. net.ListenTCP has no way to ask for anything but the
// kernel's default backlog, so Config.ListenBacklog has to be applied by
// building the socket directly and handing it to net.FileListener, the
// same dup-the-fd-into-net handoff acquireStdinListener uses for an
// inherited socket.
func listenTCPBacklog(addr *net.TCPAddr, backlog int) (net.Listener, error) {
	domain := unix.AF_INET
	var sa unix.Sockaddr
	if ip4 := addr.IP.To4(); addr.IP != nil && ip4 == nil {
		domain = unix.AF_INET6
		var a [16]byte
		copy(a[:], addr.IP.To16())
		sa = &unix.SockaddrInet6{Port: addr.Port, Addr: a}
	} else {
		var a [4]byte
		copy(a[:], ip4)
		sa = &unix.SockaddrInet4{Port: addr.Port, Addr: a}
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("fcgi: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fcgi: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fcgi: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fcgi: listen: %w", err)
	}

	f := os.NewFile(uintptr(fd), "fcgi-listener")
	defer f.Close()
	ln, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("fcgi: listener from socket: %w", err)
	}
	return ln, nil
}
