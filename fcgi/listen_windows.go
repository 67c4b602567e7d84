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

import "net"

// listenTCPBacklog falls back to net.ListenTCP on Windows: overriding
// listen(2)'s backlog means building the socket by hand the way
// listen_unix.go does for golang.org/x/sys/unix, which this package
// doesn't do for windows/winsock -- Config.ListenBacklog is accepted but
// has no effect here.
func listenTCPBacklog(addr *net.TCPAddr, _ int) (net.Listener, error) {
	return net.ListenTCP("tcp", addr)
}
