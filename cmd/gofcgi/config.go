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

package main

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the shape of the optional YAML config file. Flag values
// seed it as defaults; whatever the file sets explicitly wins, since an
// operator who bothered to write a config file expects it to be
// authoritative over a flag's default value.
type fileConfig struct {
	Listen    string `yaml:"listen"`
	Multiplex bool   `yaml:"multiplex"`
}

// runConfig is the fully-resolved configuration for one run of the
// command, after merging the YAML file (if any) with CLI flags.
type runConfig struct {
	endpoint  *net.TCPAddr
	Multiplex bool
}

func loadConfig(path, addrFlag string, multiplexFlag bool) (*runConfig, error) {
	fc := fileConfig{Listen: addrFlag, Multiplex: multiplexFlag}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("gofcgi: opening config: %w", err)
		}
		defer f.Close()

		// Decoding into fc keeps the flag values for keys the file omits.
		if err := yaml.NewDecoder(f).Decode(&fc); err != nil {
			return nil, fmt.Errorf("gofcgi: parsing config: %w", err)
		}
	}

	addr, err := net.ResolveTCPAddr("tcp", fc.Listen)
	if err != nil {
		return nil, fmt.Errorf("gofcgi: resolving listen address %q: %w", fc.Listen, err)
	}

	return &runConfig{endpoint: addr, Multiplex: fc.Multiplex}, nil
}
