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

// Command gofcgi is a minimal example responder: it loads a Config from
// a YAML file and command-line flags, then serves an "echo" handler
// that reports a handful of CGI variables back to the web server. It
// exists to exercise Server end to end, not as a production responder.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wmeyer/gofcgi/fcgi"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var addr string
	var multiplex bool

	cmd := &cobra.Command{
		Use:   "gofcgi",
		Short: "Run an example FastCGI responder",
		Long: `gofcgi runs a FastCGI responder that accepts connections from an
upstream web server (nginx, Apache, lighttpd) and echoes a handful of
request variables back. Point your web server's FastCGI upstream at
the listen address and it will dispatch requests here.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath, addr, multiplex)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	flags.StringVar(&addr, "listen", "127.0.0.1:9000", "address to listen on")
	flags.BoolVar(&multiplex, "multiplex", false, "use the multiplexed dispatcher instead of the sequential one")
	pflag.CommandLine.AddFlagSet(flags)

	return cmd
}

func run(cfg *runConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("gofcgi: building logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	fcfg := fcgi.DefaultConfig()
	fcfg.Logger = logger
	fcfg.EndPoint = cfg.endpoint
	fcfg.CatchHandlerExceptions = true
	fcfg.FCGIMpxsConns = "0"
	if cfg.Multiplex {
		fcfg.FCGIMpxsConns = "1"
	}

	srv := fcgi.NewServer(fcfg, echoHandler)
	srv.Multiplex = cfg.Multiplex

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

// echoHandler is deliberately tiny: report the request method and a
// couple of variables, demonstrating the Handler contract end to end.
func echoHandler(_ context.Context, req *fcgi.Request, resp *fcgi.Response) error {
	host, _ := req.Header("Host")
	body := fmt.Sprintf("%s %s\nHost: %s\n", req.RequestMethod(), req.RequestURI(), host)
	return resp.Put([]byte(body))
}
