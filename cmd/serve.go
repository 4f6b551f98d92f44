/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/sabouaram/streamcore/channel"
	"github.com/sabouaram/streamcore/crypto/defaultengine"
	libcfg "github.com/sabouaram/streamcore/config"
	liberr "github.com/sabouaram/streamcore/errors"
	"github.com/sabouaram/streamcore/endpoint/server"
	liblog "github.com/sabouaram/streamcore/logger"
	"github.com/sabouaram/streamcore/metrics"
	"github.com/sabouaram/streamcore/nodeaddr"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/session"
	"github.com/sabouaram/streamcore/stream"
	"github.com/sabouaram/streamcore/transport/tcp"
	"github.com/sabouaram/streamcore/transport/udp"
)

func serveCmd() *cobra.Command {
	var localAddr string

	c := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and serve sessions on the configured transport",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgFile, localAddr)
		},
	}
	c.Flags().StringVar(&localAddr, "local", "0000::0000::0000::0001", "this node's address (four 16-bit hex groups)")
	return c
}

func runServe(ctx context.Context, path, localAddr string) error {
	s, err := libcfg.Load(path)
	if err != nil {
		return err
	}

	local, err := nodeaddr.Parse(localAddr)
	if err != nil {
		return err
	}

	log := liblog.New(stdout, logLevelFromString(s.LogLevel))

	reg := prometheus.NewRegistry()
	mcs := metrics.New(reg)

	tr, err := buildTransport(s, nil)
	if err != nil {
		return err
	}

	pool, err := reactor.NewPool(s.WorkerCount, s.SessionTimeout, 256)
	if err != nil {
		return err
	}
	pool.Start()
	defer pool.Stop()

	var listener *reactor.Descriptor
	switch s.TransportName {
	case "tcp":
		listener, err = tcp.Listen(defaultMaxBuf, s.ListenAddr)
	case "udp":
		listener, err = udp.Bind(defaultMaxBuf, s.ListenAddr)
	default:
		// http-tunnel, websocket and dns-tunnel hand descriptors to
		// HandleAccepted through their own wire protocol rather than a
		// polling listener; wiring those into a standalone process
		// means running their native server (net/http, the DNS
		// resolver loop) and calling HandleAccepted per request, which
		// is left to the embedding application rather than this CLI.
		err = liberr.New(ErrUnknownTransport, s.TransportName+" has no standalone listener, embed endpoint/server directly")
	}
	if err != nil {
		return err
	}

	srv := server.New(server.Config{
		Listener:         listener,
		Transport:        tr,
		Pool:             pool,
		Sessions:         session.NewStore(s.SessionTimeout),
		Crypto:           defaultengine.NewRegistry(),
		Local:            local,
		MaxBuf:           defaultMaxBuf,
		MaxConnPerAddr:   s.MaxConnPerAddr,
		HandshakeTimeout: 10 * time.Second,
		OnSession: func(strm *stream.Stream, mux *channel.Mux) {
			log.Info("session open", liblog.Fields{"remote": strm.Descriptor().Remote})
		},
		Log:     log,
		Metrics: mcs,
	})

	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("listening", liblog.Fields{"addr": s.ListenAddr, "transport": s.TransportName})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Drain(drainCtx)
}

func logLevelFromString(s string) liblog.Level {
	switch s {
	case "panic":
		return liblog.PanicLevel
	case "fatal":
		return liblog.FatalLevel
	case "error":
		return liblog.ErrorLevel
	case "warn":
		return liblog.WarnLevel
	case "debug":
		return liblog.DebugLevel
	case "trace":
		return liblog.TraceLevel
	default:
		return liblog.InfoLevel
	}
}
