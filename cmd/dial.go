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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/sabouaram/streamcore/channel"
	libcfg "github.com/sabouaram/streamcore/config"
	"github.com/sabouaram/streamcore/crypto/defaultengine"
	"github.com/sabouaram/streamcore/endpoint/client"
	liblog "github.com/sabouaram/streamcore/logger"
	"github.com/sabouaram/streamcore/metrics"
	"github.com/sabouaram/streamcore/nodeaddr"
	"github.com/sabouaram/streamcore/reactor"
	"github.com/sabouaram/streamcore/stream"
)

const dataChannel byte = 0

func dialCmd() *cobra.Command {
	var localAddr string

	c := &cobra.Command{
		Use:   "dial",
		Short: "Connect to a remote endpoint and pipe stdin/stdout over channel 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDial(cmd.Context(), cfgFile, localAddr)
		},
	}
	c.Flags().StringVar(&localAddr, "local", "0000::0000::0000::0002", "this node's address (four 16-bit hex groups)")
	return c
}

func runDial(ctx context.Context, path, localAddr string) error {
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

	pool, err := reactor.NewPool(1, s.SessionTimeout, 256)
	if err != nil {
		return err
	}
	pool.Start()
	defer pool.Stop()

	progress := mpb.New(mpb.WithOutput(stdout))
	bar := progress.New(0,
		mpb.SpinnerStyle().PositionLeft(),
		mpb.PrependDecorators(decor.Name("connecting "+s.DialAddr)),
		mpb.AppendDecorators(decor.Elapsed(decor.ET_STYLE_GO)),
	)

	cl := client.New(client.Config{
		Addr:             s.DialAddr,
		Local:            local,
		Transport:        tr,
		Worker:           pool.Workers()[0],
		Crypto:           defaultengine.NewRegistry(),
		MaxBuf:           defaultMaxBuf,
		EncType:          s.EncType,
		KEMType:          s.KEMType,
		Channels:         []byte{dataChannel},
		HandshakeTimeout: 10 * time.Second,
		OnSession: func(strm *stream.Stream, mux *channel.Mux) {
			bar.SetTotal(1, true)
			ch, err := mux.Find(dataChannel)
			if err != nil {
				log.Error("no data channel after handshake", err, nil)
				return
			}
			ch.OnIn(func(payload []byte) {
				_, _ = os.Stdout.Write(payload)
			})
			go pipeStdinToChannel(mux)
		},
		OnDisconnect: func(err error) {
			log.Warn("disconnected", liblog.Fields{"error": err.Error()})
		},
		Log:     log,
		Metrics: mcs,
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-sig:
		case <-runCtx.Done():
			return
		}
		cl.Close()
		cancel()
	}()

	err = cl.Run(runCtx)
	progress.Shutdown()
	if runCtx.Err() != nil {
		return nil
	}
	return err
}

func pipeStdinToChannel(mux *channel.Mux) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := append(scanner.Bytes(), '\n')
		if err := mux.Write(dataChannel, 0, 0, line); err != nil {
			fmt.Fprintln(stdout, err)
			return
		}
	}
}
