// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/transport"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Forward MQTT-SN frames between a serial link and a UDP gateway",
	Long: `Bridge a serial port or WebSocket link to an MQTT-SN gateway over UDP.

Every frame reassembled from the serial stream is sent to the gateway as one
datagram, and every datagram from the gateway is written to the serial
stream. Frames that do not decode as MQTT-SN are dropped and counted.

Example:
  mqttsn bridge --serial /dev/ttyUSB0 --baud 9600 --host gateway.local

Exit codes:
  0 - Stopped normally
  1 - A link failed while forwarding
  2 - Connection error`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
}

// bridge forwards frames between a node link and a gateway link
type bridge struct {
	node    transport.Transport
	gateway transport.Transport

	mu    sync.Mutex
	stats *client.Statistics
}

func newBridge(node, gateway transport.Transport) *bridge {
	return &bridge{
		node:    node,
		gateway: gateway,
		stats:   client.NewStatistics(time.Now()),
	}
}

// Stats returns a snapshot of the forwarded traffic. Frames towards the
// gateway count as sent.
func (b *bridge) Stats() client.Statistics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats.Clone()
}

// Run forwards in both directions until ctx is done or a link fails. Both
// links are closed on return so receives without a timeout are released.
func (b *bridge) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		b.node.Close()
		b.gateway.Close()
		return nil
	})
	g.Go(func() error {
		return b.forward(ctx, b.node, b.gateway, func(s *client.Statistics, t mqttsn.MsgType) {
			s.RecordSent(t, time.Now())
		})
	})
	g.Go(func() error {
		return b.forward(ctx, b.gateway, b.node, func(s *client.Statistics, t mqttsn.MsgType) {
			s.RecordReceived(t, time.Now())
		})
	})
	return g.Wait()
}

func (b *bridge) forward(ctx context.Context, from, to transport.Transport, record func(*client.Statistics, mqttsn.MsgType)) error {
	log := slog.With("from", from.String(), "to", to.String())

	for ctx.Err() == nil {
		frame, err := from.Receive()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrTimeout):
				continue
			case errors.Is(err, transport.ErrFrame):
				b.update(func(s *client.Statistics) { s.Malformed++ })
				log.Warn("dropping invalid frame", "error", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receive from %s: %w", from, err)
		}

		p, err := mqttsn.Decode(frame)
		if err != nil {
			b.update(func(s *client.Statistics) { s.Malformed++ })
			log.Warn("dropping packet", "error", err, "bytes", fmt.Sprintf("% X", frame))
			continue
		}

		if _, err := to.Send(frame); err != nil {
			return fmt.Errorf("send to %s: %w", to, err)
		}
		b.update(func(s *client.Statistics) { record(s, p.Type()) })
		log.Debug("forwarded", "type", p.Type(), "bytes", len(frame))
	}
	return nil
}

func (b *bridge) update(fn func(s *client.Statistics)) {
	b.mu.Lock()
	fn(b.stats)
	b.mu.Unlock()
}

func runBridge(cmd *cobra.Command, args []string) error {
	if err := cfg.ValidateSession(); err != nil {
		return err
	}

	node, err := OpenStream()
	if err != nil {
		return &exitError{code: exitConnection, err: err}
	}
	defer node.Close()

	gateway := cfg.Datagram()
	if err := gateway.Initialize(); err != nil {
		return &exitError{code: exitConnection, err: err}
	}
	defer gateway.Close()

	fmt.Printf("MQTT-SN - Bridge\n")
	fmt.Printf("Node: %s\n", node)
	fmt.Printf("Gateway: %s (local %s)\n", gateway, gateway.LocalAddr())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := newBridge(node, gateway)
	err = b.Run(ctx)

	stats := b.Stats()
	stats.LastUpdateTime = time.Now()
	fmt.Print("\n" + stats.String())
	return err
}
