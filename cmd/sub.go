// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/mqttsn-tools/pkg/client"
	"github.com/Thermoquad/mqttsn-tools/pkg/metrics"
	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/payload"
)

var (
	subTopics      []string
	subTopicIDs    []uint
	subSingle      bool
	subVerbose     bool
	subTimestamps  bool
	subFormat      string
	subTUI         bool
	subMetricsAddr string
)

var subCmd = &cobra.Command{
	Use:   "sub",
	Short: "Subscribe to topics on an MQTT-SN gateway",
	Long: `Connect to an MQTT-SN gateway, subscribe to one or more topics and print
every message received until interrupted.

-t subscribes to a topic name (two character names are short topics) and
-T to a predefined topic id; both may be repeated. QoS 1 messages are
acknowledged. Empty messages are ignored with a warning.

Output:
  default     the message only
  -v          topic: message
  -V          date time topic: message

--tui shows a live table of topics instead, and --metrics-addr serves
session statistics for Prometheus while subscribed.

Exit codes:
  0 - Stopped normally
  1 - Subscribe failed or the gateway ended the session
  2 - Connection error`,
	RunE: runSub,
}

func init() {
	rootCmd.AddCommand(subCmd)
	subCmd.Flags().StringArrayVarP(&subTopics, "topic", "t", nil, "Topic name to subscribe to (repeatable)")
	subCmd.Flags().UintSliceVarP(&subTopicIDs, "topic-id", "T", nil, "Predefined topic id to subscribe to (repeatable)")
	subCmd.Flags().BoolVarP(&subSingle, "single", "1", false, "Exit after the first message")
	subCmd.Flags().BoolVarP(&subVerbose, "verbose", "v", false, "Print the topic name with each message")
	subCmd.Flags().BoolVarP(&subTimestamps, "verbose-time", "V", false, "Print time and topic name with each message")
	subCmd.Flags().StringVar(&subFormat, "format", string(payload.FormatRaw), "Display format: raw, hex or cbor")
	subCmd.Flags().BoolVar(&subTUI, "tui", false, "Show a live topic table")
	subCmd.Flags().StringVar(&subMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	subCmd.MarkFlagsMutuallyExclusive("tui", "single")
}

// received is one PUBLISH as shown to the user
type received struct {
	time  time.Time
	topic string
	qos   mqttsn.QoS
	data  []byte
}

// formatMessage renders a message for line output. verbosity 1 adds the
// topic and 2 adds the time.
func formatMessage(m received, verbosity int, format payload.Format) string {
	data := payload.Render(format, m.data)
	switch {
	case verbosity >= 2:
		return fmt.Sprintf("%s %s: %s", m.time.Format("2006-01-02 15:04:05"), m.topic, data)
	case verbosity == 1:
		return fmt.Sprintf("%s: %s", m.topic, data)
	default:
		return data
	}
}

func runSub(cmd *cobra.Command, args []string) error {
	format, err := payload.ParseFormat(subFormat)
	if err != nil {
		return err
	}
	if len(subTopics) == 0 && len(subTopicIDs) == 0 {
		return fmt.Errorf("at least one --topic or --topic-id must be specified")
	}
	for _, id := range subTopicIDs {
		if id == 0 || id > math.MaxUint16 {
			return fmt.Errorf("topic id %d out of range", id)
		}
	}
	if cfg.QoS < 0 {
		return fmt.Errorf("QoS -1 cannot subscribe")
	}

	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		return err
	}
	for _, topic := range subTopics {
		if _, err := c.Subscribe(topic); err != nil {
			return err
		}
	}
	for _, id := range subTopicIDs {
		if _, err := c.SubscribeTopicID(uint16(id)); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if subMetricsAddr != "" {
		serveMetrics(ctx, g, subMetricsAddr, c)
	}

	var deliver func(received)
	if subTUI {
		program := tea.NewProgram(newSubModel(c.Stats, format, subTopics, subTopicIDs), tea.WithAltScreen(), tea.WithContext(ctx))
		deliver = func(m received) { program.Send(publishMsg(m)) }
		g.Go(func() error {
			defer cancel()
			_, err := program.Run()
			if errors.Is(err, tea.ErrProgramKilled) {
				return nil
			}
			return err
		})
	} else {
		verbosity := 0
		if subVerbose {
			verbosity = 1
		}
		if subTimestamps {
			verbosity = 2
		}
		deliver = func(m received) { fmt.Println(formatMessage(m, verbosity, format)) }
	}

	var gatewayClosed bool
	g.Go(func() error {
		defer cancel()
		err := receiveLoop(ctx, c, deliver)
		var disc *client.DisconnectError
		if errors.As(err, &disc) {
			gatewayClosed = true
		}
		return err
	})

	err = g.Wait()
	if gatewayClosed {
		return err
	}
	if derr := c.Disconnect(); derr != nil && err == nil {
		err = derr
	}
	return err
}

// receiveLoop delivers PUBLISH messages until ctx is done, the gateway
// disconnects or, with -1, after the first message
func receiveLoop(ctx context.Context, c *client.Client, deliver func(received)) error {
	for {
		p, err := c.ReceivePublish(ctx)
		switch {
		case errors.Is(err, client.ErrNoReply):
			continue
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			return err
		}

		if p.Flags.QoS == mqttsn.QoS1 {
			if err := c.Acknowledge(p, mqttsn.Accepted); err != nil {
				return err
			}
		}

		topic := c.TopicName(p)
		if len(p.Data) == 0 {
			slog.Warn("ignoring empty message", "topic", topic)
			continue
		}

		deliver(received{time: time.Now(), topic: topic, qos: p.Flags.QoS, data: p.Data})
		if subSingle {
			return nil
		}
	}
}

// serveMetrics runs a Prometheus endpoint for c until ctx is done
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, c *client.Client) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(metrics.NewRegistry(metrics.NewCollector(metrics.DefaultNamespace, c.Stats))))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
