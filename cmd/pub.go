// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/mqttsn-tools/pkg/mqttsn"
	"github.com/Thermoquad/mqttsn-tools/pkg/payload"
)

var (
	pubMessage string
	pubNull    bool
	pubFile    string
	pubStdin   bool
	pubLines   bool
	pubFormat  string
)

var pubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish a message to an MQTT-SN gateway",
	Long: `Connect to an MQTT-SN gateway, publish one or more messages and disconnect.

The message comes from exactly one of:
  -m "text"   the given string
  -n          an empty (null) message
  -f file     the contents of a file (- reads stdin)
  -s          the whole of stdin
  -l          stdin, one message per line

Files and stdin longer than 248 bytes are truncated with a warning. With
--format hex the input is hex text; with --format cbor it is JSON that is
converted to CBOR before sending.

Topic names of two characters are sent as short topics, other names are
registered first. -T publishes to a predefined topic id. QoS -1 publishes
without a connection and needs a short topic or a predefined id.

Exit codes:
  0 - All messages published
  1 - Publish failed or the gateway did not answer
  2 - Connection error`,
	RunE: runPub,
}

func init() {
	rootCmd.AddCommand(pubCmd)
	pubCmd.Flags().StringVarP(&pubMessage, "message", "m", "", "Message payload")
	pubCmd.Flags().BoolVarP(&pubNull, "null", "n", false, "Send an empty message")
	pubCmd.Flags().StringVarP(&pubFile, "file", "f", "", "Send the contents of a file")
	pubCmd.Flags().BoolVarP(&pubStdin, "stdin", "s", false, "Send the whole of stdin as one message")
	pubCmd.Flags().BoolVarP(&pubLines, "lines", "l", false, "Send each line of stdin as a message")
	pubCmd.Flags().StringVar(&pubFormat, "format", string(payload.FormatRaw), "Input format: raw, hex or cbor")
	pubCmd.Flags().StringVarP(&cfg.Topic, "topic", "t", cfg.Topic, "Topic name to publish to")
	pubCmd.Flags().Uint16VarP(&cfg.TopicID, "topic-id", "T", cfg.TopicID, "Predefined topic id to publish to")
	pubCmd.Flags().BoolVarP(&cfg.Retain, "retain", "r", cfg.Retain, "Ask the gateway to retain the message")
	pubCmd.Flags().DurationVarP(&cfg.SleepDuration, "sleep", "e", cfg.SleepDuration, "Sleep duration sent with DISCONNECT")
	pubCmd.Flags().BoolVar(&cfg.SkipSleepAck, "no-sleep-ack", cfg.SkipSleepAck, "Do not wait for the gateway to confirm a sleeping disconnect")
	pubCmd.MarkFlagsMutuallyExclusive("message", "null", "file", "stdin", "lines")
	pubCmd.MarkFlagsOneRequired("message", "null", "file", "stdin", "lines")
	pubCmd.MarkFlagsMutuallyExclusive("topic", "topic-id")
}

func runPub(cmd *cobra.Command, args []string) error {
	format, err := payload.ParseFormat(pubFormat)
	if err != nil {
		return err
	}
	if cfg.Topic == "" && cfg.TopicID == 0 {
		return fmt.Errorf("either --topic or --topic-id must be specified")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Read the payload before connecting so input errors do not leave a
	// half open session behind
	var messages [][]byte
	if !pubLines {
		data, err := readMessage()
		if err != nil {
			return err
		}
		encoded, err := payload.Encode(format, data)
		if err != nil {
			return err
		}
		messages = append(messages, encoded)
	}

	c, err := openClient()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Connect(); err != nil {
		return err
	}

	for _, m := range messages {
		if err := c.Publish(m); err != nil {
			return err
		}
	}

	if pubLines {
		err := payload.ScanLines(os.Stdin, func(line []byte, truncated bool) error {
			if truncated {
				slog.Warn("line too long, truncating", "max", payload.MaxLength)
			}
			encoded, err := payload.Encode(format, line)
			if err != nil {
				return err
			}
			return c.Publish(encoded)
		})
		if err != nil {
			return err
		}
	}

	if err := c.Disconnect(); err != nil {
		return err
	}

	slog.Info("publish complete", "messages", c.Stats().Sent[mqttsn.MsgPublish])
	return nil
}

// readMessage returns the payload selected by -m, -n, -f or -s
func readMessage() ([]byte, error) {
	var (
		data      []byte
		truncated bool
		err       error
	)

	switch {
	case pubNull:
		return []byte{}, nil
	case pubFile != "":
		data, truncated, err = payload.ReadFile(pubFile)
	case pubStdin:
		data, truncated, err = payload.Read(os.Stdin)
	default:
		return []byte(pubMessage), nil
	}
	if err != nil {
		return nil, err
	}
	if truncated {
		slog.Warn("input too long, truncating", "max", payload.MaxLength)
	}
	return data, nil
}
