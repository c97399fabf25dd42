// Command kvline-cli is the interactive client: ping, get, set, publish,
// and subscribe subcommands, each a thin wrapper over package client.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lineframe/kvline/client"
	"github.com/lineframe/kvline/frame"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var hostname string
	var port uint16

	root := &cobra.Command{
		Use:   "kvline-cli",
		Short: "Talk to a kvline server",
	}
	root.PersistentFlags().StringVar(&hostname, "hostname", "127.0.0.1", "server hostname")
	root.PersistentFlags().Uint16Var(&port, "port", 6379, "server port")

	dial := func() (*client.Client, error) {
		return client.Dial(fmt.Sprintf("%s:%d", hostname, port))
	}

	root.AddCommand(newPingCmd(dial))
	root.AddCommand(newGetCmd(dial))
	root.AddCommand(newSetCmd(dial))
	root.AddCommand(newPublishCmd(dial))
	root.AddCommand(newSubscribeCmd(dial))
	return root
}

type dialFunc func() (*client.Client, error)

// requestFrame builds the Array-of-Bulk request frame for name with args,
// the same shape every command on the wire takes.
func requestFrame(name string, args ...string) frame.Frame {
	items := make([]frame.Frame, 0, len(args)+1)
	items = append(items, frame.BulkFrame([]byte(name)))
	for _, a := range args {
		items = append(items, frame.BulkFrame([]byte(a)))
	}
	return frame.ArrayOf(items)
}

func newPingCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "ping [message]",
		Short: "Ping the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer cl.Close()

			reply, err := cl.Do(requestFrame("PING", args...))
			if err != nil {
				return err
			}
			fmt.Println(client.FormatReply(reply))
			return nil
		},
	}
}

func newGetCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a key's value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer cl.Close()

			reply, err := cl.Do(requestFrame("GET", args[0]))
			if err != nil {
				return err
			}
			fmt.Println(client.FormatReply(reply))
			return nil
		},
	}
}

func newSetCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value> [expiry-ms]",
		Short: "Set a key's value, with an optional expiry in milliseconds",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer cl.Close()

			reqArgs := []string{args[0], args[1]}
			if len(args) == 3 {
				if _, err := strconv.ParseInt(args[2], 10, 64); err != nil {
					return fmt.Errorf("invalid expiry %q: %w", args[2], err)
				}
				reqArgs = append(reqArgs, "PX", args[2])
			}
			reply, err := cl.Do(requestFrame("SET", reqArgs...))
			if err != nil {
				return err
			}
			fmt.Println(client.FormatReply(reply))
			return nil
		},
	}
}

func newPublishCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <channel> <message>",
		Short: "Publish a message to a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer cl.Close()

			reply, err := cl.Do(requestFrame("PUBLISH", args[0], args[1]))
			if err != nil {
				return err
			}
			fmt.Println(client.FormatReply(reply))
			return nil
		},
	}
}

func newSubscribeCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <channel>...",
		Short: "Subscribe to one or more channels and print messages forever",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := dial()
			if err != nil {
				return err
			}
			defer cl.Close()

			sub, err := cl.Subscribe(args...)
			if err != nil {
				return err
			}
			for {
				channel, payload, err := sub.Next()
				if err != nil {
					return err
				}
				msg := frame.Array(frame.Simple("message"), frame.Simple(channel), frame.BulkFrame(payload))
				fmt.Println(client.FormatReply(msg))
			}
		},
	}
}
