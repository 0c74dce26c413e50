package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/quill"
	"github.com/user/quill/pkg/sink/stomp"
)

var (
	tailSocksHost string
	tailSocksPort uint16
	tailInsecure  bool
	tailTimeout   time.Duration
)

func init() {
	tailCmd.Flags().StringVar(&tailSocksHost, "socks-host", "", "SOCKS5 proxy host")
	tailCmd.Flags().Uint16Var(&tailSocksPort, "socks-port", 0, "SOCKS5 proxy port")
	tailCmd.Flags().BoolVar(&tailInsecure, "accept-self-signed", false, "accept a self-signed broker certificate")
	tailCmd.Flags().DurationVar(&tailTimeout, "timeout", 5*time.Second, "time to wait for the broker to confirm delivery")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail <stomp-url> <message>",
	Short: "Connect to a STOMP broker, send one event, and report whether it was confirmed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, message := args[0], args[1]

		sink, err := stomp.New("quillctl", url)
		if err != nil {
			return err
		}
		defer sink.Close()

		if tailSocksHost != "" {
			sink.UseSocks(tailSocksHost, tailSocksPort)
		}
		sink.AcceptSelfSigned(tailInsecure)

		deadline := time.Now().Add(tailTimeout)
		for {
			if sink.Write(quill.Event{Level: quill.Info, Message: message, Time: time.Now()}) {
				fmt.Println("receipt confirmed: event delivered")
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("no receipt within %s", tailTimeout)
			}
			time.Sleep(100 * time.Millisecond)
		}
	},
}
