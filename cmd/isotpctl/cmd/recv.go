package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

var (
	yellow = color.New(color.FgYellow).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
)

var recvCMD = &cobra.Command{
	Use:   "recv",
	Short: "Install a flow-control filter and wait for one reassembled message",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDevice()
		if err != nil {
			return err
		}

		mask, pattern := canIDFilter(txID)
		_, flowControl := canIDFilter(rxID)
		adapter, filterID, err := dev.Connect(&mask, &pattern, &flowControl)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer adapter.StopMsgFilter(filterID)

		cfg := passthru.SConfig{Parameter: passthru.CfgISO15765BS, Value: bs}
		if err := adapter.SetConfig(&cfg); err != nil {
			return err
		}
		cfg = passthru.SConfig{Parameter: passthru.CfgISO15765STmin, Value: stmin}
		if err := adapter.SetConfig(&cfg); err != nil {
			return err
		}

		var out [1]passthru.Msg
		n, err := adapter.ReadMsgs(out[:], timeout)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(os.Stderr, red("timed out waiting for a message on 0x%03X", txID))
			return nil
		}

		msg := &out[0]
		fmt.Fprintln(os.Stdout, yellow("%s", hex.EncodeToString(msg.Payload())))
		return nil
	},
}
