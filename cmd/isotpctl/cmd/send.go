package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

var green = color.New(color.FgGreen).SprintfFunc()

var sendCMD = &cobra.Command{
	Use:   "send <hex payload>",
	Short: "Segment and transmit one logical message over a flow-control filter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseHexPayload(args[0])
		if err != nil {
			return err
		}

		dev, err := openDevice()
		if err != nil {
			return err
		}

		mask, pattern := canIDFilter(rxID)
		_, flowControl := canIDFilter(txID)
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

		var logical passthru.Msg
		logical.SetPID(txID)
		logical.DataSize = 4 + len(payload)
		copy(logical.Data[4:], payload)

		n, err := adapter.WriteMsgs([]passthru.Msg{logical}, timeout)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, green("sent %d/1 logical message(s) on 0x%03X", n, txID))
		return nil
	},
}
