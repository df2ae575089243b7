package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

var loopbackTestCMD = &cobra.Command{
	Use:   "loopback-test <hex payload>",
	Short: "Send a message to itself over the in-memory loopback bus and report whether it came back intact",
	Long:  "Opens two channels on the same loopback bus, one sending on --tx-id / expecting flow control on --rx-id, the other the mirror image, and reports whether the reassembled payload round-tripped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := parseHexPayload(args[0])
		if err != nil {
			return err
		}
		iface = "loopback"

		sender, err := openDevice()
		if err != nil {
			return err
		}
		receiver, err := openDevice()
		if err != nil {
			return err
		}

		senderMask, senderPattern := canIDFilter(rxID)
		_, senderFC := canIDFilter(txID)
		txAdapter, txFilterID, err := sender.Connect(&senderMask, &senderPattern, &senderFC)
		if err != nil {
			return fmt.Errorf("connect tx side: %w", err)
		}
		defer txAdapter.StopMsgFilter(txFilterID)

		receiverMask, receiverPattern := canIDFilter(txID)
		_, receiverFC := canIDFilter(rxID)
		rxAdapter, rxFilterID, err := receiver.Connect(&receiverMask, &receiverPattern, &receiverFC)
		if err != nil {
			return fmt.Errorf("connect rx side: %w", err)
		}
		defer rxAdapter.StopMsgFilter(rxFilterID)

		var logical passthru.Msg
		logical.SetPID(txID)
		logical.DataSize = 4 + len(payload)
		copy(logical.Data[4:], payload)

		errCh := make(chan error, 1)
		var out [1]passthru.Msg
		var got int
		go func() {
			var err error
			got, err = rxAdapter.ReadMsgs(out[:], timeout)
			errCh <- err
		}()

		time.Sleep(5 * time.Millisecond)
		if _, err := txAdapter.WriteMsgs([]passthru.Msg{logical}, timeout); err != nil {
			return fmt.Errorf("write: %w", err)
		}

		if err := <-errCh; err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if got != 1 {
			fmt.Fprintln(os.Stderr, red("round trip failed: no message received"))
			return nil
		}

		roundTripped := string(out[0].Payload()) == string(payload)
		if roundTripped {
			fmt.Fprintln(os.Stdout, green("round trip OK, %d bytes", len(payload)))
		} else {
			fmt.Fprintln(os.Stderr, red("round trip mismatch"))
		}
		return nil
	},
}
