// Package cmd implements the isotpctl command tree: a small diagnostics
// CLI exercising the Channel Adapter over either an in-memory loopback bus
// or a Linux SocketCAN interface, grounded in
// roffe-gocan/cmd/t7tool/cmd/root.go's cobra command tree.
package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "isotpctl",
	Short: "ISO 15765-2 pass-through channel diagnostics",
	Long:  `isotpctl drives the Channel Adapter over a loopback or SocketCAN bus for manual testing.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quitChan := make(chan os.Signal, 1)
	signal.Notify(quitChan, os.Interrupt)

	go func() {
		s := <-quitChan
		log.Printf("got %v, exiting", s)
		cancel()
		<-time.After(10 * time.Second)
		log.Fatal("took too long to shut down, forcefully exiting")
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var (
	iface      string
	txID, rxID uint32
	bs         uint32
	stmin      uint32
	timeout    time.Duration
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	rootCmd.PersistentFlags().StringVarP(&iface, "iface", "i", "loopback", `CAN interface, or "loopback" for an in-process bus`)
	rootCmd.PersistentFlags().Uint32Var(&txID, "tx-id", 0x7E0, "CAN identifier this tool transmits request frames on")
	rootCmd.PersistentFlags().Uint32Var(&rxID, "rx-id", 0x7E8, "CAN identifier this tool expects response frames on")
	rootCmd.PersistentFlags().Uint32Var(&bs, "bs", 0, "ISO15765_BS to configure on the channel (0 = unlimited block)")
	rootCmd.PersistentFlags().Uint32Var(&stmin, "stmin", 0, "ISO15765_STMIN to configure on the channel, milliseconds")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 2*time.Second, "per-operation timeout")
}
