// Command cupana-vm loads a binary ROM image and runs it to completion.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alovictor/cupana/devices"
	"github.com/alovictor/cupana/host"
	"github.com/alovictor/cupana/vm"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var trace bool
	var serialAddr uint16
	var serialListen string

	cmd := &cobra.Command{
		Use:   "cupana-vm <program.bin>",
		Short: "Run a Cupana binary ROM image to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFile(args[0], trace, serialAddr, serialListen)
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "log each fetched instruction")
	cmd.Flags().Uint16Var(&serialAddr, "serial", 0, "MMIO base address for the TCP serial device (0 disables it)")
	cmd.Flags().StringVar(&serialListen, "serial-listen", "127.0.0.1:7070", "listen address for the TCP serial device")
	return cmd
}

func runFile(path string, trace bool, serialAddr uint16, serialListen string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	bus := vm.NewBus()
	bus.LoadROM(image)

	if serialAddr != 0 {
		serial, err := devices.NewSerial(serialAddr, serialListen)
		if err != nil {
			return fmt.Errorf("starting serial device: %w", err)
		}
		defer serial.Close()
		if err := bus.RegisterDevice(serial); err != nil {
			return fmt.Errorf("registering serial device: %w", err)
		}
		fmt.Printf("serial device listening on %s, mapped at 0x%04X\n", serialListen, serialAddr)
	}

	m := host.NewMachine(bus)
	if err := m.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	opts := host.Options{}
	if trace {
		opts.Trace = os.Stderr
	}

	if err := host.Run(context.Background(), m, opts); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	return nil
}
