// Command cupana bundles the assembler and VM as subcommands of one binary.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alovictor/cupana/asm"
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
	root := &cobra.Command{
		Use:   "cupana",
		Short: "Assembler and emulator for the Cupana 16-bit CPU",
	}
	root.AddCommand(newAsmCmd(), newVMCmd())
	return root
}

func newAsmCmd() *cobra.Command {
	var flat bool
	var dumpSymbols bool

	cmd := &cobra.Command{
		Use:   "asm <input.asm> <output.bin>",
		Short: "Assemble a source file into a binary ROM image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			tokens, err := asm.Lex(string(src))
			if err != nil {
				return fmt.Errorf("lexing %s: %w", args[0], err)
			}
			prog, err := asm.Parse(tokens)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			image, err := asm.Assemble(prog)
			if err != nil {
				return fmt.Errorf("assembling %s: %w", args[0], err)
			}
			if dumpSymbols {
				for _, name := range asm.SortedLabels(prog) {
					fmt.Fprintf(os.Stderr, "0x%04X %s\n", prog.Labels[name], name)
				}
			}
			if flat {
				full := make([]byte, 0x10000)
				copy(full, image)
				image = full
			}
			if err := os.WriteFile(args[1], image, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			fmt.Printf("wrote %d bytes to %s\n", len(image), args[1])
			return nil
		},
	}
	cmd.Flags().BoolVar(&flat, "flat", false, "pad the output to a full 64KiB image")
	cmd.Flags().BoolVar(&dumpSymbols, "symbols", false, "print the resolved label table to stderr")
	return cmd
}

func newVMCmd() *cobra.Command {
	var trace bool
	var serialAddr uint16
	var serialListen string

	cmd := &cobra.Command{
		Use:   "vm <program.bin>",
		Short: "Run a binary ROM image to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
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
		},
	}
	cmd.Flags().BoolVar(&trace, "trace", false, "log each fetched instruction")
	cmd.Flags().Uint16Var(&serialAddr, "serial", 0, "MMIO base address for the TCP serial device (0 disables it)")
	cmd.Flags().StringVar(&serialListen, "serial-listen", "127.0.0.1:7070", "listen address for the TCP serial device")
	return cmd
}
