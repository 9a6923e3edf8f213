// Command cupana-asm assembles a Cupana source file into a binary ROM image.
package main

import (
	"fmt"
	"os"

	"github.com/alovictor/cupana/asm"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flat bool
	var dumpSymbols bool

	cmd := &cobra.Command{
		Use:   "cupana-asm <input.asm> <output.bin>",
		Short: "Assemble a Cupana source file into a binary ROM image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return assembleFile(args[0], args[1], flat, dumpSymbols)
		},
	}
	cmd.Flags().BoolVar(&flat, "flat", false, "pad the output to a full 64KiB image")
	cmd.Flags().BoolVar(&dumpSymbols, "symbols", false, "print the resolved label table to stderr")
	return cmd
}

func assembleFile(inPath, outPath string, flat, dumpSymbols bool) error {
	src, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", inPath, err)
	}

	tokens, err := asm.Lex(string(src))
	if err != nil {
		return fmt.Errorf("lexing %s: %w", inPath, err)
	}

	prog, err := asm.Parse(tokens)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", inPath, err)
	}

	image, err := asm.Assemble(prog)
	if err != nil {
		return fmt.Errorf("assembling %s: %w", inPath, err)
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

	if err := os.WriteFile(outPath, image, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(image), outPath)
	return nil
}
