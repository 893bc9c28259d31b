package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"
	"golang.org/x/term"
)

// isTTY gates the progress bar and colored status lines on stdout actually
// being a terminal, so piped or CI output stays plain.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// withInstallSpinner runs fn, showing an indeterminate mpb bar labeled name
// while it's in flight when stdout is a terminal, and a single plain status
// line otherwise.
func withInstallSpinner(name string, fn func() error) error {
	if !isTTY() {
		fmt.Printf("installing %s...\n", name)
		err := fn()
		if err != nil {
			fmt.Printf("installing %s: failed: %v\n", name, err)
		} else {
			fmt.Printf("installing %s: done\n", name)
		}
		return err
	}

	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.AddBar(1,
		mpb.PrependDecorators(decor.Name("installing "+name, decor.WC{W: len(name) + 14})),
		mpb.AppendDecorators(decor.Spinner(nil)),
	)
	err := fn()
	bar.IncrBy(1)
	progress.Wait()

	if err != nil {
		color.Red("installing %s: failed: %v\n", name, err)
	} else {
		color.Green("installing %s: done\n", name)
	}
	return err
}
