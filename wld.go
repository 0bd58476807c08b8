package main

import (
	"fmt"
	"os"

	"github.com/winksaville/lld/pkg/linker"
)

var version = "dev"

func main() {
	cfg, diag, remaining := linker.ParseArgs(os.Args[1:], version)

	var inputs []string
	for _, a := range remaining {
		inputs = append(inputs, a)
	}
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "wld: no input files")
		os.Exit(1)
	}

	if err := linker.Run(cfg, diag, inputs); err != nil {
		os.Exit(1)
	}
}
