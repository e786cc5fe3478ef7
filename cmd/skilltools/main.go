package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/chainlesschain/skilltools/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		var invErr *cli.InvocationError
		if !errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
