package main

import (
	"fmt"
	"os"

	"github.com/example/threatlens/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "threatlens:", err)
		os.Exit(1)
	}
}
