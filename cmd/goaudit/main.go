package main

import (
	"fmt"
	"os"

	"github.com/MrEthical07/goAudit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "goaudit:", err)
		os.Exit(1)
	}
}
