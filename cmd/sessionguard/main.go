package main

import (
	"fmt"
	"os"

	"github.com/sandeepkv93/session-guard/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sessionguard:", err)
		os.Exit(1)
	}
}
