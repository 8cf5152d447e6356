package main

import (
	"fmt"
	"os"

	"github.com/pingcap-incubator/txqueue/kv/txq-ctl/command"
)

func main() {
	rootCmd := command.InitCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
