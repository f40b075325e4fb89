package main

import (
	"fmt"
	"os"

	"github.com/factual/s3journal/cmd/s3journal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
