package main

import (
	"fmt"
	"os"

	"github.com/smazurov/streamgrab/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
