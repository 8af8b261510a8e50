package main

import (
	"fmt"
	"os"

	"github.com/TheusHen/derpnet/cmd/derpcat/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "derpcat:", err)
		os.Exit(1)
	}
}
