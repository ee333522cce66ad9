// Command chatclient is a terminal stand-in for the companion app: it keeps the
// conversation log in SQLite and folds relay notifications into it.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
