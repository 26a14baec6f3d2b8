// Command verity checks claims against a corpus of published fact-checks
package main

import (
	"fmt"
	"os"

	"github.com/ppiankov/verity/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
