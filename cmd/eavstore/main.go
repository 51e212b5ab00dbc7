// eavstore serves an entity-attribute-value database over gRPC and inspects
// its binary patch and store-diff files
package main

import (
	"fmt"
	"os"

	"github.com/nainya/eavstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
