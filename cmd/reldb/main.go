// Command reldb compiles YAML relocation sources into the database the
// engine loads, and inspects compiled databases.
package main

import (
	"os"

	"github.com/pboyd/ckpe/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
