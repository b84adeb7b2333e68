// Command shipsure reconciles shipment insurance policies between the
// ledger and the off-ledger mirror.
package main

import (
	"os"

	"github.com/roach88/shipsure/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
