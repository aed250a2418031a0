package main

import (
	"os"

	"github.com/telekom/change-report/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
