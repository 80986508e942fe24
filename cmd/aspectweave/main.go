package main

import (
	"os"

	"github.com/funvibe/aspectweave/pkg/aspects"
	"github.com/funvibe/aspectweave/pkg/cli"
)

func main() {
	os.Exit(cli.Main(aspects.NewRegistry()))
}
