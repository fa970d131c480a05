package main

import (
	"github.com/sidkik/iris-sync/cmd"
	"github.com/sidkik/iris-sync/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
