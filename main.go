package main

import (
	"gatelink/cmd"

	_ "go.uber.org/automaxprocs"
)

func main() {
	cmd.Execute()
}
