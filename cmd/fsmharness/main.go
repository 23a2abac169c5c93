package main

import (
	"os"
)

const (
	ExitSuccess     = 0
	ExitUnitsFailed = 1
	ExitError       = 2
)

func main() {
	os.Exit(execute(os.Args[1:]))
}
