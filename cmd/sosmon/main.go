// Package main provides the entry point for the sosmon disk monitor CLI.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
