// Package main is the entry point for the histclean binary.
package main

import (
	"os"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver for --driver duckdb

	cli "histclean/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
