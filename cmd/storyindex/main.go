// # cmd/storyindex/main.go
package main

import (
	"os"

	"storyindex/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
