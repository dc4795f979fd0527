package main

import (
	"ohio-rate-watch/internal/cli"
)

func main() {
	cli.Execute()
}
