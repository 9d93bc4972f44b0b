package main

import (
	"btc-dominance-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
