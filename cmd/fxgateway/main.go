package main

import "fx-payment-gateway/internal/cli"

func main() {
	cli.Execute()
}
