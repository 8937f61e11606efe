package main

import "skynet-vpn-bot/internal/cli"

func main() {
	cli.Execute()
}
