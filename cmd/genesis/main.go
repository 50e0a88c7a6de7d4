package main

import "github.com/devrenanferrari/genesis/cli"

func main() {
	cli.Execute()
}
