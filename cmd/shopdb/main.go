package main

import "shopdb/cmd/shopdb/commands"

func main() {
	commands.Execute()
}
