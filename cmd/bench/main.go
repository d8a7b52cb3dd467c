package main

import "temperature-bench/cmd/bench/commands"

func main() {
	commands.Execute()
}
