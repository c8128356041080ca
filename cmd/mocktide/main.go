package main

import "mocktide/cmd/mocktide/command"

func main() {
	command.Execute()
}
