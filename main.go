package main

import "github.com/corefin/fifo-engine/cmd"

func main() {
	cmd.Execute()
}
