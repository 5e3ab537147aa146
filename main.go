package main

import "github.com/agentic-research/hiercache/cmd"

func main() {
	cmd.Execute()
}
