package main

import "github.com/nullstream/agentcore/cmd"

func main() {
	cmd.Execute()
}
