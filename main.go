package main

import "github.com/devicelab-dev/agentenv/pkg/cli"

func main() {
	cli.Execute()
}
