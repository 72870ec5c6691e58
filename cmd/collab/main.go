package main

import "github.com/orchestra-mcp/collab/cli"

func main() {
	cli.Execute()
}
