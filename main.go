package main

import "github.com/nextlevelbuilder/schedule-task-mcp/cmd"

func main() {
	cmd.Execute()
}
