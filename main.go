package main

import "backup-orchestrator/cmd"

func main() {
	cmd.Execute()
}
