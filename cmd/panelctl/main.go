package main

import "panelctl/internal/cli/cmd"

func main() {
	cmd.Execute()
}
