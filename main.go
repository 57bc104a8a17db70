package main

import "github.com/launchpad-dev/launchpad-cli/cmd"

func main() {
	cmd.Execute()
}
