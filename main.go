package main

import "github.com/c35s/hype/cmd"

func main() {
	cmd.Execute()
}
