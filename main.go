package main

import "github.com/corelay/corelay/cmd"

func main() {
	cmd.Execute()
}
