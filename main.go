package main

import "github.com/nexus-im/dm/cmd"

func main() {
	cmd.Execute()
}
