package main

import "github.com/arborfs/arbor/cmd/arborctl/cmd"

func main() {
	cmd.Execute()
}
