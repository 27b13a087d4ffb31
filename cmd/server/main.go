package main

import "github.com/conduit-foundation/conduit/cmd/server/cmd"

func main() {
	cmd.Execute()
}
