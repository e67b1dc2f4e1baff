package main

import (
	"fmt"
	"os"

	"github.com/go-go-golems/punku-chat/cmd/punku-chat/cmds"
)

func main() {
	if err := cmds.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
