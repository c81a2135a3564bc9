// Command scxml2fsm compiles an SCXML document into its binary form.
//
// Usage:
//
//	scxml2fsm <in.scxml> <out.rfsm>
package main

import (
	"fmt"
	"os"

	"github.com/agentflare-ai/go-scxml/reader"
	"github.com/agentflare-ai/go-scxml/serializer"
)

func main() {
	if len(os.Args) != 3 {
		fmt.Fprintln(os.Stderr, "usage: scxml2fsm <in.scxml> <out.rfsm>")
		os.Exit(1)
	}
	fsm, err := reader.ParseFile(os.Args[1], nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load %s: %v\n", os.Args[1], err)
		os.Exit(2)
	}
	if err := serializer.WriteFile(fsm, os.Args[2]); err != nil {
		fmt.Fprintf(os.Stderr, "cannot write %s: %v\n", os.Args[2], err)
		os.Exit(2)
	}
}
