// Command evalexpr evaluates a single expression against a fresh
// expression data model and prints the result.
//
// Usage:
//
//	evalexpr '<expression>'
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	scxml "github.com/agentflare-ai/go-scxml"
	"github.com/agentflare-ai/go-scxml/expr"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: evalexpr '<expression>'")
		os.Exit(1)
	}
	sourceText := strings.Join(os.Args[1:], " ")

	g := scxml.NewGlobalData()
	g.Options[scxml.DatamodelOptionPrefix+scxml.AllowUndefinedOption] = "true"
	dm := scxml.NewExpressionDatamodel(g)
	dm.InitializeGlobals(context.Background(), scxml.NewFsm())

	result, err := dm.Execute(context.Background(), expr.NewSource(sourceText))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(result.String())
}
