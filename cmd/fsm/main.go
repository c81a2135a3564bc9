// Command fsm runs a state machine document. Events are read from stdin
// line by line as event names; the process exits when the session worker
// finishes.
//
// Usage:
//
//	fsm run <file.scxml|file.rfsm> [-trace mode] [-includePaths dir:dir] [-config file.yaml]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	scxml "github.com/agentflare-ai/go-scxml"
	"github.com/agentflare-ai/go-scxml/reader"
	"github.com/agentflare-ai/go-scxml/serializer"
)

const (
	exitOK     = 0
	exitConfig = 1
	exitLoad   = 2
)

// config is the optional YAML configuration of the runner.
type config struct {
	Trace        string   `yaml:"trace"`
	IncludePaths []string `yaml:"include_paths"`
	Datamodel    string   `yaml:"datamodel"`
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("fsm", flag.ContinueOnError)
	traceFlag := fs.String("trace", "", "trace mode: methods,states,events,arguments,results,all")
	includeFlag := fs.String("includePaths", "", "separator-joined list of include directories")
	configFlag := fs.String("config", "", "YAML configuration file")
	datamodelFlag := fs.String("datamodel", "", "override the document's datamodel")

	if len(args) > 0 && args[0] == "run" {
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "usage: fsm run <file.scxml|file.rfsm> [-trace mode] [-includePaths list] [-config file]")
		return exitConfig
	}
	file := rest[0]
	// Flags may also follow the file argument.
	if len(rest) > 1 {
		if err := fs.Parse(rest[1:]); err != nil {
			return exitConfig
		}
	}

	cfg := config{}
	if *configFlag != "" {
		data, err := os.ReadFile(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot read config: %v\n", err)
			return exitConfig
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "cannot parse config: %v\n", err)
			return exitConfig
		}
	}
	if *traceFlag != "" {
		cfg.Trace = *traceFlag
	}
	if *includeFlag != "" {
		cfg.IncludePaths = append(cfg.IncludePaths, strings.Split(*includeFlag, string(filepath.ListSeparator))...)
	}
	if *datamodelFlag != "" {
		cfg.Datamodel = *datamodelFlag
	}

	fsm, err := loadDocument(file, cfg.IncludePaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot load %s: %v\n", file, err)
		return exitLoad
	}

	executor := scxml.NewFsmExecutor(
		scxml.WithDocumentLoader(reader.Loader(cfg.IncludePaths)),
		scxml.WithTracerFactory(func() scxml.Tracer {
			return scxml.NewDefaultTracer(scxml.TraceModeFromString(cfg.Trace))
		}),
	)

	handle, err := executor.Execute(context.Background(), fsm, scxml.ExecuteOptions{
		DatamodelName: cfg.Datamodel,
		FinishMode:    scxml.FinishModeKeep,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot start session: %v\n", err)
		return exitConfig
	}

	go pumpStdin(handle)

	if err := handle.Wait(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "session failed: %v\n", err)
		return exitConfig
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = executor.Shutdown(shutdownCtx)
	return exitOK
}

func loadDocument(file string, includePaths []string) (*scxml.Fsm, error) {
	if strings.HasSuffix(file, ".rfsm") {
		return serializer.ReadFile(file)
	}
	return reader.ParseFile(file, includePaths)
}

// pumpStdin feeds stdin lines to the session as external events; EOF
// requests cooperative shutdown.
func pumpStdin(handle *scxml.SessionHandle) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		select {
		case <-handle.Done():
			return
		default:
		}
		handle.Send(scxml.NewEvent(name, scxml.EventTypeExternal))
	}
	handle.Cancel()
}
