// Command runner executes a single flow DSL document from the command line
// without standing up the HTTP server or any trigger, printing the
// resulting execution context. Handy for local iteration on a flow file.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/flowforge/engine/internal/dsl"
	"github.com/flowforge/engine/internal/execctx"
	"github.com/flowforge/engine/internal/executor"
	"github.com/flowforge/engine/internal/logging"
)

func main() {
	processFile := flag.String("process", "", "path to the process JSON file")
	triggerFile := flag.String("trigger", "", "path to the trigger data JSON file (optional, full run only)")
	natsURL := flag.String("nats", "", "NATS server URL for audit logging (optional, disabled if empty)")
	replayFrom := flag.String("replay-from", "", "node id to replay from instead of a full run")
	replayOutputFile := flag.String("replay-output", "", "path to a JSON file carrying the replayed node's injected output")
	flag.Parse()

	if *processFile == "" {
		fmt.Fprintln(os.Stderr, "runner: -process is required")
		os.Exit(1)
	}

	processJSON, err := os.ReadFile(*processFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner: read process file: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner: build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	exec := executor.New(*natsURL, logger, nil)
	defer exec.Close()

	var result *execctx.Context
	var runErr error

	if *replayFrom != "" {
		var process dsl.Process
		if perr := json.Unmarshal(processJSON, &process); perr != nil {
			fmt.Fprintf(os.Stderr, "runner: parse process JSON: %v\n", perr)
			os.Exit(1)
		}
		if verr := process.Validate(); verr != nil {
			fmt.Fprintf(os.Stderr, "runner: invalid process: %v\n", verr)
			os.Exit(1)
		}

		nodeOutput := map[string]interface{}{}
		if *replayOutputFile != "" {
			raw, rerr := os.ReadFile(*replayOutputFile)
			if rerr != nil {
				fmt.Fprintf(os.Stderr, "runner: read replay output file: %v\n", rerr)
				os.Exit(1)
			}
			if uerr := json.Unmarshal(raw, &nodeOutput); uerr != nil {
				fmt.Fprintf(os.Stderr, "runner: parse replay output JSON: %v\n", uerr)
				os.Exit(1)
			}
		}

		result, runErr = exec.ExecuteFromNode(&process, *replayFrom, nodeOutput, "")
	} else {
		triggerData := map[string]interface{}{}
		if *triggerFile != "" {
			triggerJSON, terr := os.ReadFile(*triggerFile)
			if terr != nil {
				fmt.Fprintf(os.Stderr, "runner: read trigger file: %v\n", terr)
				os.Exit(1)
			}
			if uerr := json.Unmarshal(triggerJSON, &triggerData); uerr != nil {
				fmt.Fprintf(os.Stderr, "runner: parse trigger JSON: %v\n", uerr)
				os.Exit(1)
			}
		}
		result, runErr = exec.ExecuteFromJSON(processJSON, triggerData)
	}

	printContext(result)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "runner: execution failed: %v\n", runErr)
		os.Exit(1)
	}
}

func printContext(ctx *execctx.Context) {
	if ctx == nil {
		return
	}
	out, err := json.MarshalIndent(ctx, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner: marshal context: %v\n", err)
		return
	}
	fmt.Println(string(out))
}
