// Command collabhub runs the multi-agent collaboration hub.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/collabhub/collabhub/internal/hub/wire"
	"github.com/collabhub/collabhub/internal/logging"
)

func main() {
	logging.Setup()

	args := os.Args[1:]
	cmd := "hub"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd = args[0]
		args = args[1:]
	}

	var err error
	switch cmd {
	case "hub":
		err = runHub(args)
	case "version":
		fmt.Println("collabhub " + wire.ServerVersion)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `Usage: collabhub [command] [flags]

Commands:
  hub       Run the collaboration hub server (default)
  version   Print the version and exit

Run "collabhub hub -h" for server flags.
`)
}
