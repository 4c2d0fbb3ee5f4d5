package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path"

	"crypto_demo/internal/cli"

	"github.com/google/subcommands"

	_ "net/http/pprof" // For pprof profiling
)

var pprofAddr = flag.String("pprof", "", "serve pprof on this address, for example localhost:6060")

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	cli.Register(commander)

	flag.Parse()

	// Pprof Server (for performance profiling)
	if *pprofAddr != "" {
		go http.ListenAndServe(*pprofAddr, nil)
	}

	ctx := context.Background()
	os.Exit(int(commander.Execute(ctx)))
}
