package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"
	"github.com/vito/twentythousandtonnesofcrudeoil"

	"github.com/tdmtrader/proa"
	"github.com/tdmtrader/proa/supervisor"
)

func main() {
	var cmd ProaCommand

	cmd.Version = func() {
		fmt.Printf("proa %s\n", proa.Version)
		os.Exit(0)
	}

	parser := flags.NewParser(&cmd, flags.HelpFlag|flags.PassDoubleDash)
	parser.NamespaceDelimiter = "-"
	parser.Usage = "[OPTIONS] -- COMMAND [ARGS...]"

	twentythousandtonnesofcrudeoil.TheEnvironmentIsPerfectlySafe(parser, "PROA_")

	args, err := parser.Parse()
	if err != nil {
		handleFlagsError(err)
	}

	os.Exit(cmd.Execute(args))
}

func handleFlagsError(err error) {
	if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
		fmt.Println(err)
		os.Exit(0)
	}

	fmt.Fprintf(os.Stderr, "error: %s\n", err)
	os.Exit(supervisor.ExitConfigError)
}
