package commands

import (
	"github.com/urfave/cli/v2"
)

// All is the command set exposed by the prism binary.
var All = []*cli.Command{
	daemonCmd,
	initCmd,
	seedCmd,
}
