// Command vertexd is the CLI front-end over module resolution and
// deployment: install/uninstall a module, or run/runmod an ad-hoc verticle
// or a named module. It is a thin launcher — it contains
// no deployment logic of its own, only flag assembly against the module,
// deploy, and redeploy packages.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "vertexd",
		Usage:   "deploy and watch Go verticles and modules",
		Version: buildVersion,
		Commands: []*cli.Command{
			versionCommand(),
			installCommand(),
			uninstallCommand(),
			runCommand(),
			runmodCommand(),
		},
		CommandNotFound: func(c *cli.Context, name string) {
			color.Red("vertexd: unknown command %q\n", name)
			_ = cli.ShowAppHelp(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("vertexd: %v", err))
		os.Exit(1)
	}
}
