package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "fleet-autoscaler",
		Usage: "Autoscaling control plane for game server groups",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				EnvVars: []string{"FLEET_CONFIG"},
			},
		},
		Commands: commands(),
		Action:   serveCmd,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commands() []*cli.Command {
	return []*cli.Command{
		{
			Name:   "serve",
			Usage:  "Run the scaler, scheduler, metrics endpoint and API",
			Action: serveCmd,
		},
		{
			Name:   "migrate",
			Usage:  "Apply database migrations and exit",
			Action: migrateCmd,
		},
		{
			Name:  "groups",
			Usage: "Inspect group definitions",
			Subcommands: []*cli.Command{
				{
					Name:      "validate",
					Usage:     "Check every group file in the groups directory",
					UsageText: "fleet-autoscaler groups validate [--dir DIR]",
					Flags:     []cli.Flag{groupsDirFlag()},
					Action:    validateGroupsCmd,
				},
				{
					Name:   "list",
					Usage:  "Print a summary of every group",
					Flags:  []cli.Flag{groupsDirFlag()},
					Action: listGroupsCmd,
				},
			},
		},
		{
			Name:  "users",
			Usage: "Manage API operators",
			Subcommands: []*cli.Command{
				{
					Name:  "add",
					Usage: "Create an operator account in the database",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
						&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true, EnvVars: []string{"FLEET_USER_PASSWORD"}},
					},
					Action: addUserCmd,
				},
				{
					Name:   "list",
					Usage:  "Print every operator account",
					Action: listUsersCmd,
				},
				{
					Name:  "remove",
					Usage: "Delete an operator account",
					Flags: []cli.Flag{
						&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
					},
					Action: removeUserCmd,
				},
			},
		},
	}
}

func groupsDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "dir",
		Aliases: []string{"d"},
		Usage:   "groups directory, overrides scaling.groups_dir",
	}
}
