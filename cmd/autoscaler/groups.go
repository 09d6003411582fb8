package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

func readGroups(c *cli.Context) ([]*models.GroupConfig, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	dir := c.String("dir")
	if dir == "" {
		dir = cfg.Scaling.GroupsDir
	}
	return loadGroups(dir, cfg)
}

func validateGroupsCmd(c *cli.Context) error {
	groups, err := readGroups(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d groups valid\n", len(groups))
	return nil
}

func listGroupsCmd(c *cli.Context) error {
	groups, err := readGroups(c)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tSCALER\tPRIORITY\tMIN\tMAX\tPLAYERS\tUP\tDOWN\tCOOLDOWN\tCRON")
	for _, g := range groups {
		maxServers := strconv.Itoa(g.Server.MaxServers)
		if g.IsUnlimited() {
			maxServers = "unlimited"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%d\t%.2f\t%.2f\t%s\t%d\n",
			g.Name, g.ServerType(), g.ScalerType(), g.Priority,
			g.Server.MinServers, maxServers, g.MaxPlayers(),
			g.Scaling.Conditions.ScaleUpThreshold, g.Scaling.Conditions.ScaleDownThreshold,
			g.Cooldown(), len(g.CronJobs),
		)
	}
	return w.Flush()
}
