package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/OldStager01/fleet-autoscaler/internal/auth"
	"github.com/OldStager01/fleet-autoscaler/pkg/database"
	"github.com/OldStager01/fleet-autoscaler/pkg/database/queries"
	"github.com/OldStager01/fleet-autoscaler/pkg/validation"
)

// openUsers connects to the configured database for operator management.
func openUsers(c *cli.Context) (*queries.UserRepository, *database.DB, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Database.Enabled {
		return nil, nil, errors.New("database is disabled in the configuration")
	}

	db, err := connectDatabase(c.Context, cfg)
	if err != nil {
		return nil, nil, err
	}
	return queries.NewUserRepository(db.DB), db, nil
}

func addUserCmd(c *cli.Context) error {
	username, password := c.String("username"), c.String("password")
	if err := validation.ValidateUsername(username); err != nil {
		return err
	}
	if err := validation.ValidatePassword(password); err != nil {
		return err
	}

	users, db, err := openUsers(c)
	if err != nil {
		return err
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user, err := users.Create(c.Context, validation.SanitizeString(username), hash)
	if errors.Is(err, queries.ErrUserExists) {
		return cli.Exit(fmt.Sprintf("operator %s already exists", username), 1)
	}
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", username, err)
	}

	fmt.Fprintf(c.App.Writer, "created user %s (id %d)\n", user.Username, user.ID)
	return nil
}

func listUsersCmd(c *cli.Context) error {
	users, db, err := openUsers(c)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := users.List(c.Context)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tCREATED")
	for _, u := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.Username, u.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func removeUserCmd(c *cli.Context) error {
	username := c.String("username")

	users, db, err := openUsers(c)
	if err != nil {
		return err
	}
	defer db.Close()

	err = users.Delete(c.Context, username)
	if errors.Is(err, queries.ErrUserNotFound) {
		return cli.Exit(fmt.Sprintf("operator %s does not exist", username), 1)
	}
	if err != nil {
		return fmt.Errorf("failed to remove user %s: %w", username, err)
	}

	fmt.Fprintf(c.App.Writer, "removed user %s\n", username)
	return nil
}
