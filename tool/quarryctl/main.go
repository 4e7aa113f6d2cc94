/*
 * Quarry
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Command quarryctl is the operator command line tool for the quarry
// backend: it logs in, lists organizations and locations, and manages
// the current taxonomy context persisted between runs.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/gravitational/trace"

	"github.com/gravitational/quarry"
	"github.com/gravitational/quarry/lib/client"
	"github.com/gravitational/quarry/lib/defaults"
	"github.com/gravitational/quarry/lib/taxonomy"
	logutils "github.com/gravitational/quarry/lib/utils/log"
)

const (
	serverEnvVar = "QUARRY_SERVER"
	tokenEnvVar  = "QUARRY_TOKEN"
)

type cliConf struct {
	server string
	token  string
	debug  bool

	orgID int
	locID int
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", trace.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string) error {
	var cf cliConf

	app := kingpin.New("quarryctl", "quarryctl: administer the quarry backend")
	app.Flag("server", "Backend server URL.").Envar(serverEnvVar).Required().StringVar(&cf.server)
	app.Flag("token", "Bearer token for API authentication.").Envar(tokenEnvVar).StringVar(&cf.token)
	app.Flag("debug", "Verbose logging to stderr.").Short('d').BoolVar(&cf.debug)

	loginCmd := app.Command("login", "Validate the token against the backend and persist it.")
	logoutCmd := app.Command("logout", "Remove the persisted credentials.")

	orgsCmd := app.Command("orgs", "Operations on organizations.")
	orgsLsCmd := orgsCmd.Command("ls", "List available organizations.")

	locationsCmd := app.Command("locations", "Operations on locations.")
	locationsLsCmd := locationsCmd.Command("ls", "List available locations.")

	contextCmd := app.Command("context", "Manage the current organization/location context.")
	contextGetCmd := contextCmd.Command("get", "Show the persisted context.")
	contextSetCmd := contextCmd.Command("set", "Select and persist a context.")
	contextSetCmd.Flag("org", "Organization id to select.").IntVar(&cf.orgID)
	contextSetCmd.Flag("loc", "Location id to select.").IntVar(&cf.locID)
	contextResetCmd := contextCmd.Command("reset", "Clear the persisted context.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelWarn
	if cf.debug {
		level = slog.LevelDebug
	}
	logutils.Initialize(level)

	creds, err := client.DefaultCredentialsStore()
	if err != nil {
		return trace.Wrap(err)
	}
	if cf.token == "" && command != loginCmd.FullCommand() {
		// Fall back to the persisted login, but only for the same backend.
		if stored, err := creds.Load(); err == nil && stored.Server == cf.server {
			cf.token = stored.Token
		}
	}

	ctx := context.Background()
	switch command {
	case loginCmd.FullCommand():
		err = onLogin(ctx, &cf, creds)
	case logoutCmd.FullCommand():
		err = onLogout(creds)
	case orgsLsCmd.FullCommand():
		err = onOrgsLs(ctx, &cf)
	case locationsLsCmd.FullCommand():
		err = onLocationsLs(ctx, &cf)
	case contextGetCmd.FullCommand():
		err = onContextGet(&cf)
	case contextSetCmd.FullCommand():
		err = onContextSet(ctx, &cf)
	case contextResetCmd.FullCommand():
		err = onContextReset()
	default:
		err = trace.BadParameter("command %q not configured", command)
	}
	return trace.Wrap(err)
}

// newExecutor builds the client stack shared by all commands.
func newExecutor(cf *cliConf) (*client.Executor, error) {
	clt, err := client.New(client.Config{
		Addr:  cf.server,
		Token: cf.token,
		Logger: logutils.NewPackageLogger(
			quarry.ComponentKey, quarry.ComponentCTL),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	executor, err := client.NewExecutor(client.ExecutorConfig{Client: clt})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return executor, nil
}

// onLogin checks the token against the backend before persisting it, so
// a typo never replaces a working login.
func onLogin(ctx context.Context, cf *cliConf, creds *client.CredentialsStore) error {
	if cf.token == "" {
		return trace.BadParameter("a token is required to log in, pass --token or set %v", tokenEnvVar)
	}
	clt, err := client.New(client.Config{
		Addr:  cf.server,
		Token: cf.token,
		Logger: logutils.NewPackageLogger(
			quarry.ComponentKey, quarry.ComponentCTL),
	})
	if err != nil {
		return trace.Wrap(err)
	}
	resp, err := clt.Get(ctx, clt.Endpoint(defaults.CurrentUserEndpoint), nil)
	if err != nil {
		return trace.Wrap(err, "credential check against %v failed", cf.server)
	}
	var user struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Bytes(), &user); err != nil {
		return trace.Wrap(err)
	}
	if err := creds.Save(client.Credentials{Server: cf.server, Token: cf.token}); err != nil {
		return trace.Wrap(err)
	}
	if user.Name != "" {
		fmt.Printf("Logged in to %v as %v.\n", cf.server, user.Name)
	} else {
		fmt.Printf("Logged in to %v.\n", cf.server)
	}
	return nil
}

func onLogout(creds *client.CredentialsStore) error {
	if err := creds.Clear(); err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("Logged out.")
	return nil
}

func onOrgsLs(ctx context.Context, cf *cliConf) error {
	executor, err := newExecutor(cf)
	if err != nil {
		return trace.Wrap(err)
	}
	page, err := executor.FetchOrganizations(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	rows := make([][]string, 0, len(page.Results))
	for _, org := range page.Results {
		rows = append(rows, []string{
			strconv.Itoa(org.ID), org.DisplayName(),
			strconv.Itoa(org.HostsCount), strconv.Itoa(org.UsersCount),
		})
	}
	printTable([]string{"ID", "Name", "Hosts", "Users"}, rows)
	return nil
}

func onLocationsLs(ctx context.Context, cf *cliConf) error {
	executor, err := newExecutor(cf)
	if err != nil {
		return trace.Wrap(err)
	}
	page, err := executor.FetchLocations(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	rows := make([][]string, 0, len(page.Results))
	for _, loc := range page.Results {
		rows = append(rows, []string{
			strconv.Itoa(loc.ID), loc.DisplayName(),
			strconv.Itoa(loc.HostsCount), strconv.Itoa(loc.UsersCount),
		})
	}
	printTable([]string{"ID", "Name", "Hosts", "Users"}, rows)
	return nil
}

func onContextGet(cf *cliConf) error {
	profile, err := taxonomy.DefaultProfile()
	if err != nil {
		return trace.Wrap(err)
	}
	persisted, err := profile.Load()
	if trace.IsNotFound(err) {
		fmt.Println("No context selected.")
		return nil
	}
	if err != nil {
		return trace.Wrap(err)
	}
	if org := persisted.Context.Organization; org != nil {
		fmt.Printf("Organization: %v (id %v)\n", org.Name, org.ID)
	}
	if loc := persisted.Context.Location; loc != nil {
		fmt.Printf("Location:     %v (id %v)\n", loc.Name, loc.ID)
	}
	return nil
}

func onContextSet(ctx context.Context, cf *cliConf) error {
	if cf.orgID == 0 && cf.locID == 0 {
		return trace.BadParameter("at least one of --org or --loc is required")
	}
	executor, err := newExecutor(cf)
	if err != nil {
		return trace.Wrap(err)
	}
	store, err := taxonomy.NewStore(taxonomy.StoreConfig{})
	if err != nil {
		return trace.Wrap(err)
	}
	if err := executor.LoadTaxonomy(ctx, store, nil); err != nil {
		return trace.Wrap(err)
	}

	var sel taxonomy.Selection
	if cf.orgID != 0 {
		sel.OrganizationID = taxonomy.IntPtr(cf.orgID)
	}
	if cf.locID != 0 {
		sel.LocationID = taxonomy.IntPtr(cf.locID)
	}
	store.SetSelection(sel)
	snapshot := store.Context()
	if cf.orgID != 0 && snapshot.Organization == nil {
		return trace.NotFound("organization %v is not available", cf.orgID)
	}
	if cf.locID != 0 && snapshot.Location == nil {
		return trace.NotFound("location %v is not available", cf.locID)
	}

	profile, err := taxonomy.DefaultProfile()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := profile.Save(taxonomy.SerializeSelection(snapshot)); err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("Context updated.")
	return nil
}

func onContextReset() error {
	profile, err := taxonomy.DefaultProfile()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := profile.Clear(); err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("Context cleared.")
	return nil
}

func printTable(columns []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := color.New(color.Bold)
	for i, column := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		header.Fprint(w, column)
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, cell)
		}
		fmt.Fprintln(w)
	}
	w.Flush()
}
