package main

/*
pawl — Palo Alto firewall URL allow-list tool in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-stp/pawl/internal/core"
)

// Flags specific to individual commands
var (
	searchAction    string
	whitelistCat    string
	whitelistTicket string
	whitelistURLs   []string
	whitelistFile   string
	whitelistSearch string
	whitelistAction string
	whitelistDryRun bool
)

var searchCmd = &cobra.Command{
	Use:   "search TERMS",
	Short: "Search URL filtering logs for blocked domains",
	Long:  "Search the URL filtering logs for blocked domains. TERMS is a comma-separated list; each term is matched as a substring of the logged URL.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := core.ParseAction(searchAction)
		if err != nil {
			return err
		}
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.searcher.Search(cmd.Context(), strings.Join(args, ","), action)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printSearch(cmd.OutOrStdout(), res)
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [FILE]",
	Short: "Validate and normalize typed URLs (comma or newline separated)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		valid, invalid := core.ValidateManual(text)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]any{"valid": valid, "invalid": invalid})
		}
		out := cmd.OutOrStdout()
		for _, v := range valid {
			fmt.Fprintln(out, v)
		}
		for _, e := range invalid {
			fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %s (%s)\n", e.Input, e.Reason)
		}
		if len(invalid) > 0 {
			return fmt.Errorf("%d invalid entries", len(invalid))
		}
		return nil
	},
}

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List custom URL categories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		cats, err := a.whitelist.Categories(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), cats)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tCONTEXT")
		for _, c := range cats {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Key(), c.Name, c.Context)
		}
		return tw.Flush()
	},
}

var whitelistCmd = &cobra.Command{
	Use:   "whitelist",
	Short: "Add domains to a custom URL category and commit",
	Long: `Add domains to a custom URL category and commit the configuration.

Domains come from --url, --file and the results of --search, merged and
deduplicated. Typed entries are normalized first; any invalid entry aborts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := core.ParseAction(whitelistAction)
		if err != nil {
			return err
		}

		text := strings.Join(whitelistURLs, "\n")
		if whitelistFile != "" {
			b, err := os.ReadFile(whitelistFile)
			if err != nil {
				return err
			}
			text += "\n" + string(b)
		}
		domains, invalid := core.ValidateManual(text)
		if len(invalid) > 0 {
			for _, e := range invalid {
				fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %s (%s)\n", e.Input, e.Reason)
			}
			return fmt.Errorf("%d invalid entries, nothing submitted", len(invalid))
		}

		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if whitelistSearch != "" {
			res, err := a.searcher.Search(cmd.Context(), whitelistSearch, action)
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("search failed: %s", res.Error)
			}
			cliLog().Info().Int("domains", res.Count()).Msg("search results merged")
			domains = append(domains, res.Domains...)
		}
		if len(domains) == 0 {
			return errors.New("no domains given: use --url, --file or --search")
		}

		req := core.WhitelistRequest{
			Category:  whitelistCat,
			TicketID:  whitelistTicket,
			Domains:   domains,
			Action:    action,
			Requester: currentUser(),
		}
		if whitelistDryRun {
			if err := req.Validate(); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		}

		out, err := a.whitelist.SubmitWhitelist(cmd.Context(), req)
		if err != nil && !out.OK {
			return err
		}
		// An interrupted commit poll still reports the category change.
		if jsonOutput {
			if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
			return err
		}
		printWhitelist(cmd.OutOrStdout(), out)
		return err
	},
}

var commitStatusCmd = &cobra.Command{
	Use:   "commit-status JOB",
	Short: "Show the status of a commit job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := core.ParseJobHandle(args[0])
		if err != nil {
			return err
		}
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.whitelist.CommitStatus(cmd.Context(), job)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), st)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %s: %s (%d%%)\n", st.JobID, st.Status, st.Progress)
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check API connectivity and credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		msg, err := a.fw.CheckConnectivity(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", a.fw.Host(), msg)
		cliLog().Debug().Fields(a.limiter.GetStats()).Msg("rate limiter")
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVarP(&searchAction, "action", "a", string(core.ActionBlockURL), "Log action to search: block-url, block-continue or both")

	whitelistCmd.Flags().StringVar(&whitelistCat, "category", "", "Category key, e.g. \"allow-list (shared)\", or bare name")
	whitelistCmd.Flags().StringVarP(&whitelistTicket, "ticket", "t", "", "Change ticket id")
	whitelistCmd.Flags().StringSliceVar(&whitelistURLs, "url", nil, "URL or domain to add (repeatable)")
	whitelistCmd.Flags().StringVarP(&whitelistFile, "file", "f", "", "File with URLs, comma or newline separated")
	whitelistCmd.Flags().StringVar(&whitelistSearch, "search", "", "Also add every domain found by searching these terms")
	whitelistCmd.Flags().StringVarP(&whitelistAction, "action", "a", string(core.ActionBoth), "Log action for --search")
	whitelistCmd.Flags().BoolVar(&whitelistDryRun, "dry-run", false, "Print the request instead of submitting it")
	_ = whitelistCmd.MarkFlagRequired("category")
	_ = whitelistCmd.MarkFlagRequired("ticket")
}

// readInput returns the text of FILE, or stdin when FILE is absent or "-".
func readInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	b, err := os.ReadFile(args[0])
	return string(b), err
}

func currentUser() string {
	for _, k := range []string{"PAWL_OPERATOR", "USER", "USERNAME"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSearch(w io.Writer, res core.SearchResult) {
	for _, d := range res.Domains {
		fmt.Fprintln(w, d)
	}
	fmt.Fprintf(w, "\n%d domains for %s (%s) in %s\n", res.Count(), strings.Join(res.Terms, ", "), res.Action, res.Elapsed.Round(time.Millisecond))
	for _, r := range res.Rejected {
		fmt.Fprintf(w, "  rejected term %q: %s\n", r.Term, r.Reason)
	}
	if res.Action == core.ActionBoth {
		bd := res.Breakdown()
		for _, a := range core.ActionBoth.Expand() {
			fmt.Fprintf(w, "  %s: %d\n", a, bd[a])
		}
	}
	if len(res.Wildcards) > 0 {
		fmt.Fprintf(w, "  wildcard candidates: %s\n", strings.Join(res.Wildcards, ", "))
	}
	if !res.Success {
		fmt.Fprintf(w, "  error: %s\n", res.Error)
	}
}

func printWhitelist(w io.Writer, out core.WhitelistOutcome) {
	fmt.Fprintln(w, out.Message)
	for _, d := range out.Added {
		fmt.Fprintf(w, "  + %s\n", d)
	}
	if c := out.Commit; c != nil {
		fmt.Fprintf(w, "commit job %s: %s (%s, %d%%, %d polls)\n", c.JobID, c.State, c.Status, c.Progress, c.Polls)
		if c.Error != "" {
			fmt.Fprintf(w, "  commit error: %s\n", c.Error)
		}
	}
}
