package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rpggio/shopbrain/internal/client"
)

var (
	searchPage    int
	variationsAll bool
)

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send one message to the assistant",
	Long: `Send one message and print the reply. Chat never changes the store;
run "brainctl confirm" to execute a proposed action.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		resp, err := c.Chat(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReply(resp.Reply, resp.StoreState))
		if pc := resp.Meta.PendingChoice; pc != nil {
			fmt.Fprintln(cmd.OutOrStdout(), renderPendingChoice(pc))
		}
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Execute the pending action",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient()
		if _, err := c.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("failed to load state: %w", err)
		}
		resp, err := c.Confirm(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReply(resp.Reply, resp.StoreState))
		if w := resp.Warning; w != nil {
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(w.Message))
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Discard pending questions, selectors and actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Cancel(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReply(res.Cancel.Reply, res.Cancel.StoreState))
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the conversation state of the tab",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Refresh(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), phaseStyle.Render("phase: "+string(st.Phase())))
		if card := renderPending(st); card != "" {
			fmt.Fprintln(cmd.OutOrStdout(), card)
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search products",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Search(cmd.Context(), strings.Join(args, " "), searchPage)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderSearch(res))
		return nil
	},
}

var variationsCmd = &cobra.Command{
	Use:   "variations [id...]",
	Short: "Answer an open variation selector",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		if len(ids) == 0 && !variationsAll {
			return errors.New("pass variation ids or --all")
		}
		resp, err := newClient().ApplyVariations(cmd.Context(), ids, variationsAll)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderReply(resp.Reply, resp.StoreState))
		return nil
	},
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive chat",
	Long: `Read messages from stdin. Lines starting with a slash are commands:

  /confirm          execute the pending action
  /cancel           discard pending items
  /vars <id...>     answer a variation selector (/vars all for every one)
  /state            show the current phase
  /quit             exit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runREPL(cmd.Context(), newClient(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchPage, "page", 1, "result page")
	variationsCmd.Flags().BoolVar(&variationsAll, "all", false, "apply to every variation")

	rootCmd.AddCommand(chatCmd, confirmCmd, cancelCmd, stateCmd, searchCmd, variationsCmd, replCmd)
}

func runREPL(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	if _, err := c.Refresh(ctx); err != nil {
		fmt.Fprintln(out, renderError(err))
	}

	scanner := bufio.NewScanner(in)
	prompt := func() { fmt.Fprint(out, "> ") }
	prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			prompt()
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := replLine(ctx, c, scanner, out, line); err != nil {
			fmt.Fprintln(out, renderError(err))
		}
		prompt()
	}
	return scanner.Err()
}

func replLine(ctx context.Context, c *client.Client, scanner *bufio.Scanner, out io.Writer, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/confirm":
		resp, err := c.Confirm(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderReply(resp.Reply, resp.StoreState))
		return nil
	case "/cancel":
		res, err := c.Cancel(ctx)
		if res != nil && res.Cancel != nil {
			fmt.Fprintln(out, renderReply(res.Cancel.Reply, res.Cancel.StoreState))
		}
		if res != nil && res.Flushed != nil {
			fmt.Fprintln(out, renderReply(res.Flushed.Reply, res.Flushed.StoreState))
		}
		return err
	case "/vars":
		all := len(fields) == 2 && fields[1] == "all"
		var ids []int64
		if !all {
			var err error
			if ids, err = parseIDs(fields[1:]); err != nil {
				return err
			}
		}
		resp, err := c.ApplyVariations(ctx, ids, all)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, renderReply(resp.Reply, resp.StoreState))
		return nil
	case "/state":
		st := c.State()
		fmt.Fprintln(out, phaseStyle.Render("phase: "+string(st.Phase())))
		return nil
	}

	resp, err := c.Chat(ctx, line)
	if err != nil {
		return err
	}
	if resp.Stale {
		return nil
	}
	fmt.Fprintln(out, renderReply(resp.Reply, resp.StoreState))

	pc := resp.Meta.PendingChoice
	if pc == nil {
		return nil
	}
	fmt.Fprintln(out, renderPendingChoice(pc))
	if !scanner.Scan() {
		return scanner.Err()
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	replace := answer == "s" || answer == "si" || answer == "sí" || answer == "y" || answer == "yes"
	replayed, err := c.ChoosePending(ctx, *pc, replace)
	if err != nil {
		return err
	}
	if replayed != nil {
		fmt.Fprintln(out, renderReply(replayed.Reply, replayed.StoreState))
	}
	return nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(strings.TrimPrefix(part, "#"))
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
