package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"harvestsync/internal/domain/mapping"
	"harvestsync/internal/domain/subscription"
	"harvestsync/internal/domain/user"
)

var refreshTokensCmd = &cobra.Command{
	Use:   "refresh-tokens",
	Short: "Refresh ledger tokens expiring within --window",
	Example: `  admin refresh-tokens
  admin refresh-tokens --window=24h`,
	Args: cobra.NoArgs,
	RunE: withEnv(runRefreshTokens),
}

var propagateCmd = &cobra.Command{
	Use:   "propagate",
	Short: "Run one propagation cycle",
	Long:  "Run one propagation cycle for an event family (time-entry, task-time, expense), or for every family with --family=all.",
	Example: `  admin propagate --family=expense
  admin propagate --family=all --timeout=1h`,
	Args: cobra.NoArgs,
	RunE: withEnv(runPropagate),
}

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Inspect and remove webhook subscriptions",
}

var subscriptionsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the subscriptions of a board account",
	Example: `  admin subscriptions list --account=12345`,
	Args:    cobra.NoArgs,
	RunE:    withEnv(runSubscriptionsList),
}

var subscriptionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEnv(func(ctx context.Context, e *env) error {
			return e.subscriptions.Unsubscribe(ctx, args[0])
		})(cmd, args)
	},
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage board users and their ledger credentials",
}

var usersSetTokenCmd = &cobra.Command{
	Use:     "set-token",
	Short:   "Store ledger credentials for a board user",
	Example: `  admin users set-token --account=12345 --user=678 --access-token=... --refresh-token=... --expires-in=336h`,
	Args:    cobra.NoArgs,
	RunE:    withEnv(runUsersSetToken),
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Manage board item to ledger entity links",
}

var linksUnlinkCmd = &cobra.Command{
	Use:     "unlink",
	Short:   "Remove the link of one board item so the next action re-reconciles it",
	Example: `  admin links unlink --kind=project --account=12345 --board=111 --item=222`,
	Args:    cobra.NoArgs,
	RunE:    withEnv(runLinksUnlink),
}

var (
	refreshWindow time.Duration
	family        string
	accountID     string
	userID        string
	accessToken   string
	refreshToken  string
	expiresIn     time.Duration
	linkKind      string
	boardID       string
	itemID        string
)

func init() {
	refreshTokensCmd.Flags().DurationVar(&refreshWindow, "window", 30*time.Minute, "Refresh tokens expiring within this window")

	propagateCmd.Flags().StringVar(&family, "family", "all", "Event family: time-entry, task-time, expense or all")

	subscriptionsListCmd.Flags().StringVar(&accountID, "account", "", "Board account id")
	subscriptionsListCmd.MarkFlagRequired("account")
	subscriptionsCmd.AddCommand(subscriptionsListCmd, subscriptionsDeleteCmd)

	usersSetTokenCmd.Flags().StringVar(&accountID, "account", "", "Board account id")
	usersSetTokenCmd.Flags().StringVar(&userID, "user", "", "Board user id")
	usersSetTokenCmd.Flags().StringVar(&accessToken, "access-token", "", "Ledger access token")
	usersSetTokenCmd.Flags().StringVar(&refreshToken, "refresh-token", "", "Ledger refresh token")
	usersSetTokenCmd.Flags().DurationVar(&expiresIn, "expires-in", 14*24*time.Hour, "Access token lifetime")
	usersSetTokenCmd.MarkFlagRequired("account")
	usersSetTokenCmd.MarkFlagRequired("user")
	usersSetTokenCmd.MarkFlagRequired("access-token")
	usersCmd.AddCommand(usersSetTokenCmd)

	linksUnlinkCmd.Flags().StringVar(&linkKind, "kind", "", "Link kind: client, project, expense or timesheet")
	linksUnlinkCmd.Flags().StringVar(&accountID, "account", "", "Board account id")
	linksUnlinkCmd.Flags().StringVar(&boardID, "board", "", "Board id")
	linksUnlinkCmd.Flags().StringVar(&itemID, "item", "", "Item id")
	for _, f := range []string{"kind", "account", "board", "item"} {
		linksUnlinkCmd.MarkFlagRequired(f)
	}
	linksCmd.AddCommand(linksUnlinkCmd)

	rootCmd.AddCommand(refreshTokensCmd, propagateCmd, subscriptionsCmd, usersCmd, linksCmd)
}

func runRefreshTokens(ctx context.Context, e *env) error {
	refreshed, failed, err := e.users.RefreshExpiring(ctx, refreshWindow)
	if err != nil {
		return err
	}
	fmt.Printf("Refreshed %d tokens, %d failed\n", refreshed, failed)
	if failed > 0 {
		return fmt.Errorf("%d token refreshes failed", failed)
	}
	return nil
}

func runPropagate(ctx context.Context, e *env) error {
	families := subscription.Families()
	if family != "all" {
		f, err := subscription.ParseFamily(family)
		if err != nil {
			return err
		}
		families = []subscription.Family{f}
	}

	svc := e.propagation()
	for _, f := range families {
		result, err := svc.Run(ctx, f)
		if err != nil {
			return fmt.Errorf("propagation %s failed: %w", f, err)
		}
		fmt.Println(result.String())
	}
	return nil
}

func runSubscriptionsList(ctx context.Context, e *env) error {
	subs, err := e.subscriptions.ListByAccount(ctx, accountID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEVENT\tUSER\tWEBHOOK\tCREATED")
	for _, s := range subs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.WebhookEvent, s.UserID, s.WebhookURL, s.CreatedAt.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d subscriptions\n", len(subs))
	return nil
}

func runUsersSetToken(ctx context.Context, e *env) error {
	u, err := e.users.SetTokens(ctx, user.SetTokensParams{
		UserID:       userID,
		AccountID:    accountID,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(expiresIn),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Stored ledger credentials for user %s (account %s), expires %s\n", u.UserID, u.AccountID, u.ExpiresAt.Format(time.RFC3339))
	return nil
}

func runLinksUnlink(ctx context.Context, e *env) error {
	kind, err := mapping.ParseKind(linkKind)
	if err != nil {
		return err
	}

	link, err := e.links.FindLink(ctx, kind, accountID, boardID, itemID)
	if err != nil {
		return err
	}
	if link == nil {
		return fmt.Errorf("%w: %s item %s on board %s", mapping.ErrLinkNotFound, kind, itemID, boardID)
	}

	if err := e.links.DeleteLink(ctx, link); err != nil {
		return err
	}
	fmt.Printf("Unlinked %s item %s from ledger %s\n", kind, itemID, link.LedgerID)
	return nil
}
