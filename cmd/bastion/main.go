// Command bastion inspects and edits the permission rules a bot keeps in
// its JSON rule file.
//
//	bastion [global flags] check     --key p.events.add --user u1 --guild g1 --channel c1
//	bastion [global flags] add       --key p.events.add --scope guild --scope-id g1 --target role --target-id r1 --allow
//	bastion [global flags] list      [--key k] [--scope s] [--scope-id id]
//	bastion [global flags] effective --user u1 --guild g1 --channel c1
//	bastion [global flags] defaults
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/xraph/bastion"
	"github.com/xraph/bastion/rule"
	"github.com/xraph/bastion/store/jsonfile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "bastion:", err)
		os.Exit(1)
	}
}

type command func(ctx context.Context, eng *bastion.Engine, args []string, out io.Writer) error

var commands = map[string]command{
	"check":     runCheck,
	"add":       runAdd,
	"list":      runList,
	"effective": runEffective,
	"defaults":  runDefaults,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := globalFlags()
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("missing command (one of %s)", strings.Join(commandNames(), ", "))
	}
	cmd, ok := commands[fs.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	st, err := jsonfile.Open(cfg.RulesFile)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	engCfg := bastion.DefaultConfig()
	engCfg.BotOwners = cfg.BotOwners
	engCfg.Defaults = cfg.Defaults.Overrides()
	eng, err := bastion.NewEngine(
		bastion.WithStore(st),
		bastion.WithConfig(engCfg),
		bastion.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop(ctx) //nolint:errcheck // Stop only notifies plugins.

	return cmd(ctx, eng, fs.Args()[1:], stdout)
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ──────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────

// requestFlags registers the flags describing a requester and location.
func requestFlags(fs *pflag.FlagSet) *bastion.Request {
	req := &bastion.Request{}
	fs.StringVar(&req.RequesterID, "user", "", "requester user ID")
	fs.StringSliceVar(&req.RoleIDs, "role", nil, "role ID held by the requester (repeatable)")
	fs.StringVar(&req.GuildID, "guild", "", "guild ID; omit for a direct message")
	fs.StringVar(&req.ChannelID, "channel", "", "channel ID")
	fs.BoolVar(&req.IsAdmin, "admin", false, "requester administers the guild")
	fs.BoolVar(&req.IsBotOwner, "owner", false, "requester operates the bot")
	return req
}

func runCheck(ctx context.Context, eng *bastion.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("check", pflag.ContinueOnError)
	req := requestFlags(fs)
	fs.StringVar(&req.Key, "key", "", "permission key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	d, err := eng.Evaluate(ctx, req)
	if err != nil {
		return err
	}
	verdict := "denied"
	if d.Allowed {
		verdict = "allowed"
	}
	fmt.Fprintf(out, "%s %s (%s: %s)\n", d.Key, verdict, d.Reason, d.Detail)
	return nil
}

func runAdd(ctx context.Context, eng *bastion.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	r := &rule.Rule{}
	var scope, kind, as string
	var allow, deny bool
	fs.StringVar(&r.Key, "key", "", "permission key")
	fs.StringVar(&scope, "scope", string(rule.ScopeGlobal), "scope (global, guild, channel)")
	fs.StringVar(&r.ScopeID, "scope-id", "", "guild or channel ID")
	fs.StringVar(&kind, "target", string(rule.TargetAll), "target (all, role, user, admins, bot_owners)")
	fs.StringVar(&r.Target.ID, "target-id", "", "role or user ID")
	fs.BoolVar(&allow, "allow", false, "grant the permission")
	fs.BoolVar(&deny, "deny", false, "deny the permission")
	fs.StringVar(&as, "as", "operator", "user ID recorded as the rule author")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if allow == deny {
		return errors.New("exactly one of --allow or --deny is required")
	}
	r.Scope = rule.Scope(scope)
	r.Target.Kind = rule.TargetKind(kind)
	r.Allowed = allow

	// The CLI edits the rule file directly, so it writes as a bot owner.
	ruleID, err := eng.AddRule(ctx, r, &bastion.Caller{ID: as, IsBotOwner: true})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ruleID)
	return nil
}

func runList(ctx context.Context, eng *bastion.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	filter := &rule.ListFilter{}
	var scope string
	fs.StringVar(&filter.Key, "key", "", "filter by permission key")
	fs.StringVar(&scope, "scope", "", "filter by scope")
	fs.StringVar(&filter.ScopeID, "scope-id", "", "filter by guild or channel ID")
	fs.IntVar(&filter.Limit, "limit", 0, "maximum rules to print")
	fs.IntVar(&filter.Offset, "offset", 0, "rules to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter.Scope = rule.Scope(scope)

	rules, total, err := eng.ListRules(ctx, filter)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKEY\tSCOPE\tTARGET\tALLOWED\tCREATED")
	for _, r := range rules {
		where := string(r.Scope)
		if r.ScopeID != "" {
			where += ":" + r.ScopeID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
			r.ID, r.Key, where, r.Target, r.Allowed, r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d rules\n", len(rules), total)
	return nil
}

func runEffective(ctx context.Context, eng *bastion.Engine, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("effective", pflag.ContinueOnError)
	req := requestFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	decisions, err := eng.Effective(ctx, req)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(out, "no rules apply")
		return nil
	}
	for _, d := range decisions {
		mark := "-"
		if d.Allowed {
			mark = "+"
		}
		fmt.Fprintf(out, "%s %s\n", mark, d.Key)
	}
	return nil
}

func runDefaults(_ context.Context, eng *bastion.Engine, args []string, out io.Writer) error {
	if len(args) > 0 {
		return errors.New("defaults takes no arguments")
	}
	entries := eng.Defaults().Entries()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "%-32s %t\n", k, entries[k])
	}
	return nil
}
