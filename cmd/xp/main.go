package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pdiquest/internal/app"
	"pdiquest/internal/config"
	"pdiquest/internal/db"
	"pdiquest/internal/domain"
	"pdiquest/internal/engine"
	"pdiquest/internal/engine/level"
	"pdiquest/internal/logger"
	"pdiquest/internal/migrate"
	"pdiquest/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "xp",
	Short: "pdiquest XP engine CLI",
	Long: `pdiquest awards experience points for professional development actions.
- Actions: the catalog of things worth XP, with cooldowns, weekly caps and evidence rules.
- Ledger: accepted submissions become immutable XP events; totals, levels and badges are derived from it.
- Profiles: org facts classify an actor as IC or manager, which decides eligibility and multipliers.
- Workspace: .pdiquest holds the database; rules live in the database and are imported explicitly.
- Event log: audit trail of awards, rejections and admin changes, view with 'xp log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PDIQUEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-mode", "prod", "log output: prod (JSON) or dev (console, debug)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-mode"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actionsCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(badgesCmd())
	rootCmd.AddCommand(limitsCmd())
	rootCmd.AddCommand(leaderboardCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(levelCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace database and seed the rules",
		Long:  "Seeds from pdiquest.yml in the workspace when present, otherwise from the built-in catalog.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				history, err := migrate.History(ctx, e.DB)
				if err != nil {
					return err
				}
				version := 0
				if len(history) > 0 {
					version = history[len(history)-1].Version
				}
				fmt.Printf("workspace ready at %s (schema v%d, %d actions)\n", db.Path(viper.GetString("workspace")), version, len(e.Actions()))
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and import engine rules",
		Long:  "Rules are stored in the database: action catalog, multipliers, badges, streak policy and level titles.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show active rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config)
				}
				data, err := e.Config.YAML()
				if err != nil {
					return err
				}
				fmt.Print(string(data))
				return nil
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the stored rules with a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportConfig(ctx, cfg, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("imported %d actions, %d multipliers, %d badges\n", len(cfg.Actions), len(cfg.Multipliers), len(cfg.Badges))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to pdiquest.yml")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a rules file, or the stored rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if file != "" {
				_, err = config.FromFile(file)
			} else {
				err = withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					return e.Config.Validate()
				})
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "rules file to check instead of the stored rules")
	return cmd
}

func actionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List the action catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				defs := e.Actions()
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := newTable("ID", "Category", "Points", "Cooldown", "Weekly cap", "Evidence", "Min rating")
				for _, d := range defs {
					cooldown := "-"
					if d.CooldownHours > 0 {
						cooldown = fmt.Sprintf("%dh", d.CooldownHours)
						if d.CooldownScope == domain.CooldownPerTarget {
							cooldown += " per target"
						}
					}
					weekCap := "-"
					if d.WeeklyCap > 0 {
						weekCap = strconv.Itoa(d.WeeklyCap)
					}
					rating := "-"
					if d.MinQualityRating != nil {
						rating = strconv.FormatFloat(*d.MinQualityRating, 'f', 1, 64)
					}
					tw.AppendRow(table.Row{d.ID, d.Category, d.BasePoints, cooldown, weekCap, d.RequiresEvidence, rating})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func submitCmd() *cobra.Command {
	var actionID, target, evidence, at string
	var quality float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an action for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub := domain.ActionSubmission{
				ActorID:      viper.GetString("actor-id"),
				ActionID:     actionID,
				TargetUserID: optionalString(target),
				Evidence:     optionalString(evidence),
			}
			if cmd.Flags().Changed("quality") {
				sub.QualityRating = &quality
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				sub.SubmissionTime = ts
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Submit(ctx, sub)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(res); err != nil {
						return err
					}
				} else {
					printSubmission(res)
				}
				if !res.Accepted() {
					return fmt.Errorf("submission rejected: %s", res.Rejection.Reason)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actionID, "action", "", "action id")
	cmd.Flags().StringVar(&target, "target", "", "target user id")
	cmd.Flags().StringVar(&evidence, "evidence", "", "evidence reference")
	cmd.Flags().Float64Var(&quality, "quality", 0, "quality rating 0-5")
	cmd.Flags().StringVar(&at, "at", "", "submission time (RFC3339), defaults to now")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func printSubmission(res domain.SubmissionResult) {
	if !res.Accepted() {
		fmt.Printf("rejected: %s\n", res.Rejection.Message)
		if res.Rejection.RetryAfter > 0 {
			fmt.Printf("retry in %s\n", res.Rejection.RetryAfter.Round(time.Minute))
		}
		return
	}
	fmt.Printf("+%d XP for %s", res.Event.FinalPoints, res.Event.ActionID)
	if res.Event.MultiplierApplied > 1 {
		fmt.Printf(" (x%.2f)", res.Event.MultiplierApplied)
	}
	fmt.Println()
	p := res.Profile
	fmt.Printf("total %d XP, level %d %s, %d%% to next\n", p.TotalXP, p.Level, p.Title, p.ProgressToNextLevel)
	if res.LeveledUp {
		fmt.Println("level up!")
	}
	for _, b := range res.NewBadges {
		fmt.Printf("badge unlocked: %s\n", b)
	}
}

func profileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profile [user]",
		Short: "Show a gamification profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := userArg(args)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Profile(ctx, user)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func eventsCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "events [user]",
		Short: "Show XP ledger entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := userArg(args)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.UserEvents(ctx, user, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("Time", "Action", "Target", "Base", "Multiplier", "Points")
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.Timestamp.Format(time.RFC3339), evt.ActionID, evt.Target(), evt.BasePoints, evt.MultiplierApplied, evt.FinalPoints})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events, 0 for all")
	return cmd
}

func badgesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "badges [user]",
		Short: "Show every badge with its unlock state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := userArg(args)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				badges, err := e.Badges(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(badges)
				}
				tw := newTable("Badge", "Rarity", "Earned", "Description")
				for _, b := range badges {
					earned := "locked"
					if b.EarnedAt != nil {
						earned = b.EarnedAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{b.Definition.Name, b.Definition.Rarity, earned, b.Definition.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func limitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "limits [user]",
		Short: "Show cooldown and weekly cap state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := userArg(args)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				limits, err := e.Limits(ctx, user)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(limits)
				}
				tw := newTable("Action", "Cooldown left", "This week", "Can submit")
				for _, l := range limits {
					left := "-"
					if l.CooldownRemaining > 0 {
						left = l.CooldownRemaining.Round(time.Minute).String()
					}
					week := strconv.Itoa(l.WeeklyCount)
					if l.WeeklyCap > 0 {
						week = fmt.Sprintf("%d/%d", l.WeeklyCount, l.WeeklyCap)
					}
					tw.AppendRow(table.Row{l.ActionID, left, week, l.CanSubmit})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func leaderboardCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Rank users by total XP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				board, err := e.Leaderboard(ctx, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(board)
				}
				tw := newTable("#", "User", "XP", "Level", "Title")
				for _, row := range board {
					tw.AppendRow(table.Row{row.Rank, row.UserID, row.TotalXP, row.Level, row.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 10, "number of users")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Organizational facts"}
	var f domain.OrgFacts
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the org facts for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.SetOrgFacts(ctx, f, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	set.Flags().StringVar(&f.UserID, "user", "", "user id")
	set.Flags().IntVar(&f.SubordinateCount, "subordinates", 0, "direct reports")
	set.Flags().IntVar(&f.ManagedTeamCount, "teams", 0, "teams managed")
	set.Flags().IntVar(&f.ManagerRoleTeams, "manager-teams", 0, "teams where the user holds the manager role")
	set.Flags().BoolVar(&f.IsAdmin, "admin", false, "workspace administrator")
	_ = set.MarkFlagRequired("user")
	org.AddCommand(set)
	return org
}

func levelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "level <xp>",
		Short: "Show the level for an XP total",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid xp %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p := level.Compute(total)
				return printJSONOrTable(map[string]any{
					"total_xp":               total,
					"level":                  p.Level,
					"title":                  e.Core.Title(p.Level),
					"current_xp":             p.CurrentXP,
					"next_level_xp":          p.NextLevelXP,
					"progress_to_next_level": p.ProgressToNextLevel,
				})
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Awards, rejections, badge unlocks, level ups and admin changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				evts, err := e.AuditEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable("ID", "Time", "Type", "Entity", "Actor", "Payload")
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Role grants for the HTTP API",
		Long:  "The CLI works on the local database directly and is not subject to roles.",
	}
	var target, role string
	for _, grant := range []bool{true, false} {
		grant := grant
		use, short := "grant", "Grant a role"
		if !grant {
			use, short = "revoke", "Revoke a role"
		}
		sub := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					if grant {
						return e.GrantRole(ctx, viper.GetString("actor-id"), target, role)
					}
					return e.RevokeRole(ctx, viper.GetString("actor-id"), target, role)
				})
			},
		}
		sub.Flags().StringVar(&target, "actor", "", "actor id")
		sub.Flags().StringVar(&role, "role", "", "role id (admin, hr, member)")
		_ = sub.MarkFlagRequired("actor")
		_ = sub.MarkFlagRequired("role")
		cmd.AddCommand(sub)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show roles and permissions of the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				who, err := e.WhoAmI(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(who)
			})
		},
	})
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP API"}
	var owner, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				owner = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plain, key, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), owner, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
				}
				fmt.Printf("api key for %s: %s\n", key.ActorID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&owner, "owner", "", "actor the key authenticates as (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "label")

	var listOwner string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys, revoked ones included",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listOwner == "" {
				listOwner = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.APIKeys(ctx, listOwner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable("ID", "Name", "Created", "Last used", "Revoked")
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), timeCell(k.LastUsedAt), timeCell(k.RevokedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listOwner, "owner", "", "key owner (defaults to --actor-id)")

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, err := e.RevokeAPIKey(ctx, viper.GetString("actor-id"), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("revoked %s (%s)\n", key.ID, key.ActorID)
				return nil
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

// --- helpers ---

func openEngine(ctx context.Context) (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	log, err := logger.New(viper.GetString("log-mode"))
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	if _, err := migrate.Apply(ctx, conn, log.With("component", "migrate")); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	cfg, err := app.ResolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e.Log = log
	return e, func() {
		log.Sync()
		conn.Close()
	}, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func userArg(args []string) string {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0])
	}
	return viper.GetString("actor-id")
}

func newTable(headers ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(headers))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func timeCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func optionalString(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
