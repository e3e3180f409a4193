package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grantline/internal/app"
	"grantline/internal/config"
	"grantline/internal/db"
	"grantline/internal/domain"
	"grantline/internal/engine"
	"grantline/internal/events"
	"grantline/internal/migrate"
	"grantline/internal/refresh"
	"grantline/internal/repo"
	"grantline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Grantline CLI",
	Long: `Grantline manages research projects through an event log.
Every change to a project is a discrete event: submitted by an actor with
the right capability, routed through notify/approve policies, and either
applied immediately or parked pending approval. The canonical project only
moves when events are approved; 'gl project projected' shows the optimistic
view with pending events folded in.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GRANTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(policyCmd())
	rootCmd.AddCommand(accessCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectProjectedCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var id, title, org, orgName string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default(id)
			}
			e := engine.New(conn, cfg)
			p, err := e.InitProject(cmd.Context(), engine.InitOptions{
				ProjectID: id,
				Title:     title,
				OrgID:     org,
				OrgName:   orgName,
				ActorID:   viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			return printJSONOrTable(p)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when omitted)")
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&org, "org", "", "owning organisation id")
	cmd.Flags().StringVar(&orgName, "org-name", "", "owning organisation name")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Org", "Start", "End"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.OwningOrg.ID, p.StartDate, p.EndDate})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show canonical project state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectProjectedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projected",
		Short: "Show project with pending events folded in",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				p, err := e.ProjectedProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func eventCmd() *cobra.Command {
	evt := &cobra.Command{
		Use:   "event",
		Short: "Submit and resolve mutation events",
		Long: `Events are the only way a project changes. Submit proposes a mutation;
approve policies park it pending, otherwise it applies immediately.`,
	}
	evt.AddCommand(eventSubmitCmd())
	evt.AddCommand(eventListCmd())
	evt.AddCommand(eventApproveCmd())
	evt.AddCommand(eventRejectCmd())
	evt.AddCommand(eventWatchCmd())
	return evt
}

func eventSubmitCmd() *cobra.Command {
	var eventType, data string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a mutation event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !events.Known(events.Type(eventType)) {
				return fmt.Errorf("unknown event type %q", eventType)
			}
			payload := json.RawMessage(data)
			if data == "" {
				payload = json.RawMessage("{}")
			}
			if !json.Valid(payload) {
				return fmt.Errorf("--data must be valid JSON")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				evt, err := e.SubmitEvent(ctx, engine.SubmitOptions{
					ProjectID: projectID,
					ActorID:   viper.GetString("actor-id"),
					Request:   events.Request{Type: events.Type(eventType), Data: payload},
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type (e.g. title.changed)")
	cmd.Flags().StringVar(&data, "data", "", "event payload JSON")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func eventListCmd() *cobra.Command {
	var status, eventType string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events in causal order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				items, err := e.Repo.ListEvents(ctx, repo.EventFilters{
					ProjectID: projectID,
					Status:    status,
					Type:      eventType,
					Limit:     limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderEventTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending, approved, rejected)")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	cmd.Flags().IntVar(&limit, "limit", 0, "max events")
	return cmd
}

func eventApproveCmd() *cobra.Command {
	return resolveCmd("approve", "Approve a pending event")
}

func eventRejectCmd() *cobra.Command {
	return resolveCmd("reject", "Reject a pending event")
}

func resolveCmd(decision, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   decision + " <event-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				evt, err := e.ResolveEvent(ctx, args[0], decision, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(evt)
			})
		},
	}
	return cmd
}

func eventWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch pending events, refetching on change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				lastCount := -1
				poller := refresh.Poller{
					Interval: interval,
					Hub:      e.Hub,
					Fetch: func(ctx context.Context) error {
						items, err := e.Repo.PendingEvents(ctx, projectID)
						if err != nil {
							return err
						}
						if len(items) == lastCount {
							return nil
						}
						lastCount = len(items)
						fmt.Printf("--- %s pending=%d ---\n", time.Now().UTC().Format(time.RFC3339), len(items))
						renderEventTable(items)
						return nil
					},
				}
				err := poller.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	return cmd
}

func policyCmd() *cobra.Command {
	pol := &cobra.Command{
		Use:   "policy",
		Short: "Manage event policies",
		Long: `Policies route matching event types to an action: notify sends
notifications, approve requires a decision before the event applies.
Policy mutations travel through the event log like any other change.`,
	}
	pol.AddCommand(policyListCmd())
	pol.AddCommand(policyAddCmd())
	pol.AddCommand(policyRemoveCmd())
	pol.AddCommand(policyEnableCmd(true))
	pol.AddCommand(policyEnableCmd(false))
	return pol
}

func policyListCmd() *cobra.Command {
	var includeInherited bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				items, err := e.Policies(ctx, projectID, includeInherited)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Scope", "Action", "Types", "Enabled"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Scope, p.ActionType, strings.Join(p.EventTypes, ","), p.Enabled})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeInherited, "include-inherited", true, "include org-scoped policies")
	return cmd
}

func policyAddCmd() *cobra.Command {
	var name, action string
	var eventTypes, users, projectRoles, orgRoles []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a project policy (via policy.added event)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := events.NewPolicyAdded(events.PolicyAddedPayload{
				PolicyID:   uuid.New().String(),
				Name:       name,
				EventTypes: eventTypes,
				ActionType: action,
				Recipients: events.PolicyRecipients{
					Users:        users,
					ProjectRoles: projectRoles,
					OrgRoles:     orgRoles,
				},
				Enabled: true,
			})
			if err != nil {
				return err
			}
			return submitRequest(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "policy name")
	cmd.Flags().StringVar(&action, "action", "notify", "action type (notify or approve)")
	cmd.Flags().StringSliceVar(&eventTypes, "event-types", nil, "event types the policy matches")
	cmd.Flags().StringSliceVar(&users, "users", nil, "recipient user ids")
	cmd.Flags().StringSliceVar(&projectRoles, "project-roles", nil, "recipient project roles")
	cmd.Flags().StringSliceVar(&orgRoles, "org-roles", nil, "recipient org roles")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("event-types")
	return cmd
}

func policyRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <policy-id>",
		Short: "Remove a project policy (via policy.removed event)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := events.NewPolicyRemoved(args[0])
			if err != nil {
				return err
			}
			return submitRequest(cmd.Context(), req)
		},
	}
	return cmd
}

func policyEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <policy-id>", "Enable a policy"
	if !enable {
		use, short = "disable <policy-id>", "Disable a policy"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := events.NewPolicyUpdated(events.PolicyUpdatedPayload{
				PolicyID: args[0],
				Enabled:  &enable,
			})
			if err != nil {
				return err
			}
			return submitRequest(cmd.Context(), req)
		},
	}
	return cmd
}

func submitRequest(ctx context.Context, req events.Request) error {
	return withEngine(ctx, func(ctx context.Context, projectID string, e engine.Engine) error {
		evt, err := e.SubmitEvent(ctx, engine.SubmitOptions{
			ProjectID: projectID,
			ActorID:   viper.GetString("actor-id"),
			Request:   req,
		})
		if err != nil {
			return err
		}
		return printJSONOrTable(evt)
	})
}

func accessCmd() *cobra.Command {
	acc := &cobra.Command{Use: "access", Short: "Inspect and manage capabilities"}
	acc.AddCommand(accessShowCmd())
	acc.AddCommand(accessGrantCmd())
	acc.AddCommand(accessRevokeCmd())
	return acc
}

func accessShowCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show an actor's capability set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				if actor == "" {
					actor = viper.GetString("actor-id")
				}
				set, err := e.CapabilitySet(ctx, projectID, actor)
				if err != nil {
					return err
				}
				out := map[string]any{
					"project_id":   projectID,
					"actor_id":     actor,
					"status":       string(set.Status),
					"capabilities": set.Capabilities(),
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	return cmd
}

func accessGrantCmd() *cobra.Command {
	var actor, eventType string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a direct capability to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !events.Known(events.Type(eventType)) && eventType != "event.resolve" {
				return fmt.Errorf("unknown event type %q", eventType)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.EnsurePersonTx(ctx, tx, actor, "", now); err != nil {
					return err
				}
				if err := e.Repo.GrantActorCapabilityTx(ctx, tx, projectID, actor, eventType); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&eventType, "type", "", "event type capability")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func accessRevokeCmd() *cobra.Command {
	var actor, eventType string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a direct capability from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.RevokeActorCapabilityTx(ctx, tx, projectID, actor, eventType); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&eventType, "type", "", "event type capability")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func notificationCmd() *cobra.Command {
	not := &cobra.Command{Use: "notification", Short: "Notifications"}
	not.AddCommand(notificationListCmd())
	not.AddCommand(notificationAckCmd())
	return not
}

func notificationListCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, viper.GetString("actor-id"), unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Event", "Created", "Read"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Kind, n.EventID, n.CreatedAt, n.ReadAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "only unread")
	return cmd
}

func notificationAckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ack <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.AckNotification(ctx, args[0], time.Now().UTC().Format(time.RFC3339))
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage project config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				if cfg.Project.ID == "" {
					cfg.Project.ID = projectID
				}
				if err := e.Repo.UpsertProjectConfig(ctx, cfg.Project.ID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default grantline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if id == "" {
				id = uuid.New().String()
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when omitted)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once, stored hashed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := uuid.New().String() + uuid.New().String()
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key (save it now, it is not stored): %s\n", raw)
				return printJSONOrTable(key)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, projectID string, e engine.Engine) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("GRANTLINE_JWT_SECRET"),
					AllowLegacyActorHeader: os.Getenv("GRANTLINE_ALLOW_ACTOR_HEADER") == "1",
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowLegacyActorHeader {
					return fmt.Errorf("GRANTLINE_JWT_SECRET is required for bearer auth (or set GRANTLINE_ALLOW_ACTOR_HEADER=1 for local use)")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Grantline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, string, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	projectID, cfg, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"), viper.GetString("actor-id"))
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, projectID, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func renderEventTable(items []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Type", "Status", "Actor", "At"})
	for _, evt := range items {
		tw.AppendRow(table.Row{evt.ID, evt.Type, evt.Status, evt.ActorID, evt.At})
	}
	tw.Render()
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
