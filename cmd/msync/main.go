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

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mastersync/internal/app"
	"mastersync/internal/config"
	"mastersync/internal/db"
	"mastersync/internal/domain"
	"mastersync/internal/engine"
	"mastersync/internal/logger"
	"mastersync/internal/migrate"
	"mastersync/internal/repo"
	"mastersync/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "msync",
	Short: "Mastersync CLI",
	Long: `Mastersync keeps academic-discipline masters in sync with an external
task board: it derives completion status from content columns, reconciles one
card per planner with checklist, bucket, due date and assignments, and
generates throttled notifications for the responsible agents.`,
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
	viper.SetEnvPrefix("MASTERSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("instance", "", "instance id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("instance", rootCmd.PersistentFlags().Lookup("instance"))
}

func registerCommands() {
	rootCmd.AddCommand(masterCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(plannerCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func masterCmd() *cobra.Command {
	master := &cobra.Command{
		Use:   "master",
		Short: "Manage masters",
		Long:  "A master tracks one academic discipline: its content columns, projects and the task-board cards derived from them.",
	}
	master.AddCommand(masterUpsertCmd())
	master.AddCommand(masterListCmd())
	master.AddCommand(masterShowCmd())
	master.AddCommand(masterDeleteCmd())
	master.AddCommand(masterReconcileCmd())
	return master
}

func masterUpsertCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace a master from JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var m domain.Master
			if err := readJSONFile(filePath, &m); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.UpsertMaster(ctx, m)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to master JSON ('-' for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func masterListCmd() *cobra.Command {
	var q repo.MasterCriteria
	var order string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List masters",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.SortBy.Order = order
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				page, err := e.FindAllMasters(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UUID", "Discipline", "Semester", "Status", "Cards"})
				for _, m := range page.Result {
					tw.AppendRow(table.Row{m.UUID, m.Discipline, m.Semester, m.Status, len(m.Cards)})
				}
				tw.Render()
				fmt.Printf("page %d/%d, %d total\n", page.CurrentPage, page.TotalPages, page.TotalItems)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "limit", 50, "page size (max 1000)")
	cmd.Flags().IntVar(&q.Start, "start", 0, "offset")
	cmd.Flags().StringVar(&q.SortBy.Property, "sort-by", "", "sort property")
	cmd.Flags().StringVar(&order, "order", "", "ascending or descending")
	cmd.Flags().StringVar(&q.Filter.Discipline, "discipline", "", "filter by discipline")
	cmd.Flags().StringVar(&q.Filter.Semester, "semester", "", "filter by semester")
	cmd.Flags().StringVar(&q.Filter.Status, "status", "", "filter by status")
	cmd.Flags().StringVar(&q.Filter.Project, "project", "", "filter by project")
	cmd.Flags().StringVar(&q.Filter.Agent, "agent", "", "filter by agent")
	return cmd
}

func masterShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <uuid>",
		Short: "Show a master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Repo.GetMaster(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func masterDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete a master",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteMaster(ctx, args[0])
			})
		},
	}
	return cmd
}

func masterReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <uuid>",
		Short: "Reconcile a master's cards and generate notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ReconcileMaster(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Manage agents"}
	agent.AddCommand(agentUpsertCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentDeleteCmd())
	return agent
}

func agentUpsertCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace an agent from JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var a domain.Agent
			if err := readJSONFile(filePath, &a); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.UpsertAgent(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to agent JSON ('-' for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				agents, err := r.ListAgents(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UUID", "Alias", "Name", "Email", "Leader"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.UUID, a.Alias, a.Name, a.Email, a.IsLeader})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agentDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteAgent(ctx, args[0])
			})
		},
	}
	return cmd
}

func plannerCmd() *cobra.Command {
	planner := &cobra.Command{Use: "planner", Short: "Manage planners"}
	planner.AddCommand(plannerUpsertCmd())
	planner.AddCommand(plannerListCmd())
	planner.AddCommand(plannerDeleteCmd())
	return planner
}

func plannerUpsertCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Create or replace a planner from JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.Planner
			if err := readJSONFile(filePath, &p); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.UpsertPlanner(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to planner JSON ('-' for stdin)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func plannerListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List planners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				planners, err := r.ListPlanners(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(planners)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"UUID", "Name", "Group", "Buckets"})
				for _, p := range planners {
					tw.AppendRow(table.Row{p.UUID, p.Name, p.GroupID, len(p.Buckets)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func plannerDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <uuid>",
		Short: "Delete a planner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeletePlanner(ctx, args[0])
			})
		},
	}
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Inspect generated notifications"}
	n.AddCommand(notificationListCmd())
	return n
}

func notificationListCmd() *cobra.Command {
	var masterUUID, code string
	var undelivered bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListNotifications(ctx, repo.NotificationFilters{
					MasterUUID:  masterUUID,
					Code:        code,
					Undelivered: undelivered,
					Limit:       limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Master", "Message", "Delivered"})
				for _, n := range items {
					delivered := ""
					if n.DeliveredAt != nil {
						delivered = *n.DeliveredAt
					}
					tw.AppendRow(table.Row{n.ID, n.Code, n.MasterUUID, n.MessageReduced, delivered})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&masterUUID, "master", "", "filter by master uuid")
	cmd.Flags().StringVar(&code, "code", "", "filter by notification code")
	cmd.Flags().BoolVar(&undelivered, "undelivered", false, "only pending notifications")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage instance config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show instance config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
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
		Short: "Import instance config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertInstanceConfig(ctx, cfg.Instance.ID, cfg); err != nil {
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
	var instanceID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default mastersync.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(instanceID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				_, err := e.InitInstance(ctx, instanceID)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "local", "instance id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, logMode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveInstanceConfig(cmd.Context(), workspace, viper.GetString("instance"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			log, err := logger.New(logMode)
			if err != nil {
				return err
			}
			defer log.Sync()
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e, log)
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:8080"
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info("serving mastersync api", "addr", addr, "base_path", basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&logMode, "log-mode", "dev", "log mode (dev or prod)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveInstanceConfig(ctx, workspace, viper.GetString("instance"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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

func readJSONFile(path string, v any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = os.ReadFile("/dev/stdin")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
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
