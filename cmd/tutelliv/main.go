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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tutelliv/internal/bus"
	"tutelliv/internal/config"
	"tutelliv/internal/engine"
	"tutelliv/internal/journal"
	"tutelliv/internal/server"
	"tutelliv/internal/token"
	sdk "tutelliv/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "tutelliv",
	Short: "TutelLiv CLI",
	Long: `TutelLiv is the admin backend for guardianship home deliveries.
Beneficiaries are the protected people a MJPM manages, missions are delivery
tasks with a promised business-day window, and every mission carries exactly
one invoice. 'serve' runs the API; the other commands talk to a running
server with a session token from 'login'.`,
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
	viper.SetEnvPrefix("TUTELLIV")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8000", "API server base URL")
	rootCmd.PersistentFlags().String("token", "", "session token (from 'tutelliv login')")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(beneficiaryCmd())
	rootCmd.AddCommand(missionCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(logCmd())
}

func serveCmd() *cobra.Command {
	var listen, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			conn, err := journal.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()

			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
			eng := engine.New(bus.New(log), &journal.Writer{DB: conn}, log)
			tokens := token.Service{
				Secret: []byte(cfg.Auth.Secret),
				TTL:    time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
			}
			handler, err := server.New(server.Config{
				Engine:      &eng,
				Tokens:      tokens,
				Users:       cfg,
				BasePath:    basePath,
				CORSOrigins: cfg.Server.CORSOrigins,
				Log:         log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: listen, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.Info().Str("listen", listen).Msg("serving TutelLiv API (Swagger UI at /docs)")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and print a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := sdk.New(viper.GetString("server"))
			res, err := c.Login(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("Logged in as %s (%s)\n", res.User.Name, res.User.Role)
			fmt.Println(res.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func beneficiaryCmd() *cobra.Command {
	b := &cobra.Command{Use: "beneficiary", Short: "Manage beneficiaries"}
	b.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List beneficiaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListBeneficiaries(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Address", "City", "Active"})
			for _, it := range items {
				tw.AppendRow(table.Row{it.ID, it.FirstName + " " + it.LastName, it.Address, it.City, it.IsActive})
			}
			tw.Render()
			return nil
		},
	})
	return b
}

func missionCmd() *cobra.Command {
	m := &cobra.Command{Use: "mission", Short: "Manage delivery missions"}
	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List missions with their delivery windows",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListMissions(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Beneficiary", "Categories", "Status", "Window"})
			for _, it := range items {
				window := it.CalendarStart + " .. " + it.CalendarEnd
				tw.AppendRow(table.Row{it.ID, it.BeneficiaryID, strings.Join(it.Categories, ","), it.Status, window})
			}
			tw.Render()
			return nil
		},
	})
	return m
}

func invoiceCmd() *cobra.Command {
	inv := &cobra.Command{Use: "invoice", Short: "Manage invoices"}
	inv.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListInvoices(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Mission", "Amount", "Status", "Note"})
			for _, it := range items {
				tw.AppendRow(table.Row{it.ID, it.MissionID, fmt.Sprintf("%.2f", it.Amount), it.Status, it.Note})
			}
			tw.Render()
			return nil
		},
	})
	return inv
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Dashboard counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(s)
			}
			fmt.Printf("Missions in progress:  %d\n", s.MissionsInProgress)
			fmt.Printf("Active beneficiaries:  %d\n", s.BeneficiariesActive)
			fmt.Printf("Invoices pending:      %d\n", s.InvoicesPending)
			return nil
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event journal"}
	var n int
	var after int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent journal events",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client().Events(cmd.Context(), n, after)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
			for _, ev := range events {
				tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + "/" + ev.EntityID, ev.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().Int64Var(&after, "after", 0, "resume after event id")
	log.AddCommand(tail)
	return log
}

// --- helpers ---

func client() *sdk.Client {
	c := sdk.New(viper.GetString("server"))
	c.BearerToken = viper.GetString("token")
	return c
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
