package main

import (
	"bufio"
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

	"predictops/internal/app"
	"predictops/internal/chat"
	"predictops/internal/config"
	"predictops/internal/devserver"
	"predictops/internal/domain"
	"predictops/internal/render"
	"predictops/internal/store"
	"predictops/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "pm",
	Short: "Predictive maintenance console",
	Long: `pm is the operations console for predictive-maintenance projects.
It manages the project directory, drives the dataset upload / model training /
deployment workflow against the prediction backend, and talks to the agent
over chat for simulations, failure predictions, and health checks.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := store.EnsureWorkspace(workspace); err != nil {
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
	viper.SetEnvPrefix("PREDICTOPS")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("backend-url", "", "backend base URL (overrides config)")
	rootCmd.PersistentFlags().String("project", "", "project id for audit events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("backend-url", rootCmd.PersistentFlags().Lookup("backend-url"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(machineCmd())
	rootCmd.AddCommand(dataCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default predictops.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Directory().List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Directory().Create(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	prj.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Directory().Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	})
	return prj
}

func machineCmd() *cobra.Command {
	m := &cobra.Command{Use: "machine", Short: "Inspect the machine catalogue"}
	m.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				machines, err := a.Client.MachineList(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(machines)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name"})
				for _, mc := range machines {
					tw.AppendRow(table.Row{mc.MachineID, mc.Name})
				}
				tw.Render()
				return nil
			})
		},
	})
	m.AddCommand(&cobra.Command{
		Use:   "defaults <machine-id>",
		Short: "Show baseline operating parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d, err := a.Client.MachineDefaults(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Parameter", "Value"})
				params := d.Parameters()
				for _, name := range domain.ParameterNames {
					tw.AppendRow(table.Row{render.TitleCase(name), params[name]})
				}
				tw.AppendRow(table.Row{"Duration", d.Duration})
				tw.Render()
				return nil
			})
		},
	})
	return m
}

func dataCmd() *cobra.Command {
	d := &cobra.Command{Use: "data", Short: "Live and historical machine data"}
	d.AddCommand(&cobra.Command{
		Use:   "sensor <machine-id>",
		Short: "Latest sensor readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				readings, err := a.Client.SensorData(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(readings)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Timestamp", "AFR", "Current", "Pressure", "RPM", "Temp", "Vibration"})
				for _, r := range readings {
					tw.AppendRow(table.Row{r.Timestamp, r.AFR, r.Current, r.Pressure, r.RPM, r.Temperature, r.VibrationMax})
				}
				tw.Render()
				return nil
			})
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "failures <machine-id>",
		Short: "Failure history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				records, err := a.Client.Failures(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Timestamp", "Failure Type"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.Timestamp, r.FailureType})
				}
				tw.Render()
				return nil
			})
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "maintenance <machine-id>",
		Short: "Maintenance history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				records, err := a.Client.Maintenance(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Timestamp", "Action"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.Timestamp, render.TitleCase(r.MaintenanceAction)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return d
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Dataset upload, training, and deployment"}
	run.AddCommand(runUploadCmd())
	run.AddCommand(runTrainCmd())
	run.AddCommand(runStatusCmd())
	run.AddCommand(runDeployCmd())
	return run
}

func runUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <files...>",
		Short: "Upload the four dataset files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wf := newWorkflow(a)
				defer wf.Close()
				wf.SelectFiles(args)
				if err := wf.Upload(ctx); err != nil {
					if errors.Is(err, workflow.ErrFilesMissing) {
						return fmt.Errorf("%w: %s", err, strings.Join(wf.Status().MissingFiles, ", "))
					}
					return err
				}
				fmt.Println("upload complete")
				return nil
			})
		},
	}
}

func runTrainCmd() *cobra.Command {
	var deploy bool
	cmd := &cobra.Command{
		Use:   "train <files...>",
		Short: "Upload the datasets and train the model",
		Long: `Uploads the four dataset files, starts the training pipeline, and follows
its progress until the backend reports completion. With --deploy the trained
model is deployed immediately afterwards.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				wf := newWorkflow(a)
				defer wf.Close()
				wf.SelectFiles(args)
				if err := wf.Upload(ctx); err != nil {
					if errors.Is(err, workflow.ErrFilesMissing) {
						return fmt.Errorf("%w: %s", err, strings.Join(wf.Status().MissingFiles, ", "))
					}
					return err
				}
				fmt.Println("upload complete, starting training")
				done, err := wf.StartTraining(ctx)
				if err != nil {
					return err
				}
				if err := followTraining(ctx, wf, done); err != nil {
					return err
				}
				st := wf.Status()
				fmt.Printf("\n%s\n", st.Checkpoint)
				if !deploy {
					fmt.Println("run 'pm run deploy' to deploy the model")
					return nil
				}
				if err := wf.Deploy(ctx); err != nil {
					return err
				}
				fmt.Println(wf.Status().DeployMessage)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&deploy, "deploy", false, "deploy the model after training")
	return cmd
}

// followTraining prints progress checkpoints until the training attempt
// settles, then surfaces its result.
func followTraining(ctx context.Context, wf *workflow.Workflow, done <-chan error) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	last := -1
	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			st := wf.Status()
			if st.Progress != last {
				last = st.Progress
				fmt.Printf("\r%3d%% %-30s", st.Progress, st.Checkpoint)
			}
		}
	}
}

func runStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the backend's training checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Client.Progress(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("%3d%% %s\n", p.Progress, p.Step)
				return nil
			})
		},
	}
}

func runDeployCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Client.DeployModel(ctx); err != nil {
					return err
				}
				_ = a.Events().Record(ctx, "deploy.completed", viper.GetString("project"), nil)
				fmt.Println("Deployment successful.")
				return nil
			})
		},
	}
}

func chatCmd() *cobra.Command {
	var machineID string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Talk to the maintenance agent",
		Long: `With a message argument, sends it and prints the reply. Without arguments,
starts an interactive session. Slash commands inside the session:
  /machine <id>   select a machine
  /set <k> <v>    override a simulation parameter
  /simulate       run a simulation with the current overrides
  /predict        predict failures for the selected machine
  /health         check agent health
  /history        reprint the transcript
  /quit           leave`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				session := chat.NewSession(a.Client, chat.WithRevealDelay(a.Config.RevealDelay()))
				defer session.Close()
				if machineID != "" {
					if _, err := session.SelectMachine(ctx, machineID); err != nil {
						return err
					}
				}
				if len(args) > 0 {
					m, err := session.SendText(ctx, strings.Join(args, " "))
					if err != nil {
						return err
					}
					render.Message(os.Stdout, m)
					return nil
				}
				return interactiveChat(ctx, session)
			})
		},
	}
	cmd.Flags().StringVar(&machineID, "machine", "", "machine id to select")
	return cmd
}

func interactiveChat(ctx context.Context, session *chat.Session) error {
	for _, m := range session.Messages() {
		render.Message(os.Stdout, m)
	}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var (
			m   domain.Message
			err error
		)
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/history":
			for _, m := range session.Messages() {
				render.Message(os.Stdout, m)
			}
			continue
		case strings.HasPrefix(line, "/machine "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/machine "))
			d, serr := session.SelectMachine(ctx, id)
			if serr != nil {
				fmt.Println("error:", serr)
				continue
			}
			fmt.Printf("selected %s (%s)\n", d.MachineName, d.MachineID)
			continue
		case strings.HasPrefix(line, "/set "):
			fields := strings.Fields(strings.TrimPrefix(line, "/set "))
			if len(fields) != 2 {
				fmt.Println("usage: /set <parameter> <value>")
				continue
			}
			if serr := session.SetParameter(fields[0], fields[1]); serr != nil {
				fmt.Println("error:", serr)
			}
			continue
		case line == "/simulate":
			m, err = session.RunSimulation(ctx)
		case line == "/predict":
			m, err = session.RunPrediction(ctx)
		case line == "/health":
			m, err = session.RunHealthCheck(ctx)
		default:
			m, err = session.SendText(ctx, line)
		}
		if err != nil && m.ID == "" {
			fmt.Println("error:", err)
			continue
		}
		render.Message(os.Stdout, m)
	}
}

func simulateCmd() *cobra.Command {
	var machineID, duration string
	var overrides []string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a what-if simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if machineID == "" {
				return fmt.Errorf("--machine required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				session := chat.NewSession(a.Client)
				defer session.Close()
				if _, err := session.SelectMachine(ctx, machineID); err != nil {
					return err
				}
				for _, ov := range overrides {
					k, v, ok := strings.Cut(ov, "=")
					if !ok {
						return fmt.Errorf("invalid --set %q, expected name=value", ov)
					}
					if err := session.SetParameter(k, v); err != nil {
						return err
					}
				}
				if duration != "" {
					if err := session.SetParameter("duration", duration); err != nil {
						return err
					}
				}
				m, err := session.RunSimulation(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m.Simulation)
				}
				render.Message(os.Stdout, m)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&machineID, "machine", "", "machine id")
	cmd.Flags().StringArrayVar(&overrides, "set", nil, "parameter override name=value (repeatable)")
	cmd.Flags().StringVar(&duration, "duration", "", "simulation duration in hours")
	return cmd
}

func predictCmd() *cobra.Command {
	var machineID string
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Predict failures for a machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if machineID == "" {
				return fmt.Errorf("--machine required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				session := chat.NewSession(a.Client)
				defer session.Close()
				if _, err := session.SelectMachine(ctx, machineID); err != nil {
					return err
				}
				m, err := session.RunPrediction(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m.Prediction)
				}
				render.Message(os.Stdout, m)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&machineID, "machine", "", "machine id")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check agent health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				session := chat.NewSession(a.Client)
				defer session.Close()
				m, err := session.RunHealthCheck(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m.Health)
				}
				render.Message(os.Stdout, m)
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Audit event log"}
	var limit int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				repo := store.Repo{DB: a.DB}
				events, err := repo.LatestEvents(ctx, limit, viper.GetString("project"), evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Project", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS, e.Type, e.ProjectID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "max events")
	tail.Flags().StringVar(&evtType, "type", "", "filter by event type")
	lg.AddCommand(tail)
	return lg
}

func serveCmd() *cobra.Command {
	var addr string
	var trainDuration time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a local stand-in backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := devserver.New(devserver.Config{
				JWTSecret:     os.Getenv("PREDICTOPS_JWT_SECRET"),
				TrainDuration: trainDuration,
			})
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving stand-in prediction backend on http://%s\n", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:5000", "listen address")
	cmd.Flags().DurationVar(&trainDuration, "train-duration", 30*time.Second, "simulated training run time")
	return cmd
}

func newWorkflow(a *app.App) *workflow.Workflow {
	events := a.Events()
	return workflow.New(a.Client,
		workflow.WithEvents(&events, viper.GetString("project")),
		workflow.WithPollInterval(a.Config.PollInterval()),
	)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	if override := viper.GetString("backend-url"); override != "" {
		a.Client.BaseURL = override
	}
	return fn(ctx, a)
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
