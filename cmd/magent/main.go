// Command magent runs the thread engine and talks to a running one.
//
// `magent serve` starts the engine: it loads the settings document,
// reconciles persisted threads against the live tmux server, and serves
// the control socket while the session monitor polls in the background.
// `magent send` is the scripting client: it builds one request from
// flags, writes it to the socket, and prints the JSON response.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	goruntime "runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/magenthq/magent-core/cli"
	"github.com/magenthq/magent-core/config"
	"github.com/magenthq/magent-core/git"
	"github.com/magenthq/magent-core/logger"
	"github.com/magenthq/magent-core/manager"
	"github.com/magenthq/magent-core/monitor"
	"github.com/magenthq/magent-core/paths"
	"github.com/magenthq/magent-core/socket"
	"github.com/magenthq/magent-core/tmux"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	flagVerbose bool
	flagSocket  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "magent",
		Short: "Parallel coding-agent work sessions on git worktrees",
		Long: `Magent manages parallel coding-agent work sessions. Each thread binds
one git worktree, one or more tmux sessions, and persisted metadata;
the engine keeps them consistent and scriptable over a local socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", "", "Control socket path (default: state dir)")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("magent v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(addProjectCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// secondsOrDefault maps a flag value to a duration; zero or negative
// means the monitor's built-in default.
func secondsOrDefault(sec int) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

func socketPath() (string, error) {
	if flagSocket != "" {
		return flagSocket, nil
	}
	return paths.SocketPath()
}

func serveCmd() *cobra.Command {
	var interval int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.ValidateRequired(cli.DefaultPrerequisites()); err != nil {
				return err
			}

			logPath, err := logger.DefaultLogPath()
			if err != nil {
				return err
			}
			if err := logger.Init(logPath); err != nil {
				return err
			}
			defer logger.Close()
			logger.SetDebug(flagVerbose)

			settings, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load settings: %w", err)
			}
			agents, err := config.LoadAgents()
			if err != nil {
				return fmt.Errorf("failed to load agent presets: %w", err)
			}

			worktreesBase, err := paths.WorktreesDir()
			if err != nil {
				return err
			}
			sockPath, err := socketPath()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gitSvc := git.NewService()
			tmuxSvc := tmux.NewService()
			if err := tmuxSvc.ApplyGlobalSettings(ctx); err != nil {
				// The tmux server may not be running yet; settings are
				// re-applied implicitly when the first session starts it.
				logger.Get().Warn("could not apply tmux settings", "error", err)
			}

			mgr := manager.New(manager.Options{
				Settings:      settings,
				Git:           gitSvc,
				Tmux:          tmuxSvc,
				Agents:        agents,
				WorktreesBase: worktreesBase,
				SocketPath:    sockPath,
			})

			if err := mgr.RestoreThreads(ctx); err != nil {
				logger.Get().Warn("session restore failed", "error", err)
			}
			for _, project := range settings.AllProjects() {
				if _, err := mgr.SyncThreadsWithWorktrees(ctx, project.ID); err != nil {
					logger.Get().Warn("worktree sync failed", "project", project.Name, "error", err)
				}
			}

			server, err := socket.NewServer(sockPath, mgr)
			if err != nil {
				return err
			}
			server.Start()
			server.WaitReady()

			mon := monitor.New(monitor.Options{
				Manager:  mgr,
				Tmux:     tmuxSvc,
				Agents:   agents,
				Interval: secondsOrDefault(interval),
			})
			go mon.Run(ctx)

			fmt.Fprintf(cmd.OutOrStdout(), "magent engine running, socket %s\n", sockPath)
			<-ctx.Done()

			return server.Close()
		},
	}

	cmd.Flags().IntVar(&interval, "monitor-interval", 0, "Monitor poll interval in seconds (default 2)")
	return cmd
}

func sendCmd() *cobra.Command {
	var req socket.Request

	cmd := &cobra.Command{
		Use:   "send <command>",
		Short: "Send one request to a running engine",
		Long: `Send one control request to a running engine and print the JSON
response. The command name is positional; everything else comes from
flags, e.g.:

  magent send create-thread --project myapp
  magent send send-prompt --thread-name calm-otter --prompt "run the tests"
  magent send list-threads --project myapp`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Command = args[0]

			sockPath, err := socketPath()
			if err != nil {
				return err
			}
			client, err := socket.Dial(sockPath)
			if err != nil {
				return fmt.Errorf("is the engine running? %w", err)
			}
			defer client.Close()

			resp, err := client.Do(req)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if !resp.OK {
				return fmt.Errorf("%s failed: %s", req.Command, resp.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Project, "project", "", "Project name")
	cmd.Flags().StringVar(&req.AgentType, "agent", "", "Agent type")
	cmd.Flags().StringVar(&req.Prompt, "prompt", "", "Prompt text")
	cmd.Flags().StringVar(&req.ThreadID, "thread-id", "", "Thread id")
	cmd.Flags().StringVar(&req.ThreadName, "thread-name", "", "Thread name")
	cmd.Flags().IntVar(&req.TabIndex, "tab-index", 0, "Tab index")
	cmd.Flags().StringVar(&req.SessionName, "session", "", "Session name")
	cmd.Flags().StringVar(&req.NewName, "new-name", "", "New thread name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description")
	cmd.Flags().StringVar(&req.ID, "id", "", "Correlation id echoed in the response")
	cmd.Flags().StringVar(&req.SectionName, "section", "", "Section name")
	cmd.Flags().StringVar(&req.SectionColor, "color", "", "Section color (hex)")
	cmd.Flags().IntVar(&req.Position, "position", 0, "Section sort position")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify git, tmux, and agent CLIs are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			prereqs := cli.DefaultPrerequisites()
			fmt.Fprint(cmd.OutOrStdout(), cli.FormatCheckResults(cli.CheckAll(prereqs)))
			return cli.ValidateRequired(prereqs)
		},
	}
}

func addProjectCmd() *cobra.Command {
	var (
		worktreesPath string
		defaultBranch string
		agentType     string
	)

	cmd := &cobra.Command{
		Use:   "add-project <name> <repo-path>",
		Short: "Register a repository as a project",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, repoPath := args[0], args[1]

			absPath, err := filepath.Abs(repoPath)
			if err != nil {
				return err
			}
			if !git.NewService().IsRepository(cmd.Context(), absPath) {
				return fmt.Errorf("%s is not a git repository", absPath)
			}

			settings, err := config.Load()
			if err != nil {
				return err
			}
			if _, exists := settings.ProjectByName(name); exists {
				return fmt.Errorf("project %q already exists", name)
			}

			settings.AddProject(config.Project{
				ID:            uuid.New().String()[:8],
				Name:          name,
				RepoPath:      absPath,
				WorktreesPath: worktreesPath,
				DefaultBranch: defaultBranch,
				AgentType:     agentType,
			})
			if err := settings.Save(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "added project %s (%s)\n", name, absPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&worktreesPath, "worktrees", "", "Worktrees base path (may contain {name})")
	cmd.Flags().StringVar(&defaultBranch, "default-branch", "", "Default base branch")
	cmd.Flags().StringVar(&agentType, "agent", "", "Default agent type for this project")
	return cmd
}
