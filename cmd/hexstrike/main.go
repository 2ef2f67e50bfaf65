// Hexstrike CLI - Command-line interface for the hexstriked daemon
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/auth"
	"github.com/havij13/Hexstrike-AI-sub001/pkg/client"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	defaultAPIURL = "http://localhost:8888"
	pidFileName   = "hexstriked.pid"
)

var (
	apiURL string
	apiKey string
)

// Version is stamped at build time.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "hexstrike",
		Short: "Hexstrike Security Tool Orchestration CLI",
		Long:  "Command-line interface for the hexstriked orchestration daemon.",
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api", defaultAPIURL, "Hexstrike API URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (overrides saved credentials)")

	// Daemon commands
	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(restartCmd())

	// Invocation commands
	rootCmd.AddCommand(invokeCmd())
	rootCmd.AddCommand(psCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(terminateCmd())
	rootCmd.AddCommand(dashboardCmd())

	// Engine maintenance
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(errorsCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(suggestCmd())
	rootCmd.AddCommand(historyCmd())

	// Auth commands
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newClient resolves credentials in priority order: the --api-key flag,
// the HEXSTRIKE_API_KEY environment variable, then saved login data.
func newClient() *client.Client {
	key := apiKey
	if key == "" {
		key = os.Getenv("HEXSTRIKE_API_KEY")
	}
	token := ""
	if saved, err := auth.LoadAuth(); err == nil && saved != nil {
		token = saved.Token
		if saved.Server != "" && apiURL == defaultAPIURL {
			apiURL = saved.Server
		}
	}
	return client.New(apiURL, key, token)
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the Hexstrike daemon",
		Run: func(cmd *cobra.Command, args []string) {
			pidFile := filepath.Join(os.TempDir(), pidFileName)

			if isRunning(pidFile) {
				pid, _ := readPID(pidFile)
				fmt.Printf("Hexstrike daemon already running (PID: %d)\n", pid)
				return
			}

			// Find hexstriked binary next to this one, then in PATH
			daemonBin := "hexstriked"
			if exe, err := os.Executable(); err == nil {
				dir := filepath.Dir(exe)
				if _, err := os.Stat(filepath.Join(dir, "hexstriked")); err == nil {
					daemonBin = filepath.Join(dir, "hexstriked")
				}
			}

			daemonCmd := exec.Command(daemonBin)
			daemonCmd.Stdout = nil
			daemonCmd.Stderr = nil
			daemonCmd.Stdin = nil

			if err := daemonCmd.Start(); err != nil {
				fmt.Printf("Failed to start daemon: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Hexstrike daemon started (PID: %d)\n", daemonCmd.Process.Pid)
		},
	}
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the Hexstrike daemon",
		Run: func(cmd *cobra.Command, args []string) {
			pidFile := filepath.Join(os.TempDir(), pidFileName)
			pid, err := readPID(pidFile)
			if err != nil {
				fmt.Println("Hexstrike daemon is not running")
				return
			}

			process, err := os.FindProcess(pid)
			if err != nil {
				fmt.Println("Hexstrike daemon is not running")
				return
			}

			if err := process.Signal(syscall.SIGTERM); err != nil {
				fmt.Printf("Failed to stop daemon: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("Hexstrike daemon stopped")
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show Hexstrike daemon status",
		Run: func(cmd *cobra.Command, args []string) {
			pidFile := filepath.Join(os.TempDir(), pidFileName)
			fmt.Println("Hexstrike Daemon Status")
			fmt.Println("=======================")

			if !isRunning(pidFile) {
				fmt.Println("Status:     stopped")
				return
			}

			pid, _ := readPID(pidFile)
			fmt.Printf("Status:     running\n")
			fmt.Printf("PID:        %d\n", pid)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			h, err := newClient().Health(ctx)
			if err != nil {
				fmt.Printf("API:        unreachable (%s)\n", apiURL)
				return
			}
			fmt.Printf("API:        healthy (%s)\n", apiURL)
			fmt.Printf("Version:    %s\n", h.Version)
			fmt.Printf("Running:    %d\n", h.Running)
			fmt.Printf("Queued:     %d\n", h.Queued)
		},
	}
}

func restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the Hexstrike daemon",
		Run: func(cmd *cobra.Command, args []string) {
			stopCmd().Run(cmd, args)
			time.Sleep(1 * time.Second)
			startCmd().Run(cmd, args)
		},
	}
}

func invokeCmd() *cobra.Command {
	var params []string
	var timeout float64
	var noCache, cacheFailures, async bool

	cmd := &cobra.Command{
		Use:   "invoke <tool> <target>",
		Short: "Run a wrapped security tool against a target",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			req := client.InvokeRequest{
				Tool:          args[0],
				Target:        args[1],
				Timeout:       timeout,
				NoCache:       noCache,
				CacheFailures: cacheFailures,
			}
			if len(params) > 0 {
				req.Parameters = make(map[string]any, len(params))
				for _, p := range params {
					k, v, ok := strings.Cut(p, "=")
					if !ok {
						fmt.Printf("Invalid parameter %q, expected key=value\n", p)
						os.Exit(1)
					}
					req.Parameters[k] = v
				}
			}

			c := newClient()
			if async {
				id, cached, err := c.Submit(context.Background(), req)
				if err != nil {
					fmt.Printf("Invoke failed: %v\n", err)
					os.Exit(1)
				}
				if cached != nil {
					printResult(cached)
					return
				}
				fmt.Printf("Submitted: %s\n", id)
				fmt.Printf("Poll with: hexstrike ps %s\n", id)
				return
			}

			res, err := c.Invoke(context.Background(), req)
			if err != nil {
				fmt.Printf("Invoke failed: %v\n", err)
				os.Exit(1)
			}
			printResult(res)
			if !res.Success {
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Tool parameter (key=value, repeatable)")
	cmd.Flags().Float64VarP(&timeout, "timeout", "t", 0, "Timeout in seconds (0 = tool default)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the result cache")
	cmd.Flags().BoolVar(&cacheFailures, "cache-failures", false, "Cache nonzero-exit results too")
	cmd.Flags().BoolVar(&async, "async", false, "Return a handle instead of waiting")
	return cmd
}

func printResult(res *client.Result) {
	marker := "OK"
	if !res.Success {
		marker = "FAILED"
	}
	source := ""
	if res.Cached {
		source = " (cached)"
	}
	fmt.Printf("[%s] %s  status=%s exit=%d time=%.2fs%s\n",
		marker, res.Tool, res.Status, res.ExitCode, res.ExecutionTime, source)
	if res.Error != "" {
		fmt.Printf("Error: %s\n", res.Error)
	}
	if res.Output != "" {
		fmt.Println(res.Output)
	}
}

func psCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ps [id]",
		Short: "List tracked invocations, or show one in detail",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c := newClient()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if len(args) == 1 {
				p, err := c.Process(ctx, args[0])
				if err != nil {
					fmt.Printf("Failed: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("ID:         %s\n", p.ID)
				fmt.Printf("Tool:       %s (%s)\n", p.Tool, p.Category)
				fmt.Printf("Status:     %s\n", p.Status)
				fmt.Printf("PID:        %d\n", p.PID)
				fmt.Printf("Runtime:    %.1fs\n", p.Runtime)
				fmt.Printf("Progress:   %s %.1f%%\n", p.ProgressBar, p.ProgressPercent*100)
				if p.ETAKnown {
					fmt.Printf("ETA:        %.0fs\n", p.ETA)
				}
				if p.LastOutput != "" {
					fmt.Printf("Output:     %s\n", truncate(p.LastOutput, 120))
				}
				if p.Error != "" {
					fmt.Printf("Error:      %s\n", p.Error)
				}
				return
			}

			procs, err := c.Processes(ctx)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			if len(procs) == 0 {
				fmt.Println("No tracked invocations")
				return
			}
			fmt.Printf("%-38s %-12s %-10s %8s  %s\n", "ID", "TOOL", "STATUS", "RUNTIME", "PROGRESS")
			for _, p := range procs {
				fmt.Printf("%-38s %-12s %-10s %7.1fs  %s\n",
					p.ID, truncate(p.Tool, 12), p.Status, p.Runtime, p.ProgressBar)
			}
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running invocation",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := newClient().Cancel(ctx, args[0]); err != nil {
				fmt.Printf("Cancel failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Cancelled %s\n", args[0])
		},
	}
}

func terminateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "terminate <pid>",
		Short: "Terminate a running invocation by PID",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			pid, err := strconv.Atoi(args[0])
			if err != nil || pid <= 0 {
				fmt.Println("PID must be a positive integer")
				os.Exit(1)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := newClient().Terminate(ctx, pid); err != nil {
				fmt.Printf("Terminate failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Terminated PID %d\n", pid)
		},
	}
}

func dashboardCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show the live process dashboard",
		Run: func(cmd *cobra.Command, args []string) {
			c := newClient()
			for {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				d, err := c.Dashboard(ctx)
				cancel()
				if err != nil {
					fmt.Printf("Failed: %v\n", err)
					os.Exit(1)
				}

				if watch {
					fmt.Print("\033[2J\033[H")
				}
				fmt.Printf("Hexstrike Dashboard  %s\n", d.Timestamp.Format("15:04:05"))
				fmt.Printf("Tracked: %d  Running: %d  Queued: %d  Load: %.2f\n\n",
					d.TotalProcesses, d.Running, d.Queued, d.SystemLoad)
				for _, p := range d.Processes {
					fmt.Printf("  %-12s %-10s %7.1fs  %s\n",
						truncate(p.Tool, 12), p.Status, p.Runtime, p.ProgressBar)
				}

				if !watch {
					return
				}
				time.Sleep(2 * time.Second)
			}
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Refresh every 2 seconds")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s, err := newClient().CacheStats(ctx)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Entries:    %d\n", s.Entries)
			fmt.Printf("Usage:      %d / %d bytes\n", s.Usage, s.MaxBytes)
			fmt.Printf("Hits:       %d (%.1f%%)\n", s.Hits, s.HitRate*100)
			fmt.Printf("Misses:     %d (%.1f%%)\n", s.Misses, s.MissRate*100)
			fmt.Printf("Evictions:  %d\n", s.Evictions)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all cached results",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			n, err := newClient().CacheClear(ctx)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Cleared %d cache entries\n", n)
		},
	})

	return cmd
}

func errorsCmd() *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show aggregated failure statistics",
		Run: func(cmd *cobra.Command, args []string) {
			c := newClient()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if reset {
				if err := c.ErrorsReset(ctx); err != nil {
					fmt.Printf("Failed: %v\n", err)
					os.Exit(1)
				}
				fmt.Println("Error statistics reset")
				return
			}

			s, err := c.Errors(ctx)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Total errors: %d\n", s.Total)
			if len(s.ByKind) > 0 {
				fmt.Println("By kind:")
				for kind, n := range s.ByKind {
					fmt.Printf("  %-18s %d\n", kind, n)
				}
			}
			if len(s.ByTool) > 0 {
				fmt.Println("By tool:")
				for tool, n := range s.ByTool {
					fmt.Printf("  %-18s %d\n", tool, n)
				}
			}
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Reset the counters instead of showing them")
	return cmd
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the wrapped tool catalog",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			tools, err := newClient().Tools(ctx)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("%-16s %-10s %s\n", "NAME", "CATEGORY", "COMMAND")
			for _, t := range tools {
				fmt.Printf("%-16s %-10s %s\n", t.Name, t.Category, t.Command)
			}
		},
	}
}

func suggestCmd() *cobra.Command {
	var targetType, riskLevel, objective string
	var confidence float64
	var vulns []string

	cmd := &cobra.Command{
		Use:   "suggest <target>",
		Short: "Rank catalog tools for a target",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			profile := client.TargetProfile{
				Target:          args[0],
				TargetType:      targetType,
				RiskLevel:       riskLevel,
				Confidence:      confidence,
				Vulnerabilities: vulns,
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			suggestions, err := newClient().Suggest(ctx, profile, objective)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			if len(suggestions) == 0 {
				fmt.Println("No suitable tools")
				return
			}
			fmt.Printf("%-16s %-10s %6s  %s\n", "TOOL", "CATEGORY", "SCORE", "REASON")
			for _, s := range suggestions {
				fmt.Printf("%-16s %-10s %6.2f  %s\n", s.Tool, s.Category, s.Score, s.Reason)
			}
		},
	}

	cmd.Flags().StringVar(&targetType, "type", "network_host", "Target type (web_application, network_host, domain, binary_file)")
	cmd.Flags().StringVar(&riskLevel, "risk", "medium", "Assessed risk level (low, medium, high, critical)")
	cmd.Flags().Float64Var(&confidence, "confidence", 0.5, "Profile confidence 0..1")
	cmd.Flags().StringArrayVar(&vulns, "vuln", nil, "Known vulnerability class (repeatable)")
	cmd.Flags().StringVar(&objective, "objective", "", "Objective filter (recon, web, brute-force, binary)")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent persisted runs",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			runs, err := newClient().History(ctx, limit)
			if err != nil {
				fmt.Printf("Failed: %v\n", err)
				os.Exit(1)
			}
			if len(runs) == 0 {
				fmt.Println("No recorded runs")
				return
			}
			fmt.Printf("%-20s %-12s %-10s %9s  %s\n", "WHEN", "TOOL", "STATUS", "DURATION", "ERROR")
			for _, r := range runs {
				errKind := r.ErrorKind
				if errKind == "" {
					errKind = "-"
				}
				fmt.Printf("%-20s %-12s %-10s %8.1fs  %s\n",
					r.CreatedAt.Format("2006-01-02 15:04:05"),
					truncate(r.Tool, 12), r.Status, r.Duration.Seconds(), errKind)
			}
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum rows to show")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "login",
		Short: "Exchange an API key for a bearer token and save it",
		Run: func(cmd *cobra.Command, args []string) {
			reader := bufio.NewReader(os.Stdin)
			fmt.Print("Client ID: ")
			clientID, _ := reader.ReadString('\n')
			clientID = strings.TrimSpace(clientID)
			if clientID == "" {
				clientID = "hexstrike-cli"
			}

			fmt.Print("API key: ")
			byteKey, err := term.ReadPassword(int(syscall.Stdin))
			if err != nil {
				fmt.Println("\nError reading API key")
				return
			}
			fmt.Println()

			c := client.New(apiURL, strings.TrimSpace(string(byteKey)), "")
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			token, err := c.Token(ctx, clientID)
			if err != nil {
				fmt.Printf("Login failed: %v\n", err)
				return
			}

			if err := auth.SaveAuth(auth.AuthData{
				Server:   apiURL,
				Token:    token,
				ClientID: clientID,
			}); err != nil {
				fmt.Printf("Failed to save token: %v\n", err)
				return
			}
			fmt.Println("Login successful")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		Run: func(cmd *cobra.Command, args []string) {
			if err := auth.Logout(); err != nil {
				fmt.Printf("Logout failed: %v\n", err)
				return
			}
			fmt.Println("Logged out")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show saved credentials",
		Run: func(cmd *cobra.Command, args []string) {
			saved, err := auth.LoadAuth()
			if err != nil || saved == nil {
				fmt.Println("Not logged in")
				return
			}
			fmt.Printf("Server:     %s\n", saved.Server)
			fmt.Printf("Client ID:  %s\n", saved.ClientID)
		},
	})

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hexstrike %s\n", Version)
		},
	}
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
