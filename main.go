package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	managersim "pump-control/cmd/manager_sim"
	pumpcontrol "pump-control/cmd/pump_control"
	startpump "pump-control/cmd/start_pump"
	"pump-control/internal/cli"
	"pump-control/internal/general/config"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	// quick path for global help
	if len(os.Args) == 2 && (os.Args[1] == "--help" || os.Args[1] == "-h") {
		cli.PrintUsage(os.Stdout)
		os.Exit(0)
	}

	// parse mode and collect the remaining args for that mode
	mode, modeArgs, err := cli.ParseMode(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cli.PrintUsage(os.Stderr)
		os.Exit(2)
	}

	// context cancelled on SIGINT/SIGTERM for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch mode {

	case cli.ModePumpControl:
		fs := flag.NewFlagSet(cli.ModePumpControl, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file")
		workers := fs.Int("workers", 0, "Inbound messages handled concurrently (0 keeps relay.workers from config)")
		maxConc := fs.Int("max-concurrent", 20, "Maximum number of concurrent HTTP requests to process")
		cli.AttachUsage(fs, cli.ModePumpControl)

		parseOrExit(fs, modeArgs)
		if *workers < 0 {
			fmt.Fprintln(os.Stderr, "Error: --workers must be >= 0")
			fs.Usage()
			os.Exit(2)
		}
		if *maxConc < 1 {
			fmt.Fprintln(os.Stderr, "Error: --max-concurrent must be >= 1")
			fs.Usage()
			os.Exit(2)
		}
		if err := pumpcontrol.Run(ctx, *configPath, *workers, *maxConc); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeManagerSim:
		fs := flag.NewFlagSet(cli.ModeManagerSim, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file")
		delay := fs.Duration("delay", 0, "Delay before every reply")
		errorMessage := fs.String("error-message", "", "ErrorMessage copied into every reply (empty means success)")
		cli.AttachUsage(fs, cli.ModeManagerSim)

		parseOrExit(fs, modeArgs)
		if *delay < 0 {
			fmt.Fprintln(os.Stderr, "Error: --delay must be >= 0")
			fs.Usage()
			os.Exit(2)
		}
		if err := managersim.Run(ctx, *configPath, *delay, *errorMessage); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeStartPump:
		fs := flag.NewFlagSet(cli.ModeStartPump, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file")
		pumpID := fs.Int64("pump-id", -1, "Pump to start (required)")
		bypass := fs.Bool("bypass", false, "Ask the relay to answer without contacting the manager")
		timeout := fs.Duration("timeout", 0, "How long to wait for the response (0 = relay reply timeout + 5s)")
		cli.AttachUsage(fs, cli.ModeStartPump)

		parseOrExit(fs, modeArgs)
		if *pumpID < 0 {
			fmt.Fprintln(os.Stderr, "Error: --pump-id is required and must be >= 0")
			fs.Usage()
			os.Exit(2)
		}
		if err := startpump.Run(ctx, *configPath, *pumpID, *bypass, *timeout, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}

	case cli.ModeToken:
		fs := flag.NewFlagSet(cli.ModeToken, flag.ContinueOnError)
		configPath := fs.String("config", defaultConfigPath, "Path to the YAML configuration file (monitor section)")
		subject := fs.String("subject", "", "Who the token is for (required)")
		role := fs.String("role", "OPERATOR", "Token role: OPERATOR | VIEWER")
		cli.AttachUsage(fs, cli.ModeToken)

		parseOrExit(fs, modeArgs)
		if *subject == "" {
			fmt.Fprintln(os.Stderr, "Error: --subject is required")
			fs.Usage()
			os.Exit(2)
		}
		cfg, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if !cfg.Monitor.Enabled {
			fmt.Fprintln(os.Stderr, "Error: the monitor section is not configured")
			os.Exit(1)
		}

		token, claims, err := cli.GenerateMonitorToken(cfg.Monitor.JWTSecret, cfg.Monitor.TokenTTL, *subject, *role)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Println("TOKEN:")
		fmt.Println(token)
		fmt.Println("\nCLAIMS:")
		fmt.Printf("  sub:  %s\n", claims.Subject)
		fmt.Printf("  role: %s\n", claims.Role)
		fmt.Printf("  iat:  %s\n", claims.IssuedAt.Time.UTC().Format(time.RFC3339))
		fmt.Printf("  exp:  %s\n", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))

	default:
		// should not happen because ParseMode validates known modes
		fmt.Fprintln(os.Stderr, "Error: unknown mode")
		os.Exit(2)
	}

	// tiny delay to let deferred logs flush on very fast exits
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Millisecond):
	}
}

func parseOrExit(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
