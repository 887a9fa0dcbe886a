package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

const (
	ModePumpControl = "pump-control"
	ModeManagerSim  = "manager-sim"
	ModeStartPump   = "start-pump"
	ModeToken       = "monitor-token"
)

// isKnownMode checks if the provided mode name is known.
func isKnownMode(s string) (string, bool) {
	switch s {
	case ModePumpControl, "pump", "relay", "pc":
		return ModePumpControl, true
	case ModeManagerSim, "manager", "sim":
		return ModeManagerSim, true
	case ModeStartPump, "start":
		return ModeStartPump, true
	case ModeToken, "token":
		return ModeToken, true
	default:
		return "", false
	}
}

// ParseMode supports:
//
//	--mode=<value>
//	<value> (subcommand shorthand), e.g., `start-pump --pump-id=7`
func ParseMode(args []string) (string, []string, error) {
	var mode string
	var out []string

	for i := range args {
		arg := args[i]
		if after, ok := strings.CutPrefix(arg, "--mode="); ok {
			mode = after
			continue
		}

		if mode == "" {
			if m, ok := isKnownMode(arg); ok {
				mode = m
				continue
			}
		}
		out = append(out, arg)
	}

	if mode == "" {
		return "", out, errors.New("no mode specified: use --mode=<mode>")
	}

	m, ok := isKnownMode(mode)
	if !ok {
		return "", out, fmt.Errorf("unknown mode %q", mode)
	}

	return m, out, nil
}

// PrintUsage prints the usage information with examples.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, "\033[36m") // cyan

	fmt.Fprintln(w, `Usage:
  ./pump-control --mode=<mode> [flags]

Modes:
  pump-control      Relay between the backend and the microcontroller manager (+ HTTP health)
  manager-sim       Simulated microcontroller manager answering forwarded requests
  start-pump        Backend client: send one start-pump request and print the response
  monitor-token     Issue a token for the exchange monitor (/ws/exchanges, /exchanges/recent)

Examples:
  ./pump-control --mode=pump-control --config=config/config.yaml --workers=4
  ./pump-control --mode=manager-sim --delay=500ms
  ./pump-control start-pump --pump-id=7 --bypass
  ./pump-control monitor-token --subject=oncall --role=OPERATOR`)

	fmt.Fprint(w, "\033[0m") // reset
}

// AttachUsage wires a concise per-mode usage to a FlagSet.
func AttachUsage(fs *flag.FlagSet, mode string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ./pump-control --mode=%s [flags]\n", mode)
		fs.PrintDefaults()
	}
}
