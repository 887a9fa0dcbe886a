package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

type section int

const (
	none section = iota
	rm
	qu
	rl
	sv
	db
	mo
)

var sectionNames = map[string]section{
	"rabbitmq": rm,
	"queues":   qu,
	"relay":    rl,
	"services": sv,
	"database": db,
	"monitor":  mo,
}

// parseYAML parses the specific two-level mapping used by config.yaml
func parseYAML(r io.Reader, cfg *Config) error {
	scanner := bufio.NewScanner(r)
	var cur section

	lineNo := 0
	seenTop := map[section]bool{}

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()

		// strip comments
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			raw = raw[:i]
		}

		line := strings.TrimRight(raw, " \t\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// top-level section? (no leading spaces)
		if line[0] != ' ' && line[0] != '\t' {
			name, ok := strings.CutSuffix(strings.TrimSpace(line), ":")
			sec, known := sectionNames[name]
			if !ok || !known {
				return fmt.Errorf("line %d: unknown top-level key %q", lineNo, name)
			}
			if seenTop[sec] {
				return fmt.Errorf("line %d: duplicate '%s' section", lineNo, name)
			}
			seenTop[sec] = true
			cur = sec
			switch sec {
			case db:
				cfg.Database.Enabled = true
			case mo:
				cfg.Monitor.Enabled = true
			}
			continue
		}

		// expect indented "key: value"
		if cur == none {
			return fmt.Errorf("line %d: key without a section", lineNo)
		}
		trim := strings.TrimSpace(line)
		colon := strings.IndexByte(trim, ':')
		if colon <= 0 {
			return fmt.Errorf("line %d: expected 'key: value'", lineNo)
		}
		key := strings.TrimSpace(trim[:colon])
		val := resolveScalar(trim[colon+1:])

		var err error
		switch cur {
		case rm:
			err = setRabbitMQ(cfg, key, val)
		case qu:
			err = setQueue(cfg, key, val)
		case rl:
			err = setRelay(cfg, key, val)
		case sv:
			err = setServices(cfg, key, val)
		case db:
			err = setDatabase(cfg, key, val)
		case mo:
			err = setMonitor(cfg, key, val)
		}
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}

	return scanner.Err()
}

func setRabbitMQ(cfg *Config, key, val string) (err error) {
	switch key {
	case "host":
		cfg.RabbitMQ.Host = val
	case "port":
		cfg.RabbitMQ.Port, err = parseInt("rabbitmq.port", val)
	case "user":
		cfg.RabbitMQ.User = val
	case "password":
		cfg.RabbitMQ.Password = val
	default:
		return fmt.Errorf("unknown key in rabbitmq: %q", key)
	}
	return err
}

func setQueue(cfg *Config, key, val string) error {
	switch key {
	case "backend_request":
		cfg.Queues.BackendRequest = val
	case "manager_request":
		cfg.Queues.ManagerRequest = val
	case "manager_response":
		cfg.Queues.ManagerResponse = val
	case "backend_response":
		cfg.Queues.BackendResponse = val
	default:
		return fmt.Errorf("unknown key in queues: %q", key)
	}
	return nil
}

func setRelay(cfg *Config, key, val string) (err error) {
	switch key {
	case "readiness_delay":
		cfg.Relay.ReadinessDelay, err = parseDuration("relay.readiness_delay", val)
	case "reply_timeout":
		cfg.Relay.ReplyTimeout, err = parseDuration("relay.reply_timeout", val)
	case "poll_interval":
		cfg.Relay.PollInterval, err = parseDuration("relay.poll_interval", val)
	case "workers":
		cfg.Relay.Workers, err = parseInt("relay.workers", val)
	case "reply_on_timeout":
		cfg.Relay.ReplyOnTimeout, err = parseBool("relay.reply_on_timeout", val)
	default:
		return fmt.Errorf("unknown key in relay: %q", key)
	}
	return err
}

func setServices(cfg *Config, key, val string) (err error) {
	switch key {
	case "pump_control":
		cfg.Services.PumpControlPort, err = parseInt("services.pump_control", val)
	default:
		return fmt.Errorf("unknown key in services: %q", key)
	}
	return err
}

func setDatabase(cfg *Config, key, val string) (err error) {
	switch key {
	case "host":
		cfg.Database.Host = val
	case "port":
		cfg.Database.Port, err = parseInt("database.port", val)
	case "user":
		cfg.Database.User = val
	case "password":
		cfg.Database.Password = val
	case "database":
		cfg.Database.Name = val
	default:
		return fmt.Errorf("unknown key in database: %q", key)
	}
	return err
}

func setMonitor(cfg *Config, key, val string) (err error) {
	switch key {
	case "jwt_secret":
		cfg.Monitor.JWTSecret = val
	case "token_ttl":
		cfg.Monitor.TokenTTL, err = parseDuration("monitor.token_ttl", val)
	case "recent":
		cfg.Monitor.Recent, err = parseInt("monitor.recent", val)
	default:
		return fmt.Errorf("unknown key in monitor: %q", key)
	}
	return err
}

func parseInt(field, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be int: %v", field, err)
	}
	return n, nil
}

// parseDuration accepts Go durations ("1500ms", "5s") and bare numbers meaning seconds.
func parseDuration(field, val string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %v", field, err)
	}
	return d, nil
}

func parseBool(field, val string) (bool, error) {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %v", field, err)
	}
	return b, nil
}

// resolveScalar trims whitespace and removes surrounding quotes from YAML-like scalars.
// For example:
//
//	"localhost"  -> localhost
//	'guest'      -> guest
//	localhost    -> localhost
func resolveScalar(s string) string {
	s = strings.TrimSpace(s)

	// if value is quoted with "..." or '...', remove quotes safely
	n := len(s)
	if n >= 2 {
		if (s[0] == '"' && s[n-1] == '"') || (s[0] == '\'' && s[n-1] == '\'') {
			if unq, err := strconv.Unquote(s); err == nil {
				return unq
			}
			// fallback if strconv.Unquote fails (e.g., single quotes)
			return s[1 : n-1]
		}
	}

	return s
}
