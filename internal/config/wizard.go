package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run asks for the settings most installs change and returns a config
// built on the defaults. Blank answers keep the default.
func (w *Wizard) Run() (*Config, error) {
	w.println("=== skilltools configuration ===")
	w.println("")

	cfg := DefaultConfig()
	validator := NewValidator()

	// Gateway
	w.println("Gateway:")
	for {
		answer, err := w.ask(fmt.Sprintf("Port [%d]: ", cfg.Gateway.Port))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			break
		}
		port, err := strconv.Atoi(answer)
		if err == nil {
			err = validator.ValidatePort(port)
		}
		if err != nil {
			w.printf("Error: invalid port %q\n", answer)
			continue
		}
		cfg.Gateway.Port = port
		break
	}

	for {
		secret, err := w.ask("Shared secret (press Enter to disable auth): ")
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateSharedSecret(secret); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Gateway.SharedSecret = secret
		break
	}
	w.println("")

	// Catalog
	w.println("Custom tools:")
	dir, err := w.ask("Custom tool directory [<data dir>/tools]: ")
	if err != nil {
		return nil, err
	}
	cfg.Catalog.CustomDir = dir

	watch, err := w.ask("Reload custom tools on change? (y/n) [y]: ")
	if err != nil {
		return nil, err
	}
	cfg.Catalog.Watch = watch == "" || strings.EqualFold(watch, "y")
	w.println("")

	// History
	w.println("History:")
	for {
		answer, err := w.ask(fmt.Sprintf("Retention in days, 0 disables history [%d]: ", cfg.History.RetentionDays))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			break
		}
		days, err := strconv.Atoi(answer)
		if err != nil || days < 0 {
			w.printf("Error: invalid number of days %q\n", answer)
			continue
		}
		if days == 0 {
			cfg.History.Enabled = false
		} else {
			cfg.History.RetentionDays = days
		}
		break
	}
	w.println("")

	// Log Level
	w.println("Logging:")
	level, err := w.ask("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			w.printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	w.println("")
	w.println("Configuration complete!")

	return cfg, nil
}

func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (w *Wizard) println(s string) {
	fmt.Fprintln(w.out, s)
}

func (w *Wizard) printf(format string, args ...any) {
	fmt.Fprintf(w.out, format, args...)
}
