package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Defaults applied when optional fields are omitted.
const (
	DefaultRange       = "Sheet1!A:Z"
	DefaultSchedule    = "30s"
	DefaultCredentials = "./credentials.json"
	DefaultStatePath   = "./last_row.txt"
	DefaultCurrency    = "VNĐ"
)

// Validate checks everything that must hold before the watch loop may start.
// Any error returned here is fatal: the process must not enter the loop.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	var errs []error

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if cfg.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram.chat_id is required"))
	}
	if strings.TrimSpace(cfg.Sheets.SpreadsheetID) == "" {
		errs = append(errs, errors.New("sheets.spreadsheet_id is required"))
	}

	creds := cfg.CredentialsFile()
	if fi, err := os.Stat(creds); err != nil {
		errs = append(errs, fmt.Errorf("sheets.credentials_file %q: %w", creds, err))
	} else if fi.IsDir() {
		errs = append(errs, fmt.Errorf("sheets.credentials_file %q is a directory", creds))
	}

	if _, err := DurationField("telegram.send_timeout", cfg.Telegram.SendTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := DurationField("sheets.fetch_timeout", cfg.Sheets.FetchTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Watch.HeaderRows < 0 {
		errs = append(errs, errors.New("watch.header_rows must be >= 0"))
	}

	if cfg.State != nil {
		if strings.TrimSpace(cfg.State.Path) == "" {
			errs = append(errs, errors.New("state.path is required when state is set"))
		} else {
			dir := filepath.Dir(cfg.State.Path)
			if fi, err := os.Stat(dir); err != nil {
				errs = append(errs, fmt.Errorf("state.path directory %q: %w", dir, err))
			} else if !fi.IsDir() {
				errs = append(errs, fmt.Errorf("state.path parent %q is not a directory", dir))
			}
		}
		if _, err := DurationField("state.busy_timeout", cfg.State.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// DurationField parses an optional duration field in Go syntax ("30s",
// "2m"). Empty means unset and yields zero. Every duration this config
// carries is a timeout or an interval, so negatives are rejected outright.
func DurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// DurationOr is DurationField with a fallback for unset fields.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := DurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// ---- Resolved accessors (config value or default) ----

func (c *Config) SheetRange() string {
	if s := strings.TrimSpace(c.Sheets.Range); s != "" {
		return s
	}
	return DefaultRange
}

func (c *Config) CredentialsFile() string {
	if s := strings.TrimSpace(c.Sheets.CredentialsFile); s != "" {
		return s
	}
	return DefaultCredentials
}

func (c *Config) Schedule() string {
	if s := strings.TrimSpace(c.Watch.Schedule); s != "" {
		return s
	}
	return DefaultSchedule
}

func (c *Config) Currency() string {
	if s := strings.TrimSpace(c.Watch.Currency); s != "" {
		return s
	}
	return DefaultCurrency
}

func (c *Config) SeedOnFirstRun() bool {
	if c.Watch.SeedOnFirstRun == nil {
		return true
	}
	return *c.Watch.SeedOnFirstRun
}

func (c *Config) StartupNotice() bool {
	if c.Telegram.StartupNotice == nil {
		return true
	}
	return *c.Telegram.StartupNotice
}

func (c *Config) StatePath() string {
	if c.State != nil && strings.TrimSpace(c.State.Path) != "" {
		return c.State.Path
	}
	return DefaultStatePath
}
