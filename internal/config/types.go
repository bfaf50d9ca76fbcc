package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Sheets   SheetsConfig   `json:"sheets"`
	Watch    WatchConfig    `json:"watch"`
	Logging  LoggingConfig  `json:"logging"`
	State    *StateConfig   `json:"state,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// ThreadID targets a forum topic inside the chat. 0 means the main thread.
	ThreadID int `json:"thread_id,omitempty"`
	// SendTimeout is a Go duration string (e.g. "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
	// RatePerSec caps outbound messages per second when a batch contains
	// multiple rows. Defaults to 1.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// StartupNotice sends a "watcher started" message to the chat on boot.
	// Defaults to true; pointer so an explicit false survives decoding.
	StartupNotice *bool `json:"startup_notice,omitempty"`
}

type SheetsConfig struct {
	SpreadsheetID string `json:"spreadsheet_id"`
	// Range is an A1-notation range, e.g. "Sheet1!A:Z".
	Range string `json:"range,omitempty"`
	// CredentialsFile points at a Google service-account key (JSON).
	CredentialsFile string `json:"credentials_file,omitempty"`
	// FetchTimeout is a Go duration string (e.g. "30s").
	FetchTimeout string `json:"fetch_timeout,omitempty"`
}

// WatchConfig controls the poll loop.
//
// Schedule accepts either a Go duration ("30s", "2m"), HH:MM ("00:30" means
// every 30 minutes), or a cron expression ("*/5 * * * *", "@hourly").
type WatchConfig struct {
	Schedule string `json:"schedule"`
	// HeaderRows are leading rows (column titles) that never produce
	// notifications. They still count toward the watermark so row numbers
	// match what the spreadsheet UI shows.
	HeaderRows int `json:"header_rows,omitempty"`
	// SeedOnFirstRun initializes an absent watermark with the current row
	// count instead of 0, so a fresh deploy does not replay the whole sheet.
	// Defaults to true.
	SeedOnFirstRun *bool `json:"seed_on_first_run,omitempty"`
	// Currency is the suffix appended to formatted amounts. Defaults to "VNĐ".
	Currency string `json:"currency,omitempty"`
}

// StateConfig controls where the watermark is persisted.
//
// Driver values:
//   - "file": plain integer in a text file (default)
//   - "sqlite": SQLite database file (requires the sqlite build tag)
//
// Example:
//
//	"state": { "driver": "file", "path": "./last_row.txt" }
type StateConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// UnmarshalJSON disallows unknown fields so typos in the state block
// (e.g. "drivr") are caught at load time rather than silently ignored.
func (c *StateConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Driver      string `json:"driver,omitempty"`
		Path        string `json:"path"`
		BusyTimeout string `json:"busy_timeout,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*c = StateConfig{Driver: t.Driver, Path: t.Path, BusyTimeout: t.BusyTimeout}
	return nil
}
