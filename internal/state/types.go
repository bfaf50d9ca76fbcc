package state

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("state driver disabled")

// Config selects and configures the watermark store.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence port for the watermark.
//
// Load returns (0, false, nil) when no watermark has ever been saved, so the
// caller can distinguish "first run" from "row zero".
type Store interface {
	Load(ctx context.Context) (watermark int64, ok bool, err error)
	Save(ctx context.Context, watermark int64) error
	Close() error
}

// DeliveryRecord is one successfully sent notification.
// Kept compact and schema-stable.
type DeliveryRecord struct {
	At       time.Time
	RowIndex int64
	ChatID   int64
	TextLen  int
}

// Auditor is an optional Store capability: drivers that can keep a delivery
// trail implement it (currently sqlite). Callers type-assert and skip
// auditing when the store doesn't support it.
type Auditor interface {
	AppendDelivery(ctx context.Context, rec DeliveryRecord) error
}
