//go:build !sqlite
// +build !sqlite

package state

import (
	"errors"

	logx "sheetwatch/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite state driver not compiled in (build with -tags sqlite)")
}
