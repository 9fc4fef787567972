//go:build !sqlite

package storage

import (
	"errors"

	"remindbot/internal/timeconv"
	logx "remindbot/pkg/logx"
)

func openSQLite(cfg Config, conv *timeconv.Converter, log logx.Logger) (Store, error) {
	_, _, _ = cfg, conv, log
	return nil, errors.New("sqlite storage not built: build with -tags sqlite")
}
