// Package store holds the durable user status backends.
package store

import (
	"fmt"

	"github.com/dkeye/Relay/internal/core"
)

// Open returns the backend named by driver, rooted at path.
func Open(driver, path string) (core.UserStore, error) {
	switch driver {
	case "badger":
		b, err := OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "sqlite":
		g, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
