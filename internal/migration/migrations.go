package migration

import (
	"fmt"
	"os"
)

// RegisterDefaultMigrations registers the built-in migration steps on the
// given migrator.
func RegisterDefaultMigrations(m *Migrator) {
	m.Register(Migration{
		Version:     1,
		Description: "Restrict data and store directories to the owner",
		Up: func(l Layout) error {
			for _, dir := range []string{l.DataDir, l.StoreDir} {
				if dir == "" {
					continue
				}
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
				if err := os.Chmod(dir, 0o700); err != nil {
					return fmt.Errorf("chmod %s: %w", dir, err)
				}
			}
			return nil
		},
	})
}
