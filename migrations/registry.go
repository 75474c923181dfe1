package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	integrations "github.com/memorymesh/integrations"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// SourceLabel identifies this module's migrations to the host's migrator so
// they sort and log separately from the host's own DDL.
const SourceLabel = "memorymesh-integrations"

const migrationsBase = "data/sql/migrations"

// FilesystemSpec is one dialect's embedded migration set.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// RegisterFunc hands one dialect's filesystem to the host's migrator.
type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

// Filesystems returns the embedded postgres and sqlite migration sets,
// verifying each actually contains up-migrations.
func Filesystems() ([]FilesystemSpec, error) {
	root := integrations.GetMigrationsFS()
	base, err := fs.Sub(root, migrationsBase)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", migrationsBase, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite filesystem: %w", err)
	}

	filesystems := []FilesystemSpec{
		{Dialect: DialectPostgres, Path: migrationsBase, FS: base},
		{Dialect: DialectSQLite, Path: migrationsBase + "/sqlite", FS: sqliteFS},
	}
	for _, fsys := range filesystems {
		matches, globErr := fs.Glob(fsys.FS, "*.up.sql")
		if globErr != nil {
			return nil, fmt.Errorf("migrations: glob %s %s: %w", fsys.Dialect, fsys.Path, globErr)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("migrations: %s filesystem %q has no *.up.sql files", fsys.Dialect, fsys.Path)
		}
	}
	return filesystems, nil
}

// Register feeds the embedded migration filesystems to registerFn. With no
// dialects given every supported dialect is registered; otherwise only the
// named ones are, so a sqlite test host does not receive postgres DDL.
func Register(ctx context.Context, registerFn RegisterFunc, dialects ...string) ([]FilesystemSpec, error) {
	if registerFn == nil {
		return nil, fmt.Errorf("migrations: register function is required")
	}
	wanted := make(map[string]bool, len(dialects))
	for _, dialect := range dialects {
		trimmed := strings.TrimSpace(strings.ToLower(dialect))
		if trimmed != "" {
			wanted[trimmed] = true
		}
	}

	filesystems, err := Filesystems()
	if err != nil {
		return nil, err
	}

	registered := make([]FilesystemSpec, 0, len(filesystems))
	for _, fsys := range filesystems {
		if len(wanted) > 0 && !wanted[fsys.Dialect] {
			continue
		}
		if err := registerFn(ctx, fsys.Dialect, SourceLabel, fsys.FS); err != nil {
			return nil, fmt.Errorf("migrations: register %s (%s): %w", fsys.Dialect, fsys.Path, err)
		}
		registered = append(registered, fsys)
	}
	if len(registered) == 0 {
		return nil, fmt.Errorf("migrations: no migration filesystem matches dialects %v", dialects)
	}
	return registered, nil
}
