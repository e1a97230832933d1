package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	accountlink "github.com/goliatone/go-accountlink"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	rootPath = "data/sql/migrations"
)

// Source is the migration directory of one dialect. Postgres files live at
// the root, sqlite overrides under sqlite/.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
	Files   []string
}

// Sources lists the postgres and sqlite migration sets of root, or of the
// embedded tree when root is nil. Each set must hold at least one
// *.up.sql file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = accountlink.GetMigrationsFS()
	}
	base, basePath, err := migrationsRoot(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite directory: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: joinPath(basePath, "sqlite"), FS: sqliteFS},
	}
	for i := range sources {
		files, err := fs.Glob(sources[i].FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: list %s: %w", sources[i].Path, err)
		}
		if len(files) == 0 {
			return nil, fmt.Errorf("migrations: %s has no *.up.sql files", sources[i].Path)
		}
		sources[i].Files = files
	}
	return sources, nil
}

// SourceFor returns the embedded migration set of dialect.
func SourceFor(dialect string) (Source, error) {
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	sources, err := Sources(nil)
	if err != nil {
		return Source{}, err
	}
	for _, source := range sources {
		if source.Dialect == dialect {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: no migrations for dialect %q", dialect)
}

// DialectForDriver maps a database/sql driver name to a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Apply registers the migration set of dialect on client and runs it.
func Apply(ctx context.Context, client *persistence.Client, dialect string) (Source, error) {
	if client == nil {
		return Source{}, fmt.Errorf("migrations: persistence client is required")
	}
	source, err := SourceFor(dialect)
	if err != nil {
		return Source{}, err
	}
	client.RegisterSQLMigrations(source.FS)
	if err := client.Migrate(ctx); err != nil {
		return source, fmt.Errorf("migrations: apply %s: %w", source.Dialect, err)
	}
	return source, nil
}

func migrationsRoot(root fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(root, rootPath); err == nil && info.IsDir() {
		sub, err := fs.Sub(root, rootPath)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: open %s: %w", rootPath, err)
		}
		return sub, rootPath, nil
	}
	if files, err := fs.Glob(root, "*.sql"); err == nil && len(files) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", rootPath)
}

func joinPath(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + suffix
}
