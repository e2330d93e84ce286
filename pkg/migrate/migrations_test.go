package migrate_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storyline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storyline-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestWordsMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "create_words")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS words",
		"CONSTRAINT words_position_key UNIQUE (position) DEFERRABLE INITIALLY IMMEDIATE",
		"CHECK (flag_count >= 0 AND flag_count <= 20)",
		"CREATE TABLE IF NOT EXISTS position_sequences",
		"INSERT INTO position_sequences (name, value) VALUES ('words', 0)",
		"DROP TABLE IF EXISTS words",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestWordFlagsMigrationCascades(t *testing.T) {
	content := readMigration(t, "create_word_flags")

	checks := []string{
		"UNIQUE (word_id, fingerprint)",
		"FOREIGN KEY (word_id) REFERENCES words(id) ON DELETE CASCADE",
		"DROP TABLE IF EXISTS word_flags",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestCheckoutsMigrationIdempotencyAnchor(t *testing.T) {
	content := readMigration(t, "create_checkouts")

	checks := []string{
		"CONSTRAINT checkouts_payment_reference_key UNIQUE (payment_reference)",
		"refund_amount numeric(10,2) NOT NULL DEFAULT 0",
		"cart_actions jsonb NOT NULL",
		"results jsonb NULL",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestEmbeddedMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateFS(migrate.Migrations()); err != nil {
		t.Fatalf("ValidateFS: %v", err)
	}
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestValidateFSReportsEveryProblem(t *testing.T) {
	fsys := fstest.MapFS{
		"001_words.sql":                 {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260101000000_a.sql":          {Data: []byte("-- +goose Up\n")},
		"20260101000000_b.sql":          {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"20260102000000_unbalanced.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")},
		"20260103000000_ok.sql":         {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		"README.md":                     {Data: []byte("ignored")},
	}
	err := migrate.ValidateFS(fsys)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	problems := multierr.Errors(err)
	if len(problems) != 4 {
		t.Fatalf("expected 4 problems, got %d: %v", len(problems), err)
	}
	for _, want := range []string{"001_words.sql", "missing -- +goose Down", "already used by", "unbalanced"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidateFSRejectsEmptySet(t *testing.T) {
	if err := migrate.ValidateFS(fstest.MapFS{}); err == nil {
		t.Fatal("expected empty migration set to fail")
	}
}

func TestCreateSQLMigrationWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Word Index!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_word_index.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
	if _, err := migrate.CreateSQLMigration(dir, "!!!"); err == nil {
		t.Fatal("expected unusable name to fail")
	}
}

func TestApplySQLiteSchemaIsIdempotent(t *testing.T) {
	sqlDB, err := dbtest.New(t).DB().DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}

	ctx := context.Background()
	if err := migrate.ApplySQLiteSchema(ctx, sqlDB); err != nil {
		t.Fatalf("reapply schema: %v", err)
	}
	var value int
	if err := sqlDB.QueryRowContext(ctx, "SELECT value FROM position_sequences WHERE name = 'words'").Scan(&value); err != nil {
		t.Fatalf("read sequence: %v", err)
	}
	if value != 0 {
		t.Fatalf("expected sequence to start at 0, got %d", value)
	}
}
