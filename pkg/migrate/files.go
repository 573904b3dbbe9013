package migrate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/multierr"
)

const versionLayout = "20060102150405"

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)

	// now is swapped in tests to pin generated versions.
	now = time.Now
)

var stubTemplate = template.Must(template.New("stub").Parse(`-- +goose Up
-- +goose StatementBegin
-- {{.Slug}}
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- undo {{.Slug}}
-- +goose StatementEnd
`))

// slugify lowers name and collapses anything outside [a-z0-9] into single underscores.
func slugify(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "_")
	return strings.Trim(s, "_")
}

// CreateSQLMigration writes an empty goose migration named <version>_<slug>.sql into dir
// and returns its path. Existing files are never overwritten.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("dir and name are required")
	}
	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}

	var body bytes.Buffer
	if err := stubTemplate.Execute(&body, struct{ Slug string }{slug}); err != nil {
		return "", fmt.Errorf("render migration stub: %w", err)
	}

	path := filepath.Join(dir, now().UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}

// ValidateDir checks every .sql file in dir for a well-formed name, a unique version
// and goose Up/Down sections in that order. All problems are reported together.
func ValidateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var errs error
	versions := make(map[string]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(name)
		if match == nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: name must look like YYYYMMDDHHMMSS_slug.sql", name))
			continue
		}
		if _, err := time.Parse(versionLayout, match[1]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: version is not a timestamp", name))
		}
		if other, dup := versions[match[1]]; dup {
			errs = multierr.Append(errs, fmt.Errorf("%s: version already used by %s", name, other))
		}
		versions[match[1]] = name
		errs = multierr.Append(errs, checkSections(filepath.Join(dir, name)))
	}
	if len(versions) == 0 && errs == nil {
		return fmt.Errorf("no migrations in %s", dir)
	}
	return errs
}

func checkSections(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	upLine, downLine, line := 0, 0, 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line++
		switch strings.TrimSpace(scanner.Text()) {
		case "-- +goose Up":
			if upLine == 0 {
				upLine = line
			}
		case "-- +goose Down":
			if downLine == 0 {
				downLine = line
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	switch {
	case upLine == 0:
		return fmt.Errorf("%s: missing goose Up section", filepath.Base(path))
	case downLine == 0:
		return fmt.Errorf("%s: missing goose Down section", filepath.Base(path))
	case downLine < upLine:
		return fmt.Errorf("%s: Down section precedes Up", filepath.Base(path))
	}
	return nil
}
