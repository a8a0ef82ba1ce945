package migration

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/rediwo/redi-migrate/action"
	"github.com/rediwo/redi-migrate/types"
)

const (
	fileExt    = ".json"
	sidecarExt = ".txt"
)

// File is the on-disk form of a migration.
type File struct {
	Name         string        `json:"name"`
	Dependencies []string      `json:"dependencies"`
	Policy       types.Policy  `json:"policy"`
	Checksum     string        `json:"checksum"`
	Actions      []action.Spec `json:"actions"`
}

// FileManager handles migration files on disk
type FileManager struct {
	baseDir string
}

// NewFileManager creates a new file manager
func NewFileManager(baseDir string) *FileManager {
	return &FileManager{
		baseDir: baseDir,
	}
}

// Dir returns the migrations directory.
func (f *FileManager) Dir() string { return f.baseDir }

// EnsureDirectory ensures the migrations directory exists
func (f *FileManager) EnsureDirectory() error {
	return os.MkdirAll(f.baseDir, 0755)
}

// WriteMigration writes <name>.json and the call form sidecar <name>.txt.
func (f *FileManager) WriteMigration(m *Migration) error {
	if err := f.EnsureDirectory(); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	checksum, err := m.Checksum()
	if err != nil {
		return err
	}
	file := File{
		Name:         m.Name,
		Dependencies: m.Dependencies,
		Policy:       m.Policy,
		Checksum:     checksum,
		Actions:      m.Specs(),
	}
	if file.Dependencies == nil {
		file.Dependencies = []string{}
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal migration %s: %w", m.Name, err)
	}
	if err := os.WriteFile(f.path(m.Name, fileExt), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write migration %s: %w", m.Name, err)
	}

	var sidecar strings.Builder
	fmt.Fprintf(&sidecar, "# %s\n# dependencies: %s\n# policy: %s\n", m.Name, strings.Join(m.Dependencies, ", "), m.Policy)
	sidecar.WriteString(action.FormatChain(m.Actions))
	if err := os.WriteFile(f.path(m.Name, sidecarExt), []byte(sidecar.String()), 0644); err != nil {
		return fmt.Errorf("failed to write migration %s: %w", m.Name, err)
	}
	return nil
}

func (f *FileManager) path(name, ext string) string {
	return filepath.Join(f.baseDir, name+ext)
}

// ReadMigration loads and verifies one migration.
func (f *FileManager) ReadMigration(name string) (*Migration, error) {
	data, err := os.ReadFile(f.path(name, fileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
	}
	return DecodeMigration(data)
}

// DecodeMigration parses a migration file and checks its checksum.
func DecodeMigration(data []byte) (*Migration, error) {
	var file File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&file); err != nil {
		return nil, types.SchemaErrorf("invalid migration file: %v", err)
	}
	if file.Name == "" {
		return nil, types.SchemaErrorf("migration file has no name")
	}
	policy, err := types.ParsePolicy(string(file.Policy))
	if err != nil {
		return nil, types.SchemaErrorf("migration %s: %v", file.Name, err)
	}

	m := &Migration{Name: file.Name, Dependencies: file.Dependencies, Policy: policy}
	for i, spec := range file.Actions {
		a, err := action.Decode(spec)
		if err != nil {
			return nil, fmt.Errorf("migration %s, action %d: %w", file.Name, i+1, err)
		}
		m.Actions = append(m.Actions, a)
	}

	checksum, err := m.Checksum()
	if err != nil {
		return nil, err
	}
	if file.Checksum != "" && file.Checksum != checksum {
		return nil, types.GraphErrorf("migration %s was modified after it was written (checksum %s, expected %s)",
			file.Name, checksum, file.Checksum)
	}
	return m, nil
}

// ListMigrations returns all migrations sorted by name
func (f *FileManager) ListMigrations() ([]*Migration, error) {
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Migration{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), fileExt))
	}
	sort.Strings(names)

	migrations := make([]*Migration, 0, len(names))
	for _, name := range names {
		m, err := f.ReadMigration(name)
		if err != nil {
			return nil, err
		}
		if m.Name != name {
			return nil, types.GraphErrorf("file %s%s declares migration %s", name, fileExt, m.Name)
		}
		migrations = append(migrations, m)
	}
	return migrations, nil
}

// LoadGraph reads every migration into a graph.
func (f *FileManager) LoadGraph() (*Graph, error) {
	migrations, err := f.ListMigrations()
	if err != nil {
		return nil, err
	}
	g := NewGraph()
	if err := g.AddAll(migrations); err != nil {
		return nil, err
	}
	return g, nil
}

var numberPrefix = regexp.MustCompile(`^(\d+)_`)

// NextName returns the name of the next generated migration:
// NNNN_<label>_YYYYMMDDHHMM, numbered after the highest existing prefix.
func (f *FileManager) NextName(label string, now time.Time) (string, error) {
	migrations, err := f.ListMigrations()
	if err != nil {
		return "", err
	}
	next := 1
	for _, m := range migrations {
		if match := numberPrefix.FindStringSubmatch(m.Name); match != nil {
			if n, err := strconv.Atoi(match[1]); err == nil && n >= next {
				next = n + 1
			}
		}
	}
	if label = sanitizeName(label); label == "" {
		label = "auto"
	}
	return fmt.Sprintf("%04d_%s_%s", next, label, now.UTC().Format("200601021504")), nil
}

// sanitizeName removes special characters from migration name
func sanitizeName(name string) string {
	// Replace spaces and special characters with underscores
	replacer := strings.NewReplacer(
		" ", "_",
		"-", "_",
		".", "_",
		"/", "_",
		"\\", "_",
	)

	sanitized := replacer.Replace(name)

	// Remove any remaining non-alphanumeric characters except underscores
	var result strings.Builder
	for _, r := range sanitized {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			result.WriteRune(r)
		}
	}

	return result.String()
}
