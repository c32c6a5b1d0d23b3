package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/psyker-lang/psyker/internal/config"
	"github.com/psyker-lang/psyker/internal/printer"
	"github.com/psyker-lang/psyker/pkg/lang"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the psyker project structure in the working
// directory. If force is true, it removes an existing psyker.yml and
// defs/ directory first.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := os.MkdirAll("defs", 0o755); err != nil {
		return fmt.Errorf("failed to create directory defs: %w", err)
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles(files)
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	if _, err := os.Stat("psyker.yml"); err == nil {
		printer.Info("Removing existing psyker.yml...")
		if err := os.Remove("psyker.yml"); err != nil {
			return fmt.Errorf("failed to remove psyker.yml: %w", err)
		}
	}

	if info, err := os.Stat("defs"); err == nil && info.IsDir() {
		printer.Info("Removing existing defs/ directory...")
		if err := os.RemoveAll("defs"); err != nil {
			return fmt.Errorf("failed to remove defs/ directory: %w", err)
		}
	}

	return nil
}

// getTemplateFiles reads and processes all template files
func getTemplateFiles() ([]FileInfo, error) {
	targets := []struct {
		template string
		path     string
	}{
		{"psyker.yml.tmpl", "psyker.yml"},
		{"hello.psy.tmpl", filepath.Join("defs", "hello.psy")},
		{"builder.psyw.tmpl", filepath.Join("defs", "builder.psyw")},
		{"crew.psya.tmpl", filepath.Join("defs", "crew.psya")},
	}

	files := make([]FileInfo, 0, len(targets))
	for _, target := range targets {
		content, err := templatesFS.ReadFile("templates/" + target.template)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", target.template, err)
		}
		files = append(files, FileInfo{
			Path:        target.path,
			Content:     content,
			Permissions: 0o644,
		})
	}

	return files, nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return nil
}

// validateCreatedFiles re-reads what was written: the config must load
// and every definition file must parse in its dialect.
func validateCreatedFiles(files []FileInfo) error {
	for _, file := range files {
		if strings.HasSuffix(file.Path, ".yml") {
			if _, err := config.Load(file.Path); err != nil {
				return fmt.Errorf("created %s is not valid: %w", file.Path, err)
			}
			continue
		}
		content, err := os.ReadFile(file.Path)
		if err != nil {
			return fmt.Errorf("failed to read created %s: %w", file.Path, err)
		}
		if _, err := lang.Parse(file.Path, string(content)); err != nil {
			return fmt.Errorf("created %s does not parse: %w", file.Path, err)
		}
	}

	return nil
}

// PrintSuccess prints the created files and a short getting-started guide.
func PrintSuccess() {
	printer.Success("Successfully initialized psyker project!")
	printer.Println("")
	printer.Println("Created:")
	printer.Println("  psyker.yml")
	printer.Println("  defs/hello.psy")
	printer.Println("  defs/builder.psyw")
	printer.Println("  defs/crew.psya")
	printer.Println("")
	printer.Println("Next steps:")
	printer.Println("  1. Check the definitions:   psyker load defs")
	printer.Println("  2. Run the example task:    psyker run crew hello --load defs")
	printer.Println("  3. Inspect the audit trail: psyker logs")
}
