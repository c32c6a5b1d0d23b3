package scaffold

import (
	"fmt"
	"os"
)

// CheckExisting checks if psyker.yml or the defs/ directory already exist
// Returns an error if they do, nil otherwise
func CheckExisting() error {
	var existingFiles []string

	if _, err := os.Stat("psyker.yml"); err == nil {
		existingFiles = append(existingFiles, "psyker.yml")
	}

	if info, err := os.Stat("defs"); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, "defs/")
	}

	if len(existingFiles) > 0 {
		errMsg := "project already initialized\n\nFound existing"
		if len(existingFiles) == 1 {
			errMsg += fmt.Sprintf(": %s", existingFiles[0])
		} else {
			errMsg += " files:\n"
			for _, file := range existingFiles {
				errMsg += fmt.Sprintf("  - %s\n", file)
			}
		}
		errMsg += "\nUse 'psyker init --force' to reinitialize (this will overwrite existing configuration)"

		return fmt.Errorf("%s", errMsg)
	}

	return nil
}
