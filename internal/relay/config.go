package relay

import (
	"fmt"
	"strings"

	"github.com/drksbr/intratun/internal/config"
)

// agentDirectoryFile is the on-disk shape of --agent-directory: a static
// email/password directory backing the default StaticValidator. A
// deployment wanting a real database swaps Validator for one backed by it
// without touching any other component.
type agentDirectoryFile struct {
	Agents []struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
	} `yaml:"agents"`
}

// loadAgentDirectory reads path (YAML) into an email->password map. An
// empty path yields an empty, but valid, directory.
func loadAgentDirectory(path string) (map[string]string, error) {
	var file agentDirectoryFile
	if err := config.LoadYAML(path, &file); err != nil {
		return nil, err
	}

	directory := make(map[string]string, len(file.Agents))
	for idx, entry := range file.Agents {
		email := strings.TrimSpace(entry.Email)
		if email == "" {
			return nil, fmt.Errorf("agent config entry %d missing email", idx+1)
		}
		if entry.Password == "" {
			return nil, fmt.Errorf("agent config entry %q missing password", email)
		}
		if _, exists := directory[email]; exists {
			return nil, fmt.Errorf("duplicate agent email %q", email)
		}
		directory[email] = entry.Password
	}
	return directory, nil
}
