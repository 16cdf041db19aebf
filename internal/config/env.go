package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadEnv loads KEY=VALUE pairs from a dotenv-style file into the process
// environment. Variables already present in the environment win, so deploy
// secrets override a checked-in development file. A missing file is not an
// error.
func LoadEnv(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, val, ok := parseEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return scanner.Err()
}

// parseEnvLine splits one dotenv line into a key/value pair. Blank lines,
// comments and lines without '=' report ok=false. An `export ` prefix and
// matching single or double quotes around the value are accepted.
func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, unquoteEnv(strings.TrimSpace(val)), true
}

func unquoteEnv(val string) string {
	if len(val) < 2 {
		return val
	}
	first, last := val[0], val[len(val)-1]
	if first == last && (first == '"' || first == '\'') {
		return val[1 : len(val)-1]
	}
	return val
}
