// Package dotenv loads KEY=VALUE files into the process environment.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Load reads each path in order. Missing files are skipped, and a variable
// already present in the environment (or set by an earlier file) is never
// overwritten.
func Load(paths ...string) error {
	for _, path := range paths {
		if err := LoadFile(path); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads one dotenv file. A missing file is not an error.
func LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, val, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return fmt.Errorf("%s:%d: set %q: %w", path, lineNo, key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan env file %q: %w", path, err)
	}
	return nil
}

func parseLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, parseValue(strings.TrimSpace(val)), true
}

func parseValue(val string) string {
	if len(val) >= 2 {
		switch {
		case val[0] == '"' && strings.HasSuffix(val, `"`):
			return strings.NewReplacer(`\n`, "\n", `\"`, `"`).Replace(val[1 : len(val)-1])
		case val[0] == '\'' && strings.HasSuffix(val, "'"):
			return val[1 : len(val)-1]
		}
	}
	if i := strings.Index(val, " #"); i >= 0 {
		val = strings.TrimSpace(val[:i])
	}
	return val
}
