package markers

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ModelNames extracts the marker names from a combined HMM model file.
// Each model contributes one NAME line; the name is its last field.
func ModelNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open model file: %w", err)
	}
	defer f.Close()

	var names []string
	seen := map[string]bool{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "NAME") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[len(fields)-1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan model file %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no NAME entries in model file %s", path)
	}
	return names, nil
}
