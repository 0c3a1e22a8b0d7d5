package model

import (
	"fmt"
	"os"
	"strings"
)

// ReadNames reads a class label file, one label per line. CRLF endings and blank lines are ignored.
func ReadNames(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read names: %w", err)
	}
	var names []string
	for _, l := range strings.Split(string(b), "\n") {
		l = strings.TrimSpace(strings.TrimRight(l, "\r"))
		if l != "" {
			names = append(names, l)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("read names: %s has no labels", path)
	}
	return names, nil
}

// className falls back to a numbered label when the model emits an id outside the names list.
func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}
