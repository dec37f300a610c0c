package facttrace

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// LoadCases reads claim/truth pairs from a CSV file with "claim" and
// "truth" header columns. IDs are assigned in row order starting at 1.
// A missing file is a logged warning and an empty catalog, not an error.
func LoadCases(path string) ([]Case, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: cases file not found at %s", path)
		return []Case{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open cases file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []Case{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cases header: %w", err)
	}

	claimCol, truthCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "claim":
			claimCol = i
		case "truth":
			truthCol = i
		}
	}
	if claimCol < 0 || truthCol < 0 {
		return nil, fmt.Errorf("cases file %s is missing claim/truth columns", path)
	}

	cases := make([]Case, 0)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read cases row: %w", err)
		}
		if claimCol >= len(row) || truthCol >= len(row) {
			continue // Skip short rows
		}
		cases = append(cases, Case{
			ID:    len(cases) + 1,
			Claim: strings.TrimSpace(row[claimCol]),
			Truth: strings.TrimSpace(row[truthCol]),
		})
	}

	return cases, nil
}

// CaseCatalog serves the parsed case list with a TTL so edits to the CSV
// show up without a restart.
type CaseCatalog struct {
	mu       sync.RWMutex
	path     string
	ttl      time.Duration
	cases    []Case
	loadedAt time.Time
}

// NewCaseCatalog creates a catalog backed by the CSV at path.
func NewCaseCatalog(path string, ttl time.Duration) *CaseCatalog {
	return &CaseCatalog{path: path, ttl: ttl}
}

// Cases returns the case list, reloading when the cache has expired or a
// refresh is forced.
func (c *CaseCatalog) Cases(forceRefresh bool) ([]Case, error) {
	c.mu.RLock()
	fresh := c.cases != nil && time.Since(c.loadedAt) <= c.ttl
	if fresh && !forceRefresh {
		out := make([]Case, len(c.cases))
		copy(out, c.cases)
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	cases, err := LoadCases(c.path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cases = cases
	c.loadedAt = time.Now()
	c.mu.Unlock()

	out := make([]Case, len(cases))
	copy(out, cases)
	return out, nil
}

// Case returns the case with the given 1-based ID.
func (c *CaseCatalog) Case(id int) (Case, bool) {
	cases, err := c.Cases(false)
	if err != nil {
		return Case{}, false
	}
	if id < 1 || id > len(cases) {
		return Case{}, false
	}
	return cases[id-1], true
}
