package audit

import (
	"encoding/json"
	"fmt"

	"github.com/mkdir700/pi-team/internal/fsio"
)

// Replay returns every committed entry of the log in append order. Used to
// rebuild inbox caches; a committed but unparsable line fails the replay.
func Replay(path string) ([]Entry, error) {
	lines, err := fsio.ReadJSONLines(path)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("failed to decode audit entry %d: %w", i+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
