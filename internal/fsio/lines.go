package fsio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mkdir700/pi-team/internal/model"
)

// ReadJSONLines returns the committed records of a line-delimited JSON file
// in file order. A trailing fragment without a newline is a crash-interrupted
// append and is silently discarded. A committed line that is not valid JSON
// fails the whole read with INVALID_LINE. A missing file reads as empty.
func ReadJSONLines(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
			data = data[:i+1]
		} else {
			data = nil
		}
	}

	var records []json.RawMessage
	lineNo := 0
	for len(data) > 0 {
		lineNo++
		i := bytes.IndexByte(data, '\n')
		line := bytes.TrimSpace(data[:i])
		data = data[i+1:]
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, model.Internal(model.CodeInvalidLine, "%s line %d is not valid JSON", path, lineNo)
		}
		records = append(records, json.RawMessage(line))
	}
	return records, nil
}
