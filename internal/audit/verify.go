package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of a hash chain walk.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"errorLine,omitempty"`
}

// Verify walks the log and validates the hash chain, reporting the first
// broken link. A trailing fragment without a newline is ignored, matching
// what the next Open would truncate.
func Verify(path string) VerifyResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	if n := len(data); n > 0 && data[n-1] != '\n' {
		i := bytes.LastIndexByte(data, '\n')
		data = data[:i+1]
	}

	lineNum := 0
	var prevLine []byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		line := data[:i]
		data = data[i+1:]
		lineNum++

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Error: fmt.Sprintf("parse error: %v", err), ErrorLine: lineNum}
		}
		want := GenesisHash
		if lineNum > 1 {
			want = HashLine(prevLine)
		}
		if entry.PrevHash != want {
			return VerifyResult{
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", want, entry.PrevHash),
				ErrorLine: lineNum,
			}
		}
		prevLine = line
	}
	return VerifyResult{Valid: true, Lines: lineNum}
}
