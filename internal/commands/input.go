package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// maxInputLine bounds one JSONL line.
const maxInputLine = 4 << 20

// readInput reads --file, or stdin when file is empty or "-".
func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "" || file == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(file) //nolint:gosec // G304: user-selected input file
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return b, nil
}

// splitDocuments returns the events in data: a JSON array holds one event
// per element, any other single JSON document (which may span lines) is one
// event, and otherwise every non-blank line is one.
// Lines are returned as-is, so malformed lines still reach the validator.
func splitDocuments(data []byte) ([][]byte, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if json.Valid(trimmed) {
		if trimmed[0] != '[' {
			return [][]byte{trimmed}, nil
		}
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
		docs := make([][]byte, len(items))
		for i, it := range items {
			docs[i] = []byte(it)
		}
		return docs, nil
	}

	var docs [][]byte
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), maxInputLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		docs = append(docs, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return docs, nil
}
