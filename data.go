package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"example.com/pdf-fusion/internal/merge"
)

// loadRequests reads merge requests for the CLI. A .jsonl file holds one
// request per line, anything else a single JSON request.
func loadRequests(path string) ([]*merge.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.HasSuffix(strings.ToLower(path), ".jsonl") {
		var reqs []*merge.Request
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			var p fusionPayload
			if err := json.Unmarshal([]byte(text), &p); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			reqs = append(reqs, p.request())
		}
		return reqs, sc.Err()
	}

	var p fusionPayload
	if err := json.NewDecoder(bufio.NewReader(f)).Decode(&p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return []*merge.Request{p.request()}, nil
}

// outPath numbers the output file when a batch holds several requests:
// out.pdf becomes out-1.pdf, out-2.pdf, ...
func outPath(out string, i, n int) string {
	if n <= 1 {
		return out
	}
	base, ext := out, ".pdf"
	if dot := strings.LastIndex(out, "."); dot > strings.LastIndex(out, "/") {
		base, ext = out[:dot], out[dot:]
	}
	return fmt.Sprintf("%s-%d%s", base, i+1, ext)
}
