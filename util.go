package main

import (
	"encoding/json"
	"net/http"
	"strings"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func contentDisposition(name string) string {
	if name == "" {
		name = "merged.pdf"
	}
	return `attachment; filename="` + escape(name) + `"`
}

// escape keeps a value safe inside a quoted header parameter.
func escape(s string) string {
	r := strings.NewReplacer(`"`, `'`, `\`, `_`, "\r", " ", "\n", " ")
	return r.Replace(s)
}
