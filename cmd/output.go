package cmd

import (
	"encoding/json"
	"fmt"
	"io"
)

// printResult writes v as indented JSON, or text followed by a newline.
func printResult(w io.Writer, asJSON bool, v any, text string) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}
