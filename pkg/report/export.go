// Package report renders benchmark results as tables and exports them as
// JSON documents.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/runningwild/diskmark/pkg/engine"
	"github.com/runningwild/diskmark/pkg/sysinfo"
)

// Version is stamped into exported documents.
var Version = "dev"

// Document is the exported form of a run.
type Document struct {
	Version     string        `json:"version"`
	Run         *engine.Run   `json:"run"`
	Environment *sysinfo.Info `json:"environment,omitempty"`
}

// NewDocument wraps run and its environment for export.
func NewDocument(run *engine.Run, env *sysinfo.Info) *Document {
	return &Document{Version: Version, Run: run, Environment: env}
}

// Export writes doc as indented JSON.
func Export(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return nil
}

// ExportFile writes doc to path.
func ExportFile(path string, doc *Document) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := Export(f, doc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Decode reads a document written by Export.
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Run == nil {
		return nil, fmt.Errorf("decode document: missing run")
	}
	return &doc, nil
}
