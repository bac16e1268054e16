// Command schema-gen writes the VoiceAgent JSON schema reflected from
// pkg/config, or checks that the committed copy is current.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RRiiiccckkk/FractFlow/pkg/config"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	schemaFilename = "voiceagent.json"
)

var (
	checkMode = flag.Bool("check", false, "Check if the schema is up-to-date (for CI)")
	outputDir = flag.String("output-dir", "schemas/v1alpha1", "Output directory for the generated schema")
)

func main() {
	flag.Parse()

	changed, err := generate(*outputDir, *checkMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	switch {
	case *checkMode && changed:
		fmt.Fprintln(os.Stderr, "Error: schema is out of date - run 'go generate ./pkg/config'")
		os.Exit(1)
	case *checkMode:
		fmt.Println("✓ Schema is up to date")
	default:
		fmt.Printf("✓ Generated %s\n", filepath.Join(*outputDir, schemaFilename))
	}
}

// generate writes the schema into dir, or in check mode reports whether
// the file there differs from a fresh generation.
func generate(dir string, check bool) (bool, error) {
	data, err := config.SchemaJSON()
	if err != nil {
		return false, err
	}
	outputFile := filepath.Join(dir, schemaFilename)

	if check {
		existing, err := os.ReadFile(outputFile) // #nosec G304 -- path built from the output-dir flag
		if os.IsNotExist(err) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read existing schema: %w", err)
		}
		return !bytes.Equal(existing, data), nil
	}

	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return false, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(outputFile, data, filePermissions); err != nil {
		return false, fmt.Errorf("failed to write schema: %w", err)
	}
	return false, nil
}
