// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/osbuilders/debian-media-tools/mediabuilderapi"
	"gopkg.in/alecthomas/kingpin.v2"
)

func main() {
	app := kingpin.New("mediabuilderschemacli", "A CLI tool to generate JSON schema for the media builder API.")
	outputFile := app.Flag("output", "Path to the output JSON schema file").Short('o').Required().String()

	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := generateJSONSchema(*outputFile); err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("JSON schema has been written to %s\n", *outputFile)
}

func generateJSONSchema(outputFile string) error {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&mediabuilderapi.BuildConfig{})
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	if err := os.WriteFile(outputFile, schemaJSON, 0o644); err != nil {
		return fmt.Errorf("failed to write schema to file: %w", err)
	}

	return nil
}
