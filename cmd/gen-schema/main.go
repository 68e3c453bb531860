// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TechnicFlux Contributors

// Command gen-schema writes the catalog manifest JSON Schema file.
//
// With --check it compares the generated schema with the file on disk and
// exits non-zero when they differ, so CI can catch a stale schema.
package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/technicflux/technicflux/internal/catalog"
)

const defaultOutput = "schemas/catalog-manifest.schema.json"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	check := flags.Bool("check", false, "fail if the file on disk is out of date")
	if err := flags.Parse(args); err != nil {
		return err
	}
	outPath := filepath.FromSlash(defaultOutput)
	if flags.NArg() > 0 {
		outPath = flags.Arg(0)
	}

	schema, err := catalog.GenerateManifestSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	schema = append(schema, '\n')

	if *check {
		current, err := os.ReadFile(outPath) //nolint:gosec // path from the command line
		if err != nil {
			return fmt.Errorf("read %s: %w", outPath, err)
		}
		if !bytes.Equal(current, schema) {
			return fmt.Errorf("%s is out of date, run gen-schema", outPath)
		}
		fmt.Printf("%s is up to date\n", outPath)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(outPath, schema, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	fmt.Printf("Generated %s\n", outPath)
	return nil
}
