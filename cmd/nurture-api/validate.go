package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/nurture/pkg/exchange"
	"github.com/dukex/nurture/pkg/graph"
	cli "github.com/urfave/cli/v3"
)

var (
	ErrNoDocuments      = errors.New("no flow documents given")
	ErrInvalidDocuments = errors.New("invalid flow documents found")
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate exported flow documents without importing them",
		ArgsUsage: "<file>...",
		Action: func(_ context.Context, command *cli.Command) error {
			paths := command.Args().Slice()
			if len(paths) == 0 {
				return ErrNoDocuments
			}

			invalid := validateDocuments(os.Stdout, paths)

			_, _ = fmt.Fprintf(os.Stdout, "\nSummary: %d valid, %d invalid\n", len(paths)-invalid, invalid)

			if invalid > 0 {
				return fmt.Errorf("%w: %d", ErrInvalidDocuments, invalid)
			}

			return nil
		},
	}
}

// validateDocuments reports every problem of each file to out and returns the
// number of files that could not be imported and published as-is.
func validateDocuments(out io.Writer, paths []string) int {
	invalid := 0

	for _, path := range paths {
		problems, err := validateDocument(path)

		switch {
		case err != nil:
			invalid++

			_, _ = fmt.Fprintf(out, "❌ INVALID %s: %v\n", path, err)
		case len(problems) > 0:
			invalid++

			_, _ = fmt.Fprintf(out, "❌ INVALID %s\n", path)
			for _, problem := range problems {
				_, _ = fmt.Fprintf(out, "    %s\n", problem.Error())
			}
		default:
			_, _ = fmt.Fprintf(out, "✅ VALID %s\n", path)
		}
	}

	return invalid
}

func validateDocument(path string) (graph.Errors, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	doc, err := exchange.Decode(data, exchange.DetectFormat(data))
	if err != nil {
		return nil, err
	}

	return graph.ValidateAll(doc.Graph()), nil
}
