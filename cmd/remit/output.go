package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// printer writes command results as indented JSON, optionally through a jq filter.
type printer struct {
	out  io.Writer
	code *gojq.Code
}

// jsonOutput reports whether the user asked for machine-readable output.
func jsonOutput(c *cli.Context) bool {
	return c.Bool("json") || c.String("jq") != ""
}

func newPrinter(c *cli.Context) (*printer, error) {
	p := &printer{out: os.Stdout}
	if c.App != nil && c.App.Writer != nil {
		p.out = c.App.Writer
	}
	if expr := c.String("jq"); expr != "" {
		code, err := compileJQ(expr)
		if err != nil {
			return nil, err
		}
		p.code = code
	}
	return p, nil
}

func compileJQ(expr string) (*gojq.Code, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return code, nil
}

func (p *printer) print(v interface{}) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")

	if p.code == nil {
		return enc.Encode(v)
	}

	generic, err := toGeneric(v)
	if err != nil {
		return err
	}
	iter := p.code.Run(generic)
	for {
		out, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
}

// toGeneric round-trips v through JSON so gojq sees maps, slices and float64s.
func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to decode output: %w", err)
	}
	return generic, nil
}

// matchesJQ reports whether code's first result for v is truthy.
func matchesJQ(code *gojq.Code, v interface{}) bool {
	generic, err := toGeneric(v)
	if err != nil {
		return false
	}
	out, ok := code.Run(generic).Next()
	if !ok {
		return false
	}
	if _, isErr := out.(error); isErr {
		return false
	}
	return isTruthy(out)
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func optional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "(none)"
}
