package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/fold/internal/schema"
)

// CompileAll compiles every schema declared under the top-level "schema"
// struct of v. Errors are collected per schema rather than fail-fast;
// schemas that compiled are returned alongside the errors of the rest.
func CompileAll(v cue.Value) ([]schema.Schema, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	schemasVal := v.LookupPath(cue.ParsePath("schema"))
	if !schemasVal.Exists() {
		return nil, []error{&CompileError{Field: "schema", Message: "no schemas found", Pos: v.Pos()}}
	}

	iter, err := schemasVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		out  []schema.Schema
		errs []error
	)
	for iter.Next() {
		s, err := CompileSchema(iter.Value())
		if err != nil {
			errs = append(errs, fmt.Errorf("schema.%s: %w", iter.Label(), err))
			continue
		}
		out = append(out, *s)
	}
	return out, errs
}

// CompileString compiles CUE source text. The filename is used in error
// positions only.
func CompileString(filename, src string) ([]schema.Schema, []error) {
	ctx := cuecontext.New()
	return CompileAll(ctx.CompileString(src, cue.Filename(filename)))
}
