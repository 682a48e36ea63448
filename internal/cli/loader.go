package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/fold/internal/compiler"
	"github.com/roach88/fold/internal/schema"
)

// LoadMode controls how errors are handled during schema loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// LoadResult contains the schemas loaded from a directory.
type LoadResult struct {
	Schemas   []schema.Schema
	Registry  *schema.Registry // populated only when every schema compiled and validated
	FileCount int
}

// LoadError represents an error that occurred during schema loading.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Loader error codes. Schema validation codes (E2xx) come from package schema.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E007" // Schema does not satisfy the definitions
)

// LoadSchemas compiles the CUE schemas in dir and loads them into a fresh
// registry. In fail-fast mode it returns after the first error.
func LoadSchemas(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schemas directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schemas directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result := &LoadResult{FileCount: len(cueFiles)}

	schemas, compileErrs := compileSchemas(value, mode)
	result.Schemas = schemas
	if len(compileErrs) > 0 {
		return result, compileErrs
	}

	registry := schema.NewRegistry()
	if err := registry.Load(schemas...); err != nil {
		errs := validationErrors(err)
		if mode == LoadModeFailFast {
			errs = errs[:1]
		}
		return result, errs
	}
	result.Registry = registry
	return result, nil
}

func compileSchemas(value cue.Value, mode LoadMode) ([]schema.Schema, []error) {
	schemasVal := value.LookupPath(cue.ParsePath("schema"))
	if !schemasVal.Exists() {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: "no schemas found"}}
	}
	iter, err := schemasVal.Fields()
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating schemas: %v", err)}}
	}

	var (
		out  []schema.Schema
		errs []error
	)
	for iter.Next() {
		s, err := compiler.CompileSchema(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "schema."+iter.Label()))
			if mode == LoadModeFailFast {
				return out, errs
			}
			continue
		}
		out = append(out, *s)
	}
	return out, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

// validationErrors flattens a registry load failure into LoadErrors
// carrying the schema package's E2xx codes.
func validationErrors(err error) []error {
	var loadErr *schema.LoadError
	if !errors.As(err, &loadErr) {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: err.Error()}}
	}
	out := make([]error, len(loadErr.Errors))
	for i, ve := range loadErr.Errors {
		msg := ve.Schema
		if ve.Field != "" {
			msg += "." + ve.Field
		}
		out[i] = &LoadError{Code: ve.Code, Message: strings.TrimPrefix(msg+": "+ve.Message, ": ")}
	}
	return out
}
