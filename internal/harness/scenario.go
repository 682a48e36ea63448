package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fold/internal/pipeline"
)

// Scenario defines a pipeline test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schemas lists CUE files to compile and load.
	// Paths are relative to the scenario file location.
	Schemas []string `yaml:"schemas"`

	// Backend selects the record store: "memory" (default) or "sqlite".
	Backend string `yaml:"backend,omitempty"`

	// Payment configures the in-process ledger.
	Payment PaymentConfig `yaml:"payment,omitempty"`

	// Setup establishes initial state. Every setup step must complete.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence of operations, each optionally checked
	// against an expect clause.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and store.
	Assertions []Assertion `yaml:"assertions"`
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// PaymentConfig configures the ledger used as payment gateway.
type PaymentConfig struct {
	// AutoSettle marks every invoice paid on issue.
	AutoSettle bool `yaml:"auto_settle,omitempty"`

	// Wait is the pipeline's payment wait, as a Go duration.
	Wait string `yaml:"wait,omitempty"`
}

// Step is one operation.
type Step struct {
	// Op is read, create, update or delete.
	Op string `yaml:"op"`

	// Address is "Schema.field/entity".
	Address string `yaml:"address"`

	Caller CallerSpec `yaml:"caller,omitempty"`

	// Content is the value written by create and update.
	Content any `yaml:"content,omitempty"`

	// Filter narrows a range read.
	Filter *pipeline.Filter `yaml:"filter,omitempty"`

	// Pay settles a PAYMENT_REQUIRED invoice and retries with it as proof.
	Pay bool `yaml:"pay,omitempty"`

	// Expect checks the outcome. If nil the step must complete.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// CallerSpec is the caller identity of a step. A missing distance is
// unknown trust.
type CallerSpec struct {
	Key      string  `yaml:"key,omitempty"`
	Distance *uint32 `yaml:"distance,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Code is a rejection code, or OK for completion.
	Code string `yaml:"code"`

	// Fee is the amount paid on completion, or due on PAYMENT_REQUIRED.
	Fee *uint64 `yaml:"fee,omitempty"`

	// Content is the value returned by a read.
	Content any `yaml:"content,omitempty"`

	// Record and Prev are the written or read record id and its predecessor.
	Record string `yaml:"record,omitempty"`
	Prev   string `yaml:"prev,omitempty"`
}

// ExpectOK is the expect code of a completed step.
const ExpectOK = "OK"

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is an exact transition line (trace_contains).
	Event string `yaml:"event,omitempty"`

	// Events are transition lines expected in order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Stage is the transition stage to count (trace_count).
	Stage string `yaml:"stage,omitempty"`

	// Address narrows trace_count, and selects the chain for
	// final_content and history_length.
	Address string `yaml:"address,omitempty"`

	// Count is the expected number (trace_count, history_length).
	Count int `yaml:"count,omitempty"`

	// Content is the expected current content (final_content).
	Content any `yaml:"content,omitempty"`

	// Deleted expects no current content (final_content).
	Deleted bool `yaml:"deleted,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalContent  = "final_content"
	AssertHistoryLength = "history_length"
)

// LoadScenario reads and parses a scenario YAML file, resolving schema
// paths relative to the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Relative schema paths are joined to
// basePath when it is not empty.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve schema paths before validation so existence checks see them.
	for i, p := range scenario.Schemas {
		if !filepath.IsAbs(p) && basePath != "" {
			scenario.Schemas[i] = filepath.Join(basePath, p)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Schemas) == 0 {
		return fmt.Errorf("schemas list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	switch s.Backend {
	case "", BackendMemory, BackendSQLite:
	default:
		return fmt.Errorf("unknown backend %q, must be %s or %s", s.Backend, BackendMemory, BackendSQLite)
	}

	if s.Payment.Wait != "" {
		d, err := time.ParseDuration(s.Payment.Wait)
		if err != nil {
			return fmt.Errorf("payment.wait: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("payment.wait must not be negative")
		}
	}

	for _, p := range s.Schemas {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return fmt.Errorf("schema file not found: %s", p)
		}
	}

	for i, step := range s.Setup {
		if err := validateStep(fmt.Sprintf("setup[%d]", i), &step); err != nil {
			return err
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot have expect clauses", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(fmt.Sprintf("flow[%d]", i), &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(name string, step *Step) error {
	if step.Op == "" {
		return fmt.Errorf("%s: op is required", name)
	}
	if !pipeline.ValidOpKinds[pipeline.OpKind(step.Op)] {
		return fmt.Errorf("%s: unknown op %q", name, step.Op)
	}
	if step.Address == "" {
		return fmt.Errorf("%s: address is required", name)
	}
	if _, _, _, err := pipeline.ParseAddress(step.Address); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if step.Expect != nil && step.Expect.Code == "" {
		return fmt.Errorf("%s.expect: code is required", name)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Stage == "" {
			return fmt.Errorf("assertions[%d]: stage is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalContent:
		if a.Address == "" {
			return fmt.Errorf("assertions[%d]: address is required for final_content", index)
		}
		if a.Content == nil && !a.Deleted {
			return fmt.Errorf("assertions[%d]: content or deleted is required for final_content", index)
		}
	case AssertHistoryLength:
		if a.Address == "" {
			return fmt.Errorf("assertions[%d]: address is required for history_length", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for history_length", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
