package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario registers one deployment from a manifest, feeds it a sequence
// of blocks, reverts, prunes and queries, and asserts on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Manifest is the directory of the deployment's CUE manifest.
	// Relative paths are resolved against the scenario file's directory.
	Manifest string `yaml:"manifest"`

	// DeploymentID overrides the content-hash id of the manifest.
	DeploymentID string `yaml:"deployment_id,omitempty"`

	// Steps run in order against a fresh store.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one action against the deployment. Exactly one of Block, Revert,
// Prune and Query is set.
type Step struct {
	// Block applies Ops as the given block number.
	Block *int64 `yaml:"block,omitempty"`
	// Hash is the block hash. Defaults to a hash derived from the number.
	Hash string `yaml:"hash,omitempty"`
	Ops  []Op   `yaml:"ops,omitempty"`

	// Revert rolls the deployment back to the given block.
	Revert *int64 `yaml:"revert,omitempty"`

	// Prune discards history before the given block.
	Prune *int64 `yaml:"prune,omitempty"`

	// Query reads entities and checks the returned ids.
	Query *QueryStep `yaml:"query,omitempty"`

	// ExpectError is the error code the step must fail with, e.g.
	// OUT_OF_ORDER_BLOCK. Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Op is one entity write.
type Op struct {
	// Op is "set" or "remove".
	Op     string         `yaml:"op"`
	Entity string         `yaml:"entity"`
	ID     string         `yaml:"id"`
	Data   map[string]any `yaml:"data,omitempty"`
}

// QueryStep describes an entity or relation query. When ID and Field are
// set the query resolves that relationship field of the entity.
type QueryStep struct {
	Entity string         `yaml:"entity"`
	ID     string         `yaml:"id,omitempty"`
	Field  string         `yaml:"field,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	// Order is "field" or "field desc".
	Order string `yaml:"order,omitempty"`
	First int    `yaml:"first,omitempty"`
	Skip  int    `yaml:"skip,omitempty"`
	After string `yaml:"after,omitempty"`
	Block *int64 `yaml:"block,omitempty"`

	// Expect lists the ids the query must return, in order.
	Expect []string `yaml:"expect"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "entity_state": Read one entity and verify field values
	// - "entity_count": Count the live entities of a type
	// - "head": Verify the deployment's head block
	// - "history": Verify the block ranges of an entity's versions
	// - "no_violations": Run the consistency check
	Type string `yaml:"type"`

	// Entity is the entity type (entity_state, entity_count, history).
	Entity string `yaml:"entity,omitempty"`

	// ID is the entity id (entity_state, history).
	ID string `yaml:"id,omitempty"`

	// Block reads at a historical block instead of the head
	// (entity_state, entity_count), or is the expected head block (head).
	Block *int64 `yaml:"block,omitempty"`

	// Expect contains expected field values (entity_state).
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts the entity does not exist (entity_state).
	Absent bool `yaml:"absent,omitempty"`

	// Count is the expected number of entities (entity_count).
	Count *int64 `yaml:"count,omitempty"`

	// Ranges are the expected version ranges, oldest first, written
	// "from..to" or "from..open" (history).
	Ranges []string `yaml:"ranges,omitempty"`
}

// Assertion type constants.
const (
	AssertEntityState  = "entity_state"
	AssertEntityCount  = "entity_count"
	AssertHead         = "head"
	AssertHistory      = "history"
	AssertNoViolations = "no_violations"
)

// Op kinds.
const (
	OpSet    = "set"
	OpRemove = "remove"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve the manifest path BEFORE validation
	if scenario.Manifest != "" && !filepath.IsAbs(scenario.Manifest) {
		scenario.Manifest = filepath.Join(filepath.Dir(path), scenario.Manifest)
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

	if s.Manifest == "" {
		return fmt.Errorf("manifest is required")
	}
	if _, err := os.Stat(s.Manifest); os.IsNotExist(err) {
		return fmt.Errorf("manifest directory not found: %s", s.Manifest)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
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

func validateStep(index int, s *Step) error {
	kinds := 0
	for _, set := range []bool{s.Block != nil, s.Revert != nil, s.Prune != nil, s.Query != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of block, revert, prune or query is required", index)
	}

	if s.Block == nil && (len(s.Ops) > 0 || s.Hash != "") {
		return fmt.Errorf("steps[%d]: ops and hash are only valid with block", index)
	}
	for j, op := range s.Ops {
		switch op.Op {
		case OpSet:
		case OpRemove:
			if len(op.Data) > 0 {
				return fmt.Errorf("steps[%d].ops[%d]: remove takes no data", index, j)
			}
		default:
			return fmt.Errorf("steps[%d].ops[%d]: op must be set or remove, got %q", index, j, op.Op)
		}
		if op.Entity == "" || op.ID == "" {
			return fmt.Errorf("steps[%d].ops[%d]: entity and id are required", index, j)
		}
	}

	if q := s.Query; q != nil {
		if q.Entity == "" {
			return fmt.Errorf("steps[%d].query: entity is required", index)
		}
		if (q.ID == "") != (q.Field == "") {
			return fmt.Errorf("steps[%d].query: id and field must be given together", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEntityState:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity and id are required for entity_state", index)
		}
		if a.Absent == (len(a.Expect) > 0) {
			return fmt.Errorf("assertions[%d]: entity_state needs exactly one of expect or absent", index)
		}
	case AssertEntityCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for entity_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for entity_count", index)
		}
	case AssertHead:
		if a.Block == nil {
			return fmt.Errorf("assertions[%d]: block is required for head", index)
		}
	case AssertHistory:
		if a.Entity == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: entity and id are required for history", index)
		}
	case AssertNoViolations:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
