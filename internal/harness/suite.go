package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// Suite defines a scripted run and its expected outcome.
type Suite struct {
	// Name uniquely identifies the suite. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what the suite validates.
	Description string `yaml:"description"`

	// Config is the run configuration, in the configuration file schema.
	// Absent means defaults.
	Config yaml.Node `yaml:"config,omitempty"`

	// Given lists stories that run only as given stories.
	Given []StoryDef `yaml:"given,omitempty"`

	// Stories are the top-level stories of the run.
	Stories []StoryDef `yaml:"stories"`

	// Expect is the expected overall outcome.
	Expect Expectation `yaml:"expect,omitempty"`

	// Assertions validate the journal, trees and counters of the run.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// StoryDef is a scripted story.
type StoryDef struct {
	Path         string        `yaml:"path"`
	GivenStories []string      `yaml:"given_stories,omitempty"`
	Scenarios    []ScenarioDef `yaml:"scenarios"`
}

// ScenarioDef is a scripted scenario.
type ScenarioDef struct {
	Title        string    `yaml:"title"`
	GivenStories []string  `yaml:"given_stories,omitempty"`
	Excluded     bool      `yaml:"excluded,omitempty"`
	Steps        []StepDef `yaml:"steps"`
}

// StepDef is a scripted step.
type StepDef struct {
	// Text names the step in trees and the executed trace.
	Text string `yaml:"text"`

	// Action is what the step does. Empty means pass, or composite when
	// Steps is set.
	Action string `yaml:"action,omitempty"`

	// Message overrides Text as the assertion description or error message.
	Message string `yaml:"message,omitempty"`

	// KnownIssue attaches an open known issue with this id (assert_fail).
	KnownIssue string `yaml:"known_issue,omitempty"`

	// PotentiallyKnown marks the attached issue as only potentially known.
	PotentiallyKnown bool `yaml:"potentially_known,omitempty"`

	// FailTestCaseFast and FailTestSuiteFast escalate the failure (assert_fail).
	FailTestCaseFast  bool `yaml:"fail_test_case_fast,omitempty"`
	FailTestSuiteFast bool `yaml:"fail_test_suite_fast,omitempty"`

	// Steps are nested steps (composite).
	Steps []StepDef `yaml:"steps,omitempty"`
}

// Step actions.
const (
	ActionPass            = "pass"
	ActionAssertFail      = "assert_fail"
	ActionError           = "error"
	ActionPanic           = "panic"
	ActionPending         = "pending"
	ActionSkip            = "skip"
	ActionComposite       = "composite"
	ActionEnableFailFast  = "enable_fail_fast"
	ActionDisableFailFast = "disable_fail_fast"
)

var actions = map[string]bool{
	ActionPass:            true,
	ActionAssertFail:      true,
	ActionError:           true,
	ActionPanic:           true,
	ActionPending:         true,
	ActionSkip:            true,
	ActionComposite:       true,
	ActionEnableFailFast:  true,
	ActionDisableFailFast: true,
}

// action returns the effective action of the step.
func (d StepDef) action() string {
	switch {
	case d.Action != "":
		return d.Action
	case len(d.Steps) > 0:
		return ActionComposite
	default:
		return ActionPass
	}
}

// description returns the assertion description or error message.
func (d StepDef) description() string {
	if d.Message != "" {
		return d.Message
	}
	return d.Text
}

// Expectation is the expected overall outcome of a suite.
type Expectation struct {
	// Status is the expected worst status, or "NONE" when nothing may be
	// observed. Empty skips the check.
	Status string `yaml:"status,omitempty"`

	// ExitCode is the expected process exit code.
	ExitCode *int `yaml:"exit_code,omitempty"`
}

// NoStatus is the expected status of a run that observed nothing.
const NoStatus = "NONE"

// Assertion validates one aspect of a finished run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Story, Scenario and Step locate a node (node_status). Scenario and
	// Step are optional; without them the story node is checked.
	Story    string `yaml:"story,omitempty"`
	Scenario string `yaml:"scenario,omitempty"`
	Step     string `yaml:"step,omitempty"`

	// Status is the expected status (node_status, level_count).
	Status string `yaml:"status,omitempty"`

	// Kind is the journal entry kind (journal_count).
	Kind string `yaml:"kind,omitempty"`

	// Kinds is the expected journal order (journal_order).
	Kinds []string `yaml:"kinds,omitempty"`

	// Level is the counter level (level_count).
	Level string `yaml:"level,omitempty"`

	// Count is the expected number (journal_count, level_count).
	Count int `yaml:"count,omitempty"`

	// Steps is the expected executed trace (executed).
	Steps []string `yaml:"steps,omitempty"`

	// Batches are the expected skipped batches (skipped_batches).
	Batches []string `yaml:"batches,omitempty"`
}

// Assertion type constants.
const (
	AssertNodeStatus     = "node_status"
	AssertJournalCount   = "journal_count"
	AssertJournalOrder   = "journal_order"
	AssertLevelCount     = "level_count"
	AssertExecuted       = "executed"
	AssertSkippedBatches = "skipped_batches"
)

// LoadSuite reads and parses a suite YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is invalid.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	return ParseSuite(bytes.NewReader(data))
}

// ParseSuite parses and validates a suite.
func ParseSuite(r io.Reader) (*Suite, error) {
	var suite Suite
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&suite); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML: empty suite")
		}
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateSuite(&suite); err != nil {
		return nil, fmt.Errorf("invalid suite: %w", err)
	}
	if _, err := suite.Configuration(); err != nil {
		return nil, fmt.Errorf("invalid suite: %w", err)
	}
	return &suite, nil
}

// Configuration decodes the suite's config section. A suite without one
// gets the defaults.
func (s *Suite) Configuration() (*config.Config, error) {
	if s.Config.Kind == 0 {
		return config.Parse(bytes.NewReader(nil))
	}
	data, err := yaml.Marshal(&s.Config)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := config.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// validateSuite checks that required fields are present and valid.
func validateSuite(s *Suite) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Stories) == 0 {
		return fmt.Errorf("stories list is required and must be non-empty")
	}

	paths := make(map[string]bool, len(s.Given)+len(s.Stories))
	for _, group := range []struct {
		field   string
		stories []StoryDef
	}{{"given", s.Given}, {"stories", s.Stories}} {
		for i, story := range group.stories {
			field := fmt.Sprintf("%s[%d]", group.field, i)
			if story.Path == "" {
				return fmt.Errorf("%s: path is required", field)
			}
			if paths[story.Path] {
				return fmt.Errorf("%s: duplicate story path %q", field, story.Path)
			}
			paths[story.Path] = true
			if err := validateStory(field, story); err != nil {
				return err
			}
		}
	}

	for _, story := range append(append([]StoryDef(nil), s.Given...), s.Stories...) {
		for _, ref := range story.GivenStories {
			if !paths[ref] {
				return fmt.Errorf("story %q: unknown given story %q", story.Path, ref)
			}
		}
		for _, sc := range story.Scenarios {
			for _, ref := range sc.GivenStories {
				if !paths[ref] {
					return fmt.Errorf("scenario %q: unknown given story %q", sc.Title, ref)
				}
			}
		}
	}

	if s.Expect.Status != "" && s.Expect.Status != NoStatus {
		if _, err := status.Parse(s.Expect.Status); err != nil {
			return fmt.Errorf("expect.status: %w", err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStory(field string, story StoryDef) error {
	for i, sc := range story.Scenarios {
		scField := fmt.Sprintf("%s.scenarios[%d]", field, i)
		if sc.Title == "" {
			return fmt.Errorf("%s: title is required", scField)
		}
		if err := validateSteps(scField, sc.Steps); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(field string, steps []StepDef) error {
	for i, step := range steps {
		stepField := fmt.Sprintf("%s.steps[%d]", field, i)
		if step.Text == "" {
			return fmt.Errorf("%s: text is required", stepField)
		}
		action := step.action()
		if !actions[action] {
			return fmt.Errorf("%s: unknown action %q", stepField, step.Action)
		}
		if action == ActionComposite && len(step.Steps) == 0 {
			return fmt.Errorf("%s: composite step requires nested steps", stepField)
		}
		if action != ActionComposite && len(step.Steps) > 0 {
			return fmt.Errorf("%s: nested steps require the composite action", stepField)
		}
		if action != ActionAssertFail && (step.KnownIssue != "" || step.FailTestCaseFast || step.FailTestSuiteFast) {
			return fmt.Errorf("%s: known_issue and escalation flags apply to assert_fail only", stepField)
		}
		if err := validateSteps(stepField, step.Steps); err != nil {
			return err
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
	case AssertNodeStatus:
		if a.Story == "" {
			return fmt.Errorf("assertions[%d]: story is required for node_status", index)
		}
		if a.Step != "" && a.Scenario == "" {
			return fmt.Errorf("assertions[%d]: step requires scenario for node_status", index)
		}
		if _, err := status.Parse(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertJournalCount:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for journal_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for journal_count", index)
		}
	case AssertJournalOrder:
		if len(a.Kinds) < 2 {
			return fmt.Errorf("assertions[%d]: at least two kinds are required for journal_order", index)
		}
	case AssertLevelCount:
		var level tree.Level
		if err := level.UnmarshalText([]byte(a.Level)); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if _, err := status.Parse(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for level_count", index)
		}
	case AssertExecuted, AssertSkippedBatches:
		// an empty list asserts that nothing ran or nothing was skipped
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
