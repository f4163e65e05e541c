// Package config loads the run configuration: the process-level fail-fast
// default, known issues, statistics output and the batches a run is split
// into.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/verdict/internal/softassert"
)

// Validation error codes (E200-E299)
const (
	ErrBatchIDEmpty      = "E201" // batch id is required
	ErrBatchIDDuplicate  = "E202" // batch ids must be unique
	ErrBatchThreads      = "E203" // threads must be positive
	ErrKnownIssueID      = "E204" // known issue id is required
	ErrKnownIssuePattern = "E205" // known issue pattern is required
	ErrStatisticsDir     = "E206" // statistics_dir must not be blank when set
)

// ValidationError is one invalid configuration value.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Batch groups stories that are scheduled together and share fail-fast
// settings.
type Batch struct {
	// ID identifies the batch in logs, statistics and fail-fast lookups.
	ID string `yaml:"id"`

	// Threads is the number of stories of the batch run concurrently.
	Threads int `yaml:"threads"`

	// FailFast skips every later batch once this batch has a failure.
	FailFast bool `yaml:"fail_fast"`

	// FailStoryFast stops a story at its first failed scenario instead of
	// resetting state and continuing with the next one.
	FailStoryFast bool `yaml:"fail_story_fast"`

	// FailTestCaseFast overrides the process-level default for this batch.
	// Nil inherits the default.
	FailTestCaseFast *bool `yaml:"fail_test_case_fast,omitempty"`

	// Stories lists the story paths of the batch. Empty selects every story.
	Stories []string `yaml:"stories,omitempty"`
}

// Config is the run configuration.
type Config struct {
	// FailTestCaseFast is the process-level fail-fast default.
	FailTestCaseFast bool `yaml:"fail_test_case_fast"`

	// CollectFailures keeps every failure message for the final report.
	CollectFailures bool `yaml:"collect_failures"`

	// StatisticsDir is where statistics.json is written. Empty disables it.
	StatisticsDir string `yaml:"statistics_dir"`

	// KnownIssues are matched against failure descriptions.
	KnownIssues []softassert.KnownIssuePattern `yaml:"known_issues,omitempty"`

	// Batches run in order. A config without batches runs every story in
	// one default batch.
	Batches Batches `yaml:"batches,omitempty"`
}

// DefaultBatchID is the id of the implicit batch used when none is configured.
const DefaultBatchID = "batch-1"

// DefaultStatisticsDir is where the run command writes statistics.json
// unless told otherwise.
const DefaultStatisticsDir = ".verdict/statistics"

// DefaultConfig returns a Config with default values. Statistics output is
// off until a directory is set.
func DefaultConfig() *Config {
	return &Config{
		FailTestCaseFast: false,
		CollectFailures:  false,
	}
}

// LoadConfig loads configuration from path. A missing file yields the
// defaults; a malformed or invalid one is an error.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes YAML configuration on top of the defaults and validates it.
// Unknown fields are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", joinValidation(errs))
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if len(c.Batches) == 0 {
		c.Batches = Batches{{ID: DefaultBatchID}}
	}
	for i := range c.Batches {
		if c.Batches[i].Threads == 0 {
			c.Batches[i].Threads = 1
		}
	}
}

// MergeWithFlags applies CLI flags. Nil values leave the config unchanged.
func (c *Config) MergeWithFlags(failTestCaseFast *bool, statisticsDir *string, collectFailures *bool) {
	if failTestCaseFast != nil {
		c.FailTestCaseFast = *failTestCaseFast
	}
	if statisticsDir != nil {
		c.StatisticsDir = *statisticsDir
	}
	if collectFailures != nil {
		c.CollectFailures = *collectFailures
	}
}

// Validate returns every invalid value (it does not stop at the first).
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.StatisticsDir != "" && strings.TrimSpace(c.StatisticsDir) == "" {
		errs = append(errs, ValidationError{
			Field:   "statistics_dir",
			Message: "must not be blank",
			Code:    ErrStatisticsDir,
		})
	}

	seen := make(map[string]bool, len(c.Batches))
	for i, b := range c.Batches {
		field := fmt.Sprintf("batches[%d]", i)
		if strings.TrimSpace(b.ID) == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "id is required", Code: ErrBatchIDEmpty})
		} else if seen[b.ID] {
			errs = append(errs, ValidationError{
				Field:   field + ".id",
				Message: fmt.Sprintf("duplicate batch id %q", b.ID),
				Code:    ErrBatchIDDuplicate,
			})
		}
		seen[b.ID] = true
		if b.Threads < 0 {
			errs = append(errs, ValidationError{
				Field:   field + ".threads",
				Message: fmt.Sprintf("must be > 0, got %d", b.Threads),
				Code:    ErrBatchThreads,
			})
		}
	}

	for i, ki := range c.KnownIssues {
		field := fmt.Sprintf("known_issues[%d]", i)
		if strings.TrimSpace(ki.ID) == "" {
			errs = append(errs, ValidationError{Field: field + ".id", Message: "id is required", Code: ErrKnownIssueID})
		}
		if ki.Pattern == "" {
			errs = append(errs, ValidationError{Field: field + ".pattern", Message: "pattern is required", Code: ErrKnownIssuePattern})
		}
	}

	return errs
}

func joinValidation(errs []ValidationError) error {
	joined := make([]error, len(errs))
	for i, e := range errs {
		joined[i] = e
	}
	return errors.Join(joined...)
}

// IsValidationError reports whether err contains a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// Batches is the ordered batch list. It answers per-batch fail-fast
// overrides for the fail-fast policy.
type Batches []Batch

// Lookup returns the batch with the given id.
func (bs Batches) Lookup(id string) (Batch, bool) {
	for _, b := range bs {
		if b.ID == id {
			return b, true
		}
	}
	return Batch{}, false
}

// FailTestCaseFast returns the batch's fail-fast override, if it has one.
func (bs Batches) FailTestCaseFast(batchID string) (value bool, ok bool) {
	b, found := bs.Lookup(batchID)
	if !found || b.FailTestCaseFast == nil {
		return false, false
	}
	return *b.FailTestCaseFast, true
}

// KnownIssueRegistry compiles the configured known issues.
func (c *Config) KnownIssueRegistry() (*softassert.KnownIssueRegistry, error) {
	return softassert.NewKnownIssueRegistry(c.KnownIssues)
}
