package alert

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/melonattacker/bmon/internal/event"
)

//go:embed rules/*.yaml
var rulesFS embed.FS

const defaultRulesPath = "rules/default_rules.yaml"

// LoadDefaultRules returns the rule set compiled into the binary.
func LoadDefaultRules() ([]Rule, error) {
	b, err := rulesFS.ReadFile(defaultRulesPath)
	if err != nil {
		return nil, fmt.Errorf("builtin rules: %w", err)
	}
	return LoadRulesYAML(b)
}

// LoadRulesFile reads a rule set from disk. An empty path selects the
// built-in rules.
func LoadRulesFile(path string) ([]Rule, error) {
	if strings.TrimSpace(path) == "" {
		return LoadDefaultRules()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	rules, err := LoadRulesYAML(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// LoadRulesYAML parses and compiles a rule document. Unknown keys are
// rejected so a misspelled condition cannot silently widen a rule.
func LoadRulesYAML(b []byte) ([]Rule, error) {
	var doc struct {
		Rules []Rule `yaml:"rules"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(doc.Rules) == 0 {
		return nil, errors.New("no rules defined")
	}

	ids := make(map[string]bool, len(doc.Rules))
	for i := range doc.Rules {
		r := &doc.Rules[i]
		if err := r.compile(); err != nil {
			return nil, fmt.Errorf("rule %d (%q): %w", i, r.ID, err)
		}
		if ids[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		ids[r.ID] = true
	}
	return doc.Rules, nil
}

func (r *Rule) compile() error {
	for _, f := range []*string{&r.ID, &r.Title, &r.Severity, &r.Message} {
		*f = strings.TrimSpace(*f)
	}
	switch {
	case r.ID == "":
		return errors.New("missing id")
	case r.Title == "":
		return errors.New("missing title")
	case r.Message == "":
		return errors.New("missing message")
	}
	if _, err := event.ParseLevel(r.Severity); err != nil {
		return fmt.Errorf("invalid severity %q", r.Severity)
	}
	if err := r.When.compile(); err != nil {
		return fmt.Errorf("when: %w", err)
	}
	tmpl, err := template.New(r.ID).Option("missingkey=zero").Parse(r.Message)
	if err != nil {
		return fmt.Errorf("message template: %w", err)
	}
	r.tmpl = tmpl
	return nil
}

func (w *WhenClause) compile() error {
	if len(w.TypeIn) == 0 {
		return errors.New("type_in is required")
	}
	for i, name := range w.TypeIn {
		typ, err := event.ParseType(strings.TrimSpace(name))
		if err != nil {
			return fmt.Errorf("invalid type_in value %q", name)
		}
		w.TypeIn[i] = typ.String()
	}

	w.minLevel = -1
	if name := strings.TrimSpace(w.MinLevel); name != "" {
		lvl, err := event.ParseLevel(name)
		if err != nil {
			return fmt.Errorf("invalid min_level %q", w.MinLevel)
		}
		w.minLevel = int(lvl)
	}

	if len(w.CommIn) > 0 && len(w.CommNotIn) > 0 {
		return errors.New("comm_in/comm_not_in are mutually exclusive")
	}
	if expr := strings.TrimSpace(w.DetailsRegex); expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("invalid details_regex: %w", err)
		}
		w.detailsRE = re
	}
	return nil
}
