package alert

import (
	"regexp"
	"text/template"
)

// Rule matches security event records. Every non-empty field of When must
// match for the rule to fire.
type Rule struct {
	ID       string     `yaml:"id"`
	Title    string     `yaml:"title"`
	Severity string     `yaml:"severity"` // low|medium|high|critical
	When     WhenClause `yaml:"when"`
	Message  string     `yaml:"message"`

	tmpl *template.Template `yaml:"-"`
}

type WhenClause struct {
	TypeIn        []string `yaml:"type_in"`
	MinLevel      string   `yaml:"min_level"`
	CommIn        []string `yaml:"comm_in"`
	CommNotIn     []string `yaml:"comm_not_in"`
	DetailsPrefix string   `yaml:"details_prefix"`
	DetailsRegex  string   `yaml:"details_regex"`
	UIDIn         []uint32 `yaml:"uid_in"`

	minLevel  int            `yaml:"-"`
	detailsRE *regexp.Regexp `yaml:"-"`
}
