package alert

import (
	"strings"
	"testing"
)

func TestLoadDefaultRules(t *testing.T) {
	rs, err := LoadDefaultRules()
	if err != nil {
		t.Fatalf("LoadDefaultRules: %v", err)
	}
	seen := map[string]bool{}
	for _, r := range rs {
		seen[r.ID] = true
		if r.tmpl == nil {
			t.Fatalf("expected compiled template for %s", r.ID)
		}
	}
	for _, id := range []string{"B001", "B002", "B003", "B004", "B005", "B006", "B007"} {
		if !seen[id] {
			t.Fatalf("missing rule %s", id)
		}
	}
}

func TestLoadRulesFileEmptyPathUsesDefaults(t *testing.T) {
	rs, err := LoadRulesFile("")
	if err != nil {
		t.Fatalf("LoadRulesFile: %v", err)
	}
	if len(rs) == 0 {
		t.Fatalf("expected built-in rules")
	}
}

func TestLoadRulesYAMLValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "rules: []", "no rules"},
		{"missing id", "rules:\n  - title: t\n    severity: high\n    message: m\n    when: {type_in: [network_anomaly]}\n", "missing id"},
		{"bad severity", "rules:\n  - id: X\n    title: t\n    severity: urgent\n    message: m\n    when: {type_in: [network_anomaly]}\n", "invalid severity"},
		{"bad type", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: m\n    when: {type_in: [exec]}\n", "invalid type_in"},
		{"no type", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: m\n    when: {}\n", "type_in is required"},
		{"bad regex", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: m\n    when: {type_in: [network_anomaly], details_regex: '('}\n", "details_regex"},
		{"comm both", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: m\n    when: {type_in: [network_anomaly], comm_in: [a], comm_not_in: [b]}\n", "comm_in/comm_not_in"},
		{"bad template", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: '{{.comm'\n    when: {type_in: [network_anomaly]}\n", "template"},
		{"unknown key", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: m\n    when: {type_in: [network_anomaly], command: [a]}\n", "parse rules yaml"},
		{"duplicate", "rules:\n  - id: X\n    title: t\n    severity: high\n    message: m\n    when: {type_in: [network_anomaly]}\n  - id: X\n    title: t\n    severity: low\n    message: m\n    when: {type_in: [network_anomaly]}\n", "duplicate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadRulesYAML([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
