// Package alert turns security event records into alerts using a YAML rule
// set.
package alert

import (
	"bytes"
	"slices"
	"strings"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/storage"
)

type Engine struct {
	rules []Rule
}

// NewEngine builds an engine over the built-in rule set.
func NewEngine() (*Engine, error) {
	rules, err := LoadDefaultRules()
	if err != nil {
		return nil, err
	}
	return NewEngineWithRules(rules), nil
}

func NewEngineWithRules(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate returns zero or more alerts for a record, in rule order.
func (e *Engine) Evaluate(rec event.Record) []storage.Alert {
	var out []storage.Alert
	for i := range e.rules {
		r := &e.rules[i]
		if !r.When.matches(rec) {
			continue
		}
		out = append(out, storage.Alert{
			RuleID:   r.ID,
			Title:    r.Title,
			Severity: r.Severity,
			Message:  r.render(rec),
		})
	}
	return out
}

func (w *WhenClause) matches(rec event.Record) bool {
	if !slices.Contains(w.TypeIn, rec.Type) {
		return false
	}
	if w.minLevel >= 0 && int(rec.LevelOf()) < w.minLevel {
		return false
	}
	if len(w.CommIn) > 0 && !slices.Contains(w.CommIn, rec.Comm) {
		return false
	}
	if len(w.CommNotIn) > 0 && slices.Contains(w.CommNotIn, rec.Comm) {
		return false
	}
	if len(w.UIDIn) > 0 && !slices.Contains(w.UIDIn, rec.UID) {
		return false
	}
	if w.DetailsPrefix != "" && !strings.HasPrefix(rec.Details, w.DetailsPrefix) {
		return false
	}
	if w.detailsRE != nil && !w.detailsRE.MatchString(rec.Details) {
		return false
	}
	return true
}

func (r *Rule) render(rec event.Record) string {
	if r.tmpl == nil {
		return r.Message
	}
	data := map[string]any{
		"type":    rec.Type,
		"level":   rec.Level,
		"pid":     rec.PID,
		"uid":     rec.UID,
		"gid":     rec.GID,
		"comm":    rec.Comm,
		"details": rec.Details,
		"mono_ns": rec.Timestamp,
	}
	var b bytes.Buffer
	if err := r.tmpl.Execute(&b, data); err != nil {
		return r.Message
	}
	return b.String()
}
