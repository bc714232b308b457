package workflow

import (
	"encoding/json"
	"fmt"
	"io"

	"aegisprime/pkg/proto"
	"aegisprime/pkg/session"
)

// SessionExport is the portable JSON form of a workflow run.
type SessionExport struct {
	State   proto.State    `json:"state"`
	Session *session.State `json:"session"`
}

// ExportJSON writes the full session record, including history, as JSON.
func (e *Engine) ExportJSON(w io.Writer) error {
	e.mu.Lock()
	export := SessionExport{State: e.state, Session: e.sess}
	data, err := json.MarshalIndent(&export, "", "  ")
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal session export: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write session export: %w", err)
	}
	return nil
}

// ExportMarkdown writes a human-readable report of the run: objective,
// strategy pillars, and the blueprint if one exists.
func (e *Engine) ExportMarkdown(w io.Writer) error {
	p := e.Project()

	write := func(format string, args ...any) error {
		_, err := fmt.Fprintf(w, format, args...)
		return err
	}

	if err := write("# Aegis Prime Session: %s\n\n", p.SessionName); err != nil {
		return err
	}
	if p.Objective != "" {
		if err := write("## Objective\n\n%s\n\n", p.Objective); err != nil {
			return err
		}
	}
	if p.URLContext != nil {
		if err := write("## Reference: %s\n\n%s\n\n", p.URLContext.Title, p.URLContext.Summary); err != nil {
			return err
		}
	}
	if p.Strategy != nil {
		if err := write("## Strategy\n\n"); err != nil {
			return err
		}
		for _, key := range proto.PillarKeys() {
			pillar := p.Strategy.Pillar(key)
			if err := write("### %s: %s\n\n%s\n\n", key, pillar.Title, pillar.Description); err != nil {
				return err
			}
		}
	}
	if p.Blueprint != nil {
		if err := write("## Blueprint\n\n```\n%s\n```\n\n### Analysis\n\n%s\n\n", p.Blueprint.Prompt, p.Blueprint.Analysis); err != nil {
			return err
		}
		if len(p.Blueprint.Suggestions) > 0 {
			if err := write("### Suggestions\n\n"); err != nil {
				return err
			}
			for _, s := range p.Blueprint.Suggestions {
				if err := write("- %s\n", s); err != nil {
					return err
				}
			}
			if err := write("\n"); err != nil {
				return err
			}
		}
		for _, q := range p.Blueprint.Questions {
			if err := write("> Question: %s\n", q); err != nil {
				return err
			}
		}
	}
	return nil
}
