package workflow

import (
	"context"

	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/pkg/models"
)

// ContextUpdate is merged into a task's context. Repository and branch
// overwrite when set; files and commits are appended without duplicates;
// snippets are appended as given.
type ContextUpdate struct {
	Repository   string               `json:"repository,omitempty"`
	Branch       string               `json:"branch,omitempty"`
	Files        []string             `json:"files,omitempty"`
	Commits      []string             `json:"commits,omitempty"`
	CodeSnippets []models.CodeSnippet `json:"codeSnippets,omitempty"`
}

func (u ContextUpdate) empty() bool {
	return u.Repository == "" && u.Branch == "" &&
		len(u.Files) == 0 && len(u.Commits) == 0 && len(u.CodeSnippets) == 0
}

// UpdateContext merges upd into the context of a task.
func (s *Service) UpdateContext(ctx context.Context, taskID string, upd ContextUpdate) (*models.Task, error) {
	if upd.empty() {
		return nil, store.InvalidArgumentf("context update is empty")
	}
	for _, snip := range upd.CodeSnippets {
		if snip.Content == "" {
			return nil, store.InvalidArgumentf("code snippet content is required")
		}
	}

	return s.update(ctx, taskID, store.Condition{}, func(t *models.Task) error {
		c := &t.Context
		if upd.Repository != "" {
			c.Repository = upd.Repository
		}
		if upd.Branch != "" {
			c.Branch = upd.Branch
		}
		c.Files = dedupe(c.Files, upd.Files)
		c.Commits = dedupe(c.Commits, upd.Commits)
		c.CodeSnippets = append(c.CodeSnippets, upd.CodeSnippets...)
		return nil
	})
}

// dedupe appends the values of add missing from base, keeping first-seen
// order. Empty strings are dropped.
func dedupe(base, add []string) []string {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, v := range list {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
