package learning

import (
	"context"
	"fmt"
	"strings"
)

// skillErrorMarkers is the failing-output vocabulary used to reject a
// skill whose own result output looks like an error; it is a separate list
// from the substrings internal/tools/result.go's HintFor scans for (spec.md §4.5 "Skill
// recording ... refuses any code whose result contains error markers").
var skillErrorMarkers = []string{
	"traceback", "error:", "exception", "panic:", "syntax error", "fatal",
}

// RecordSkill stores a reusable code snippet, deduped by code_hash and
// rejected if its result looks like a failure or it's too short to be
// reusable (spec.md §4.5).
func (r *Recorder) RecordSkill(ctx context.Context, name, lang, code, request, result string, tags ...string) error {
	if strings.Count(code, "\n")+1 < 3 {
		return fmt.Errorf("skill code has fewer than 3 lines")
	}
	lowerResult := strings.ToLower(result)
	for _, marker := range skillErrorMarkers {
		if strings.Contains(lowerResult, marker) {
			return fmt.Errorf("skill result contains error marker %q", marker)
		}
	}

	hash := codeHash(code)
	existing, err := r.sub.Read(ctx, streamSkills, 0)
	if err != nil {
		return fmt.Errorf("read skills for dedup: %w", err)
	}
	for _, rec := range existing {
		if h, _ := rec["code_hash"].(string); h == hash {
			return nil // duplicate, silently dropped (spec.md §3 invariant 2)
		}
	}

	return r.sub.Append(ctx, streamSkills, map[string]any{
		"ts_ms":          nowMs(),
		"name":           name,
		"lang":           lang,
		"code":           code,
		"code_hash":      hash,
		"request":        truncate(request, 2000),
		"result_preview": truncate(result, 500),
		"tags":           tags,
	})
}

// ReflectOnFailure records a `self_reflection`-typed insight for a single
// failed request, independent of the periodic window-based extraction
// (spec.md §4.5 "reflect_on_failure").
func (r *Recorder) ReflectOnFailure(ctx context.Context, userText, intent, result string) error {
	return r.sub.Append(ctx, streamInsights, map[string]any{
		"ts_ms":         nowMs(),
		"type":          "self_reflection",
		"quality_score": 0.5,
		"user_request":  truncate(userText, 2000),
		"intent_type":   intent,
		"result_preview": truncate(result, 500),
		"failure_type":  classifyFailurePreview(result),
	})
}
