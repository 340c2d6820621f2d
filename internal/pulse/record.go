package pulse

import (
	"context"
	"strings"
	"time"

	"github.com/nextlevelbuilder/machina/internal/learning"
)

// record implements phase 5: append to conversation history, persist a
// conversation-memory record, and call the Learning Recorder (spec.md
// §4.10 phase 5).
func (p *Pulse) record(ctx context.Context, req Request, tctx turnContext, exec execState, reply Reply) {
	now := time.Now()
	p.history.Append(req.ChatID, Turn{Role: "user", Content: req.Text, AtMs: now.UnixMilli()})
	p.history.Append(req.ChatID, Turn{Role: "assistant", Content: reply.Text, AtMs: now.UnixMilli()})

	if p.recorder == nil {
		return
	}

	success := exec.lastResult == nil || !exec.lastResult.IsError
	toolUsed := ""
	if len(exec.usedTools) > 0 {
		toolUsed = exec.usedTools[len(exec.usedTools)-1]
	}
	elapsed := float64(exec.cycles)

	opts := []learning.ExperienceOption{learning.WithSessionID(tctx.sessionID)}
	if exec.approvalNeeded {
		opts = append(opts, learning.WithSource("approval_pending"))
	} else if len(exec.usedTools) > 0 {
		opts = append(opts, learning.WithSource("pulse"))
	} else {
		opts = append(opts, learning.WithSource("chat"))
	}

	result := reply.Text
	if exec.lastResult != nil {
		result = exec.lastResult.ForLLM
	}

	_ = p.recorder.RecordExperience(ctx, req.Text, intentLabel(exec), toolUsed, result, success, elapsed, opts...)
}

func intentLabel(exec execState) string {
	if len(exec.usedTools) > 0 {
		return strings.Join(exec.usedTools, ",")
	}
	return "chat"
}
