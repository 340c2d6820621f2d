package curiosity

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/nextlevelbuilder/machina/internal/tools"
)

const sandboxTimeout = 10 * time.Second

// ExecuteGoal applies the relevance gate, the shared safety blocklist,
// sanitizes the name, writes the script to the sandboxed utilities
// directory, sandbox-runs it with a 10s timeout, and on success gates it
// through regression before recording it as a skill. When a staged script
// fails to run or is rejected afterwards, the staged run file (for c/cpp
// the compiled binary; the source file stays) is deleted (spec.md §4.8
// "Execute goal").
func (d *Driver) ExecuteGoal(ctx context.Context, goal Goal, request string) Outcome {
	if why, ok := d.RelevanceGate(ctx, goal); !ok {
		return Outcome{Goal: goal, Rejected: true, RejectWhy: why}
	}

	if kind, blocked := tools.ClassifyUnsafeCode(goal.Code); blocked {
		return Outcome{Goal: goal, Rejected: true, RejectWhy: "safety blocklist: " + string(kind)}
	}

	name := sanitizeName(goal.Name)
	if err := os.MkdirAll(d.utilsDir, 0o755); err != nil {
		return Outcome{Goal: goal, Rejected: true, RejectWhy: err.Error()}
	}

	path, runArgs, err := stageScript(d.utilsDir, name, goal.Language, goal.Code)
	if err != nil {
		return Outcome{Goal: goal, Rejected: true, RejectWhy: err.Error()}
	}

	result, runErr := runSandboxed(ctx, runArgs, path)
	if runErr != nil {
		os.Remove(path)
		return Outcome{Goal: goal, Rejected: true, RejectWhy: runErr.Error()}
	}

	if d.gate != nil {
		after := d.gate.Run(ctx)
		if !d.gate.Check(after) {
			os.Remove(path)
			return Outcome{Goal: goal, Regressed: true, RunErr: after.Error}
		}
		if err := d.gate.Accept(after); err != nil {
			os.Remove(path)
			return Outcome{Goal: goal, Rejected: true, RejectWhy: err.Error()}
		}
	}

	if d.skills != nil {
		if err := d.skills.RecordSkill(ctx, name, goal.Language, goal.Code, request, result, "curiosity", string(goal.GapKind)); err != nil {
			os.Remove(path)
			return Outcome{Goal: goal, Rejected: true, RejectWhy: err.Error()}
		}
	}

	_ = d.appendManifest(utilityManifestEntry{
		Name:        name,
		Language:    goal.Language,
		Path:        path,
		Description: goal.GapDesc,
		CreatedMs:   time.Now().UnixMilli(),
		Source:      "curiosity",
	})

	return Outcome{Ran: true, Goal: goal, Accepted: true}
}

// stageScript writes the goal's code to the utilities directory, returning
// the path and the interpreter/compiler argv.
func stageScript(dir, name, lang, code string) (string, []string, error) {
	switch lang {
	case "python":
		p := filepath.Join(dir, name+".py")
		if err := os.WriteFile(p, []byte(code), 0o644); err != nil {
			return "", nil, err
		}
		return p, []string{"python3"}, nil
	case "bash":
		p := filepath.Join(dir, name+".sh")
		if err := os.WriteFile(p, []byte(code), 0o644); err != nil {
			return "", nil, err
		}
		return p, []string{"/bin/sh"}, nil
	case "c", "cpp":
		ext, compiler := ".c", "cc"
		if lang == "cpp" {
			ext, compiler = ".cpp", "c++"
		}
		src := filepath.Join(dir, name+ext)
		if err := os.WriteFile(src, []byte(code), 0o644); err != nil {
			return "", nil, err
		}
		bin := filepath.Join(dir, name+".out")
		build := exec.Command(compiler, src, "-o", bin)
		if out, err := build.CombinedOutput(); err != nil {
			return "", nil, fmt.Errorf("compile failed: %s", string(out))
		}
		return bin, []string{bin}, nil
	default:
		return "", nil, fmt.Errorf("unsupported language %q", lang)
	}
}

// runSandboxed runs the staged script with the 10s execution timeout
// spec.md §4.8 requires, grounded on internal/tools/codeexec.go's
// exec.CommandContext pattern.
func runSandboxed(ctx context.Context, runArgs []string, path string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, sandboxTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runArgs[0], append(runArgs[1:], path)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return "", fmt.Errorf("utility execution timed out")
		}
		detail := stderr.String()
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("utility execution failed: %s", detail)
	}
	return stdout.String(), nil
}

// RunCycle runs one full curiosity cycle: rate-limit check, gap scan, goal
// synthesis, and execution (spec.md §4.8 "run_cycle() -> outcome").
func (d *Driver) RunCycle(ctx context.Context, now time.Time) Outcome {
	if !d.CanRun(now) {
		return Outcome{}
	}
	d.runsToday++
	d.limiter.ReserveN(now, 1)

	gaps, err := d.ScanGaps(ctx)
	if err != nil {
		return Outcome{RunErr: err.Error()}
	}

	goal := d.SynthesizeGoal(ctx, gaps)
	request := fmt.Sprintf("curiosity cycle addressing gap %s", goal.GapKind)
	return d.ExecuteGoal(ctx, goal, request)
}
