package tools

import (
	"regexp"
	"strings"
)

// dangerousPatterns is the generalized form of the teacher's shell.go
// defaultDenyPatterns (destructive file ops, exfiltration, reverse shells,
// dangerous eval, privilege escalation, container escape, crypto mining,
// persistence, recon) shared by SHELL.EXEC.v1 and CODE.EXEC.v1 (spec.md
// §4.4 "Code safety").
var dangerousPatterns = []*regexp.Regexp{
	// destructive file operations
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\brm\s+.*--recursive`),
	regexp.MustCompile(`\brm\s+.*--force`),
	regexp.MustCompile(`\b(mkfs|diskpart)\b|\bformat\s`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),

	// arbitrary-string eval/exec
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\b__import__\s*\(`),
	regexp.MustCompile(`\bcompile\s*\(.*exec`),

	// process spawn
	regexp.MustCompile(`\bos\.system\s*\(`),
	regexp.MustCompile(`\bsubprocess\.(Popen|call|run|check_output)\s*\(`),
	regexp.MustCompile(`\bos\.(fork|spawn\w*)\s*\(`),
	regexp.MustCompile(`\bpopen\s*\(`),
	regexp.MustCompile(`\bsystem\s*\(`), // C system()

	// importlib / ctypes / pickle / socket / network modules
	regexp.MustCompile(`\bimportlib\b`),
	regexp.MustCompile(`\bctypes\b`),
	regexp.MustCompile(`\bpickle\.loads?\s*\(`),
	regexp.MustCompile(`\bimport\s+socket\b`),
	regexp.MustCompile(`\bimport\s+(urllib|requests|http\.client)\b`),
	regexp.MustCompile(`\bsocket\.(socket|connect)\s*\(`),

	// filesystem mutation outside the sandbox
	regexp.MustCompile(`\bos\.(remove|rmdir|unlink)\s*\(\s*['"]/`),
	regexp.MustCompile(`\bshutil\.rmtree\s*\(\s*['"]/`),

	// indirect-variable-mode open()
	regexp.MustCompile(`\bopen\s*\([^)]*,\s*['"]w\+?['"]`),

	// data exfiltration / reverse shells
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`/dev/tcp/`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsocat\b`),

	// privilege escalation / container escape
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bnsenter\b`),
	regexp.MustCompile(`\bunshare\b`),
	regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),

	// crypto mining
	regexp.MustCompile(`\b(xmrig|cpuminer|minerd|cgminer|ethminer)\b`),
	regexp.MustCompile(`stratum\+tcp://|stratum\+ssl://`),

	// env var injection / persistence
	regexp.MustCompile(`\bLD_PRELOAD\s*=`),
	regexp.MustCompile(`\bcrontab\b`),
}

// networkPatterns is checked separately so a blocked call can be classified
// as network_code_blocked rather than the broader dangerous_code_blocked
// (spec.md §4.4 error kinds).
var networkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bimport\s+(urllib|requests|http\.client|socket)\b`),
	regexp.MustCompile(`\bsocket\.(socket|connect)\s*\(`),
	regexp.MustCompile(`\bcurl\b`),
	regexp.MustCompile(`\bwget\b`),
}

// classifyUnsafe returns the blocking error kind for normalized code/command
// text, or "" if nothing matched.
func classifyUnsafe(normalized string) ErrorKind {
	for _, p := range networkPatterns {
		if p.MatchString(normalized) {
			return ErrNetworkCodeBlocked
		}
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(normalized) {
			return ErrDangerousCodeBlocked
		}
	}
	return ""
}

// ClassifyUnsafeCode normalizes code/command text the same way CODE.EXEC.v1
// and SHELL.EXEC.v1 do and applies the shared blocklist, for callers outside
// this package that need the identical safety check (spec.md §4.8 "applies
// the code-safety blocklist (same set as dispatch)" — internal/curiosity's
// execute_goal and internal/autotest's Healer).
func ClassifyUnsafeCode(code string) (kind ErrorKind, blocked bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(code), " "))
	if k := classifyUnsafe(normalized); k != "" {
		return k, true
	}
	return "", false
}
