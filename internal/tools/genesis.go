package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"
)

// genesisManifestEntry mirrors spec.md §6's
// toolpacks/runtime_genesis's per-utility metadata
// (name, language, path, description, created-ts, source).
type genesisManifestEntry struct {
	Name        string `json:"name"`
	Language    string `json:"language"`
	Path        string `json:"path"`
	Description string `json:"description"`
	CreatedTS   int64  `json:"created_ts"`
	Source      string `json:"source"`
}

var genesisNameRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func sanitizeGenesisName(name string) (string, error) {
	if !genesisNameRe.MatchString(name) {
		return "", fmt.Errorf("name must match [a-zA-Z0-9_-]+ (path traversal rejected)")
	}
	return name, nil
}

// GenesisWriteRequest is the input schema for GENESIS.WRITE.v1.
type GenesisWriteRequest struct {
	Name        string `json:"name" jsonschema:"required"`
	Language    string `json:"language" jsonschema:"required,enum=python,enum=bash,enum=cpp"`
	Code        string `json:"code" jsonschema:"required"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty" jsonschema:"description=curiosity|heal|manual"`
}

// GenesisWriteHandler persists a new native-tool source under
// toolpacks/runtime_genesis/src, applying the same safety blocklist as
// CODE.EXEC.v1 (spec.md §4.4 "genesis write-file/compile/load for new
// native tool creation").
type GenesisWriteHandler struct{}

func (GenesisWriteHandler) ActionID() string { return "GENESIS.WRITE.v1" }
func (GenesisWriteHandler) Request() any     { return &GenesisWriteRequest{} }

func extForLanguage(lang string) string {
	switch lang {
	case "python":
		return ".py"
	case "bash":
		return ".sh"
	case "cpp", "c++":
		return ".cpp"
	default:
		return ".txt"
	}
}

func (GenesisWriteHandler) Execute(ctx context.Context, args map[string]any) *Result {
	name, err := sanitizeGenesisName(argString(args, "name"))
	if err != nil {
		return ErrorResult("GENESIS.WRITE.v1", ErrInvalidInput, err.Error())
	}
	code := argString(args, "code")
	if code == "" {
		return ErrorResult("GENESIS.WRITE.v1", ErrInvalidInput, "code is required")
	}
	lang := argString(args, "language")

	normalized := code
	if kind := classifyUnsafe(normalized); kind != "" && !CallerApprovedFromCtx(ctx) {
		return ErrorResult("GENESIS.WRITE.v1", kind, "code matches the safety blocklist")
	}

	srcDir := filepath.Join("toolpacks", "runtime_genesis", "src")
	resolved, err := resolveSandboxPath(srcDir, sandboxWorkspace(ctx))
	if err != nil {
		return ErrorResult("GENESIS.WRITE.v1", ErrPathOutsideSandbox, err.Error())
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return ErrorResult("GENESIS.WRITE.v1", ErrIO, err.Error())
	}

	path := filepath.Join(resolved, name+extForLanguage(lang))
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return ErrorResult("GENESIS.WRITE.v1", ErrIO, err.Error())
	}

	if err := appendGenesisManifest(sandboxWorkspace(ctx), genesisManifestEntry{
		Name: name, Language: lang, Path: path,
		Description: argString(args, "description"),
		CreatedTS:   time.Now().UnixMilli(),
		Source:      argString(args, "source"),
	}); err != nil {
		return ErrorResult("GENESIS.WRITE.v1", ErrIO, err.Error())
	}
	return NewResult(fmt.Sprintf("wrote genesis tool %s", name))
}

func appendGenesisManifest(workspace string, entry genesisManifestEntry) error {
	path := filepath.Join(workspace, "toolpacks", "runtime_genesis", "src", "manifest.json")
	var entries []genesisManifestEntry
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &entries)
	}
	entries = append(entries, entry)
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GenesisCompileRequest is the input schema for GENESIS.COMPILE.v1.
type GenesisCompileRequest struct {
	Name string `json:"name" jsonschema:"required"`
}

// GenesisCompileHandler builds a previously written genesis source into
// toolpacks/runtime_plugins/ when the source is C++ (a .cpp file);
// any other source passes through unchanged.
type GenesisCompileHandler struct{}

func (GenesisCompileHandler) ActionID() string { return "GENESIS.COMPILE.v1" }
func (GenesisCompileHandler) Request() any     { return &GenesisCompileRequest{} }

func (GenesisCompileHandler) Execute(ctx context.Context, args map[string]any) *Result {
	name, err := sanitizeGenesisName(argString(args, "name"))
	if err != nil {
		return ErrorResult("GENESIS.COMPILE.v1", ErrInvalidInput, err.Error())
	}
	workspace := sandboxWorkspace(ctx)
	srcDir, err := resolveSandboxPath(filepath.Join("toolpacks", "runtime_genesis", "src"), workspace)
	if err != nil {
		return ErrorResult("GENESIS.COMPILE.v1", ErrPathOutsideSandbox, err.Error())
	}
	cppSrc := filepath.Join(srcDir, name+".cpp")
	if !fileExists(cppSrc) {
		return NewResult(fmt.Sprintf("%s is interpreted; nothing to compile", name))
	}
	outDir, err := resolveSandboxPath(filepath.Join("toolpacks", "runtime_plugins"), workspace)
	if err != nil {
		return ErrorResult("GENESIS.COMPILE.v1", ErrPathOutsideSandbox, err.Error())
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return ErrorResult("GENESIS.COMPILE.v1", ErrIO, err.Error())
	}
	bin := filepath.Join(outDir, name)
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "c++", cppSrc, "-o", bin)
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		return ErrorResult("GENESIS.COMPILE.v1", ErrCrash, out.String())
	}
	return NewResult(fmt.Sprintf("compiled %s to %s", name, bin))
}

// GenesisLoadRequest is the input schema for GENESIS.LOAD.v1.
type GenesisLoadRequest struct {
	Name string `json:"name" jsonschema:"required"`
}

// GenesisLoadHandler verifies a compiled or interpreted genesis artifact
// exists and is registered in the manifest, making it eligible for dispatch
// through CODE.EXEC.v1/SHELL.EXEC.v1 going forward.
type GenesisLoadHandler struct{}

func (GenesisLoadHandler) ActionID() string { return "GENESIS.LOAD.v1" }
func (GenesisLoadHandler) Request() any     { return &GenesisLoadRequest{} }

func (GenesisLoadHandler) Execute(ctx context.Context, args map[string]any) *Result {
	name, err := sanitizeGenesisName(argString(args, "name"))
	if err != nil {
		return ErrorResult("GENESIS.LOAD.v1", ErrInvalidInput, err.Error())
	}
	workspace := sandboxWorkspace(ctx)
	path := filepath.Join(workspace, "toolpacks", "runtime_genesis", "src", "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrorResult("GENESIS.LOAD.v1", ErrNotFound, "no genesis manifest")
	}
	var entries []genesisManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return ErrorResult("GENESIS.LOAD.v1", ErrParse, err.Error())
	}
	for _, e := range entries {
		if e.Name == name {
			if !fileExists(e.Path) {
				return ErrorResult("GENESIS.LOAD.v1", ErrNotFound, "artifact missing on disk: "+e.Path)
			}
			return NewResult(fmt.Sprintf("loaded %s (%s) from %s", e.Name, e.Language, e.Path))
		}
	}
	return ErrorResult("GENESIS.LOAD.v1", ErrNotFound, "no genesis tool named "+name)
}
