package permissions

import "github.com/nextlevelbuilder/machina/internal/tools"

// SideEffect enumerates the effect categories an action identifier can
// carry, used for inferring a default decision when no explicit mapping
// exists (spec.md §4.3 "Side-effect inference").
type SideEffect string

const (
	EffectFilesystemRead       SideEffect = "filesystem_read"
	EffectFilesystemWrite      SideEffect = "filesystem_write"
	EffectFilesystemDelete     SideEffect = "filesystem_delete"
	EffectNetworkIO            SideEffect = "network_io"
	EffectProcExec             SideEffect = "proc_exec"
	EffectProcessSpawn         SideEffect = "process_spawn"
	EffectProcessIntrospection SideEffect = "process_introspection"
	EffectDynamicLibraryLoad   SideEffect = "dynamic_library_load"
)

// readOnlyEffects is the set that keeps an action in the "read-only"
// class used by locked/supervised modes (spec.md §4.3: "{none} or subset
// of {filesystem_read, process_introspection} → allow").
var readOnlyEffects = map[SideEffect]bool{
	EffectFilesystemRead:       true,
	EffectProcessIntrospection: true,
}

// actionSideEffects is a static manifest of each built-in action
// identifier's declared side effects, grounded on
// internal/tools/policy.go's toolGroups table (same idea — a static
// name-to-class map — generalized from tool groups to per-action effect
// sets). Actions not listed here default to the conservative
// {filesystem_write} inference (ask), matching the spec's "err toward
// asking" posture for anything unrecognized.
var actionSideEffects = map[string][]SideEffect{
	"FS.READ.v1":    {EffectFilesystemRead},
	"FS.LIST.v1":    {EffectFilesystemRead},
	"FS.SEARCH.v1":  {EffectFilesystemRead},
	"FS.DIFF.v1":    {EffectFilesystemRead},
	"FS.WRITE.v1":   {EffectFilesystemWrite},
	"FS.APPEND.v1":  {EffectFilesystemWrite},
	"FS.EDIT.v1":    {EffectFilesystemWrite},
	"FS.DELETE.v1":  {EffectFilesystemDelete},

	"SHELL.EXEC.v1": {EffectProcExec, EffectProcessSpawn},
	"CODE.EXEC.v1":  {EffectProcExec, EffectProcessSpawn},

	"PROJECT.CREATE.v1": {EffectFilesystemWrite},
	"PROJECT.BUILD.v1":  {EffectProcExec, EffectProcessSpawn},

	"PACKAGE.INSTALL.v1":   {EffectProcExec, EffectProcessSpawn, EffectNetworkIO},
	"PACKAGE.UNINSTALL.v1": {EffectProcExec, EffectProcessSpawn},
	"PACKAGE.LIST.v1":      {EffectProcessIntrospection},

	"MEMORY.APPEND.v1": {EffectFilesystemWrite},
	"MEMORY.QUERY.v1":  {EffectFilesystemRead},
	"GRAPH.INGEST.v1":  {EffectFilesystemWrite},

	"HTTP.GET.v1":    {EffectNetworkIO},
	"WEB.SEARCH.v1":  {EffectNetworkIO},

	"GENESIS.WRITE.v1":   {EffectFilesystemWrite},
	"GENESIS.COMPILE.v1": {EffectProcExec, EffectDynamicLibraryLoad},
	"GENESIS.LOAD.v1":    {EffectDynamicLibraryLoad},
}

// RegisterSideEffects lets a caller declare (or override) the effect set
// for an action identifier outside the built-in manifest — used for
// MCP-bridged or tool-host-forwarded actions whose effects aren't known
// until the remote tool registers itself.
func RegisterSideEffects(actionID string, effects ...SideEffect) {
	actionSideEffects[actionID] = effects
}

func effectsOf(actionID string) []SideEffect {
	if effects, ok := actionSideEffects[actionID]; ok {
		return effects
	}
	return []SideEffect{EffectFilesystemWrite}
}

func isReadOnly(actionID string) bool {
	for _, e := range effectsOf(actionID) {
		if !readOnlyEffects[e] {
			return false
		}
	}
	return true
}

// inferDefault applies spec.md §4.3's inference rule: read-only effect
// sets resolve to allow, anything with a mutating/networked/dynamic
// effect resolves to ask.
func inferDefault(actionID string) tools.Decision {
	if isReadOnly(actionID) {
		return tools.DecisionAllow
	}
	return tools.DecisionAsk
}
