package tools

// NewBuiltinRegistry builds the Registry populated with every built-in
// handler named by spec.md §4.4, plus the teacher-style legacy aliases
// (internal/tools/policy.go toolAliases) rewritten onto the new
// DOMAIN.ACTION.vN identifiers.
func NewBuiltinRegistry(mem MemoryStore, graph GraphStore) *Registry {
	r := NewRegistry()

	r.Register(ReadFileHandler{})
	r.Register(WriteFileHandler{})
	r.Register(AppendFileHandler{})
	r.Register(ListFilesHandler{})
	r.Register(SearchFilesHandler{})
	r.Register(EditFileHandler{})
	r.Register(DiffFileHandler{})
	r.Register(DeleteFileHandler{})
	r.Register(ShellExecHandler{})
	r.Register(CodeExecHandler{})
	r.Register(ProjectCreateHandler{})
	r.Register(ProjectBuildHandler{})
	r.Register(PackageInstallHandler{})
	r.Register(PackageUninstallHandler{})
	r.Register(PackageListHandler{})
	r.Register(MemoryAppendHandler{Store: mem})
	r.Register(MemoryQueryHandler{Store: mem})
	r.Register(GraphIngestHandler{Store: graph})
	r.Register(HTTPGetHandler{})
	r.Register(NewWebSearchHandler())
	r.Register(GenesisWriteHandler{})
	r.Register(GenesisCompileHandler{})
	r.Register(GenesisLoadHandler{})

	for alias, actionID := range map[string]string{
		"read_file":        "FS.READ.v1",
		"write_file":       "FS.WRITE.v1",
		"append_file":      "FS.APPEND.v1",
		"list_files":       "FS.LIST.v1",
		"search_files":     "FS.SEARCH.v1",
		"edit_file":        "FS.EDIT.v1",
		"diff_file":        "FS.DIFF.v1",
		"delete_file":      "FS.DELETE.v1",
		"shell":            "SHELL.EXEC.v1",
		"exec_code":        "CODE.EXEC.v1",
		"web_search":       "WEB.SEARCH.v1",
		"web_fetch":        "HTTP.GET.v1",
		"http_get":         "HTTP.GET.v1",
		"memory_append":    "MEMORY.APPEND.v1",
		"memory_query":     "MEMORY.QUERY.v1",
		"graph_ingest":     "GRAPH.INGEST.v1",
		"create_project":   "PROJECT.CREATE.v1",
		"build_project":    "PROJECT.BUILD.v1",
		"install_package":  "PACKAGE.INSTALL.v1",
		"uninstall_package": "PACKAGE.UNINSTALL.v1",
		"list_packages":    "PACKAGE.LIST.v1",
	} {
		r.RegisterAlias(alias, actionID)
	}

	return r
}
