package tools

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
)

// venvPath resolves the isolated virtual environment directory for a given
// name (spec.md §6 "work/venvs/<name>/ — isolated virtual environments for
// package-management actions").
func venvPath(workspace, name string) (string, error) {
	return resolveSandboxPath(filepath.Join("work", "venvs", name), workspace)
}

func ensureVenv(ctx context.Context, path string) error {
	if fileExists(filepath.Join(path, "bin", "python")) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return exec.CommandContext(ctx, "python3", "-m", "venv", path).Run()
}

// PackageInstallRequest is the input schema for PACKAGE.INSTALL.v1.
type PackageInstallRequest struct {
	Venv    string `json:"venv" jsonschema:"required"`
	Package string `json:"package" jsonschema:"required"`
}

type PackageInstallHandler struct{}

func (PackageInstallHandler) ActionID() string { return "PACKAGE.INSTALL.v1" }
func (PackageInstallHandler) Request() any     { return &PackageInstallRequest{} }

func (PackageInstallHandler) Execute(ctx context.Context, args map[string]any) *Result {
	venv, pkg := argString(args, "venv"), argString(args, "package")
	if venv == "" || pkg == "" {
		return ErrorResult("PACKAGE.INSTALL.v1", ErrInvalidInput, "venv and package are required")
	}
	path, err := venvPath(sandboxWorkspace(ctx), venv)
	if err != nil {
		return ErrorResult("PACKAGE.INSTALL.v1", ErrPathOutsideSandbox, err.Error())
	}
	if err := ensureVenv(ctx, path); err != nil {
		return ErrorResult("PACKAGE.INSTALL.v1", ErrIO, err.Error())
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, filepath.Join(path, "bin", "pip"), "install", pkg)
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ErrorResult("PACKAGE.INSTALL.v1", ErrTimeout, "install timed out")
		}
		return ErrorResult("PACKAGE.INSTALL.v1", ErrTool, out.String())
	}
	return NewResult("installed " + pkg + " into " + venv)
}

// PackageUninstallRequest is the input schema for PACKAGE.UNINSTALL.v1.
type PackageUninstallRequest struct {
	Venv    string `json:"venv" jsonschema:"required"`
	Package string `json:"package" jsonschema:"required"`
}

type PackageUninstallHandler struct{}

func (PackageUninstallHandler) ActionID() string { return "PACKAGE.UNINSTALL.v1" }
func (PackageUninstallHandler) Request() any     { return &PackageUninstallRequest{} }

func (PackageUninstallHandler) Execute(ctx context.Context, args map[string]any) *Result {
	venv, pkg := argString(args, "venv"), argString(args, "package")
	if venv == "" || pkg == "" {
		return ErrorResult("PACKAGE.UNINSTALL.v1", ErrInvalidInput, "venv and package are required")
	}
	path, err := venvPath(sandboxWorkspace(ctx), venv)
	if err != nil {
		return ErrorResult("PACKAGE.UNINSTALL.v1", ErrPathOutsideSandbox, err.Error())
	}
	if !fileExists(filepath.Join(path, "bin", "pip")) {
		return ErrorResult("PACKAGE.UNINSTALL.v1", ErrNotFound, "venv does not exist")
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, filepath.Join(path, "bin", "pip"), "uninstall", "-y", pkg)
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		return ErrorResult("PACKAGE.UNINSTALL.v1", ErrTool, out.String())
	}
	return NewResult("uninstalled " + pkg + " from " + venv)
}

// PackageListRequest is the input schema for PACKAGE.LIST.v1.
type PackageListRequest struct {
	Venv string `json:"venv" jsonschema:"required"`
}

type PackageListHandler struct{}

func (PackageListHandler) ActionID() string { return "PACKAGE.LIST.v1" }
func (PackageListHandler) Request() any     { return &PackageListRequest{} }

func (PackageListHandler) Execute(ctx context.Context, args map[string]any) *Result {
	venv := argString(args, "venv")
	if venv == "" {
		return ErrorResult("PACKAGE.LIST.v1", ErrInvalidInput, "venv is required")
	}
	path, err := venvPath(sandboxWorkspace(ctx), venv)
	if err != nil {
		return ErrorResult("PACKAGE.LIST.v1", ErrPathOutsideSandbox, err.Error())
	}
	if !fileExists(filepath.Join(path, "bin", "pip")) {
		return ErrorResult("PACKAGE.LIST.v1", ErrNotFound, "venv does not exist")
	}
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, filepath.Join(path, "bin", "pip"), "list", "--format=freeze")
	cmd.Stdout, cmd.Stderr = &out, &out
	if err := cmd.Run(); err != nil {
		return ErrorResult("PACKAGE.LIST.v1", ErrTool, out.String())
	}
	if out.Len() == 0 {
		return NewResult("no packages installed")
	}
	return NewResult(out.String())
}
