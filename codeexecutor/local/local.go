//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package local provides a CodeExecutor that executes code blocks in the local environment.
// It supports Python and Bash scripts, executing them in the current local command line.
package local

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-agent-runtime/codeexecutor"
	"trpc.group/trpc-go/trpc-agent-runtime/log"
)

var (
	_ codeexecutor.CodeExecutor      = (*CodeExecutor)(nil)
	_ codeexecutor.DataFileOptimizer = (*CodeExecutor)(nil)
	_ codeexecutor.RetryLimiter      = (*CodeExecutor)(nil)
)

// CodeExecutor that unsafely execute code in the current local command line.
type CodeExecutor struct {
	WorkDir        string        // Working directory for code execution
	Timeout        time.Duration // The timeout for the execution of any single code block
	CleanTempFiles bool          // Whether to clean temporary files after execution
	optimizeData   bool
	retryAttempts  int
}

// CodeExecutorOption defines a function type for configuring CodeExecutor
type CodeExecutorOption func(*CodeExecutor)

// WithWorkDir sets the working directory for code execution
func WithWorkDir(workDir string) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.WorkDir = workDir
	}
}

// WithTimeout sets the timeout for code execution
func WithTimeout(timeout time.Duration) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.Timeout = timeout
	}
}

// WithCleanTempFiles sets whether to clean temporary files after execution
func WithCleanTempFiles(clean bool) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.CleanTempFiles = clean
	}
}

// WithOptimizeDataFile extracts inline CSV attachments into input files.
func WithOptimizeDataFile(optimize bool) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.optimizeData = optimize
	}
}

// WithErrorRetryAttempts sets how many failed executions are tolerated per invocation.
func WithErrorRetryAttempts(n int) CodeExecutorOption {
	return func(l *CodeExecutor) {
		l.retryAttempts = n
	}
}

// New creates a new CodeExecutor with the given options
func New(options ...CodeExecutorOption) *CodeExecutor {
	executor := &CodeExecutor{
		Timeout:        10 * time.Second,
		CleanTempFiles: true,
		retryAttempts:  codeexecutor.DefaultErrorRetryAttempts,
	}
	for _, option := range options {
		option(executor)
	}
	return executor
}

// OptimizeDataFile implements codeexecutor.DataFileOptimizer.
func (e *CodeExecutor) OptimizeDataFile() bool { return e.optimizeData }

// ErrorRetryAttempts implements codeexecutor.RetryLimiter.
func (e *CodeExecutor) ErrorRetryAttempts() int { return e.retryAttempts }

// ExecuteCode executes the code in the local environment and returns the result.
// Input files are written into the working directory first; files the code
// creates there are returned as output files.
func (e *CodeExecutor) ExecuteCode(ctx context.Context, input codeexecutor.CodeExecutionInput) (codeexecutor.CodeExecutionResult, error) {
	workDir, cleanup, err := e.workDir(input.ExecutionID)
	if err != nil {
		return codeexecutor.CodeExecutionResult{}, err
	}
	defer cleanup()

	before := make(map[string]bool)
	for _, f := range input.InputFiles {
		path := filepath.Join(workDir, filepath.Base(f.Name))
		if err := os.WriteFile(path, f.Content, 0644); err != nil {
			return codeexecutor.CodeExecutionResult{}, fmt.Errorf("write input file %s: %w", f.Name, err)
		}
	}
	entries, _ := os.ReadDir(workDir)
	for _, entry := range entries {
		before[entry.Name()] = true
	}

	var stdout, stderr strings.Builder
	for i, block := range input.CodeBlocks {
		out, errOut, err := e.executeCodeBlock(ctx, workDir, block, i)
		stdout.WriteString(out)
		stderr.WriteString(errOut)
		if err != nil {
			fmt.Fprintf(&stderr, "Error executing code block %d: %v\n", i, err)
		}
		before[scriptName(block, i)] = true
	}

	return codeexecutor.CodeExecutionResult{
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		OutputFiles: collectOutputFiles(workDir, before),
	}, nil
}

func (e *CodeExecutor) workDir(executionID string) (string, func(), error) {
	noop := func() {}
	if e.WorkDir != "" {
		workDir := e.WorkDir
		if !filepath.IsAbs(workDir) {
			if abs, err := filepath.Abs(workDir); err == nil {
				workDir = abs
			}
		}
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return "", noop, fmt.Errorf("failed to create work directory: %w", err)
		}
		// User-specified work directories are never removed.
		return workDir, noop, nil
	}
	tempDir, err := os.MkdirTemp("", "codeexec_"+sanitize(executionID))
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp directory: %w", err)
	}
	if !e.CleanTempFiles {
		return tempDir, noop, nil
	}
	return tempDir, func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warnf("Failed to remove temp dir %s: %v", tempDir, err)
		}
	}, nil
}

// executeCodeBlock executes a single code block based on its language
func (e *CodeExecutor) executeCodeBlock(ctx context.Context, workDir string, block codeexecutor.CodeBlock,
	blockIndex int) (string, string, error) {
	filePath, err := e.prepareCodeFile(workDir, block, blockIndex)
	if err != nil {
		return "", "", err
	}
	if e.CleanTempFiles {
		defer func() {
			if removeErr := os.Remove(filePath); removeErr != nil {
				log.Warnf("Failed to remove temp file %s: %v", filePath, removeErr)
			}
		}()
	}
	cmdArgs := e.buildCommandArgs(block.Language, filePath)
	if len(cmdArgs) == 0 {
		return "", "", fmt.Errorf("unsupported language: %s", block.Language)
	}
	return e.executeCommand(ctx, workDir, cmdArgs)
}

func scriptName(block codeexecutor.CodeBlock, blockIndex int) string {
	switch strings.ToLower(block.Language) {
	case "python", "py", "python3", "":
		return fmt.Sprintf("code_%d.py", blockIndex)
	case "bash", "sh":
		return fmt.Sprintf("code_%d.sh", blockIndex)
	}
	return ""
}

// prepareCodeFile writes the block to disk and returns the file path.
// Blocks without a language are treated as Python, the language the model is
// asked to write in.
func (e *CodeExecutor) prepareCodeFile(workDir string, block codeexecutor.CodeBlock, blockIndex int) (string, error) {
	filename := scriptName(block, blockIndex)
	if filename == "" {
		return "", fmt.Errorf("unsupported language: %s", block.Language)
	}
	mode := os.FileMode(0644)
	if strings.HasSuffix(filename, ".sh") {
		mode = 0755
	}
	filePath := filepath.Join(workDir, filename)
	if err := os.WriteFile(filePath, []byte(block.Code), mode); err != nil {
		return "", fmt.Errorf("failed to write %s file: %w", block.Language, err)
	}
	return filePath, nil
}

// buildCommandArgs returns the command arguments for executing the file
func (e *CodeExecutor) buildCommandArgs(language, filePath string) []string {
	switch strings.ToLower(language) {
	case "python", "py", "python3", "":
		return []string{"python3", filePath}
	case "bash", "sh":
		return []string{"bash", filePath}
	default:
		return nil
	}
}

// executeCommand executes the command with proper timeout and context handling
func (e *CodeExecutor) executeCommand(ctx context.Context, workDir string, cmdArgs []string) (string, string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, cmdArgs[0], cmdArgs[1:]...) //nolint:gosec
	cmd.Dir = workDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), stderr.String(),
			fmt.Errorf("command failed (cmd=%s): %w", strings.Join(cmdArgs, " "), err)
	}
	return stdout.String(), stderr.String(), nil
}

// CodeBlockDelimiter returns the code block delimiter used by the local executor.
func (e *CodeExecutor) CodeBlockDelimiter() codeexecutor.CodeBlockDelimiter {
	return codeexecutor.CodeBlockDelimiter{
		Start: "```",
		End:   "```",
	}
}

func collectOutputFiles(workDir string, skip map[string]bool) []codeexecutor.File {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return nil
	}
	var files []codeexecutor.File
	for _, entry := range entries {
		if entry.IsDir() || skip[entry.Name()] {
			continue
		}
		content, err := os.ReadFile(filepath.Join(workDir, entry.Name()))
		if err != nil {
			log.Warnf("Failed to read output file %s: %v", entry.Name(), err)
			continue
		}
		mimeType := mime.TypeByExtension(filepath.Ext(entry.Name()))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		files = append(files, codeexecutor.File{Name: entry.Name(), Content: content, MIMEType: mimeType})
	}
	return files
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, id)
}
