// Package validation statically checks submitted agent code before it
// is accepted into the arena.
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rl-arena/rl-arena-executor/sandbox"

	"github.com/Shopify/go-lua"
	"github.com/rs/zerolog/log"
)

// Result is the outcome of validating one agent submission. Errors
// make the submission invalid; warnings do not.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// Options bounds what a submission may contain.
type Options struct {
	// WorkDir is where submissions are staged for inspection.
	WorkDir string
	// MaxCodeBytes caps total staged bytes.
	MaxCodeBytes int64
	// MaxLines caps the line count of any single source file.
	MaxLines int
}

// Patterns that suggest the agent reaches outside its sandbox. They
// produce warnings, not rejections; the runtime confines them anyway.
var suspectPatterns = []string{"os.execute", "os.remove", "os.rename", "io.open", "io.popen", "loadstring", "loadfile", "dofile"}

// Validate stages and inspects the code at location. Image references
// cannot be inspected statically and pass with a warning.
func Validate(ctx context.Context, location string, opts Options) Result {
	if sandbox.DetectKind(location) == sandbox.KindImage {
		return Result{
			Valid:    true,
			Warnings: []string{"image-based agent is validated at runtime, not statically"},
		}
	}

	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
			return invalid(fmt.Sprintf("staging failed: %v", err))
		}
	}
	stageDir, err := os.MkdirTemp(opts.WorkDir, "validate-")
	if err != nil {
		return invalid(fmt.Sprintf("staging failed: %v", err))
	}
	defer os.RemoveAll(stageDir)

	if _, err := sandbox.Stage(ctx, location, stageDir, opts.MaxCodeBytes); err != nil {
		return invalid(fmt.Sprintf("staging failed: %v", err))
	}

	res := Result{Valid: true}
	if _, err := sandbox.FindEntry(stageDir); err != nil {
		res.addError(err.Error())
	}

	err = filepath.WalkDir(stageDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(path) != ".lua" {
			return err
		}
		rel, relErr := filepath.Rel(stageDir, path)
		if relErr != nil {
			rel = filepath.Base(path)
		}
		res.inspectSource(rel, path, opts.MaxLines)
		return nil
	})
	if err != nil {
		res.addError(fmt.Sprintf("inspection failed: %v", err))
	}

	log.Info().Str("location", location).Bool("valid", res.Valid).Int("errors", len(res.Errors)).Int("warnings", len(res.Warnings)).Msg("validation: finished")
	return res
}

func invalid(msg string) Result {
	return Result{Valid: false, Errors: []string{msg}}
}

func (r *Result) addError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}

func (r *Result) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// inspectSource checks one Lua file: line budget, compilability, and
// suspect runtime calls.
func (r *Result) inspectSource(rel, path string, maxLines int) {
	src, err := os.ReadFile(path)
	if err != nil {
		r.addError(fmt.Sprintf("%s: unreadable: %v", rel, err))
		return
	}

	if maxLines > 0 {
		if lines := strings.Count(string(src), "\n") + 1; lines > maxLines {
			r.addError(fmt.Sprintf("%s: %d lines exceeds limit of %d", rel, lines, maxLines))
		}
	}

	// Compile without executing
	l := lua.NewState()
	if err := lua.LoadFile(l, path, ""); err != nil {
		r.addError(fmt.Sprintf("%s: syntax error: %v", rel, err))
		return
	}

	for _, pattern := range suspectPatterns {
		if strings.Contains(string(src), pattern) {
			r.addWarning(fmt.Sprintf("%s: uses %s", rel, pattern))
		}
	}
}
