package patcher

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"kr.dev/diff"

	"github.com/gomlx/rocmbuild/internal/fsutil"
)

// FilePatch is the list of transforms applied, in order, to one file.
type FilePatch struct {
	Name string

	// Path of the file, relative to the project root, using "/" as separator.
	Path string

	Transforms []Transform
}

// ApplyText applies all the transforms to text. It returns the new text and the names of the transforms that
// changed it.
func (p FilePatch) ApplyText(text string) (string, []string) {
	var applied []string
	for _, t := range p.Transforms {
		var changed bool
		text, changed = t.Apply(text)
		if changed {
			applied = append(applied, t.Name)
		}
	}
	return text, applied
}

// Outcome of patching one file.
type Outcome int

//go:generate go tool enumer -type=Outcome -trimprefix=Outcome patch.go

const (
	// OutcomeSkipped means the file was not found.
	OutcomeSkipped Outcome = iota

	// OutcomeUnchanged means the file was already patched, and it was not written.
	OutcomeUnchanged

	// OutcomePatched means the file content changed (or would change, in dry-run mode).
	OutcomePatched

	// OutcomeFailed means the file couldn't be read or written.
	OutcomeFailed
)

// Result of patching one file.
type Result struct {
	Patch   string
	Path    string
	Outcome Outcome

	// Applied lists the names of the transforms that changed the file.
	Applied []string

	Err error
}

// Options for Apply.
type Options struct {
	// Root of the project the patch paths are relative to.
	Root string

	// DryRun prints the changes instead of writing them.
	DryRun bool

	// Backup renames the original file to "<path>~" before writing the patched version.
	Backup bool

	// Out receives the progress messages. Defaults to os.Stdout.
	Out io.Writer
}

func (o *Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// Apply each of the patches independently: a missing file or a failure in one of them doesn't stop the others.
//
// Missing files are skipped with a warning. The returned error is non-nil only if some file couldn't be read or
// written, and it lists those files.
func Apply(opts Options, patches []FilePatch) ([]Result, error) {
	results := make([]Result, 0, len(patches))
	var failed []string
	for _, p := range patches {
		result := ApplyFile(opts, p)
		if result.Outcome == OutcomeFailed {
			klog.Errorf("Failed to patch %s: %+v", result.Path, result.Err)
			failed = append(failed, result.Path)
		}
		results = append(results, result)
	}
	if len(failed) > 0 {
		return results, errors.Errorf("failed to patch %d file(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return results, nil
}

// ApplyFile applies one patch to its file, overwriting it with the result.
func ApplyFile(opts Options, p FilePatch) Result {
	out := opts.out()
	path := filepath.Join(opts.Root, filepath.FromSlash(p.Path))
	result := Result{Patch: p.Name, Path: path}
	fail := func(err error) Result {
		result.Outcome = OutcomeFailed
		result.Err = err
		return result
	}

	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		fmt.Fprintf(out, "Warning: %s not found, skipping\n", path)
		result.Outcome = OutcomeSkipped
		return result
	}
	if err != nil {
		return fail(errors.Wrapf(err, "failed to stat %s", path))
	}
	if fi.IsDir() {
		return fail(errors.Errorf("%s is a directory", path))
	}

	fmt.Fprintf(out, "Patching %s...\n", path)
	contents, err := os.ReadFile(path)
	if err != nil {
		return fail(errors.Wrapf(err, "failed to read %s", path))
	}
	before := string(contents)
	after, applied := p.ApplyText(before)
	result.Applied = applied
	if after == before {
		fmt.Fprintf(out, "  - %s already patched\n", path)
		result.Outcome = OutcomeUnchanged
		return result
	}
	klog.V(1).Infof("%s: applied %s", path, strings.Join(applied, ", "))

	if opts.DryRun {
		printDiff(out, before, after)
		fmt.Fprintf(out, "  ✓ %s would be patched (dry-run)\n", path)
		result.Outcome = OutcomePatched
		return result
	}

	if opts.Backup {
		backupPath := path + "~"
		if err := os.Rename(path, backupPath); err != nil {
			return fail(errors.Wrapf(err, "failed to back up %s to %s", path, backupPath))
		}
		klog.V(1).Infof("Original saved to %s", backupPath)
	}
	if err := os.WriteFile(path, []byte(after), fi.Mode().Perm()); err != nil {
		if opts.Backup {
			fsutil.ReportError(os.Rename(path+"~", path))
		}
		return fail(errors.Wrapf(err, "failed to write %s", path))
	}
	fmt.Fprintf(out, "  ✓ Patched %s\n", path)
	result.Outcome = OutcomePatched
	return result
}

// printDiff prints the line differences between before and after, indented.
func printDiff(out io.Writer, before, after string) {
	diff.Each(func(format string, args ...any) (int, error) {
		line := fmt.Sprintf(format, args...)
		return fmt.Fprintf(out, "    %s\n", strings.TrimRight(line, "\n"))
	}, before, after)
}
