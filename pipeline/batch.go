package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/binzume/rignorm/rig"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

type BatchOptions struct {
	SourceDir string
	OutputDir string
	// ReferencePath is optional. Without it assets are only renamed.
	ReferencePath string
	// OnItem is called after every asset, successful or not.
	OnItem func(item *BatchItem)
	// OnStart is called once the inputs are discovered.
	OnStart func(total int)
}

type BatchItem struct {
	Source string
	Output string
	Report *Report
	Err    error
}

type BatchReport struct {
	RunID     string
	Items     []*BatchItem
	Succeeded int
	Failed    int
	Elapsed   time.Duration
}

// inputPatterns cover every extension LoadModel reads besides FBX.
var inputPatterns = []string{"**/*.glb", "**/*.gltf", "**/*.pmx", "**/*.pmd"}

// FindInputs lists FBX files (falling back to upper-case .FBX), glTF and MMD
// files under dir, relative to it, sorted. Files under skip are left out.
func FindInputs(dir, skip string) ([]string, error) {
	fsys := os.DirFS(dir)
	files, err := doublestar.Glob(fsys, "**/*.fbx")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		if files, err = doublestar.Glob(fsys, "**/*.FBX"); err != nil {
			return nil, err
		}
	}
	for _, pattern := range inputPatterns {
		more, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, err
		}
		files = append(files, more...)
	}
	r := files[:0]
	for _, rel := range files {
		if !isUnder(filepath.Join(dir, filepath.FromSlash(rel)), skip) {
			r = append(r, rel)
		}
	}
	sort.Strings(r)
	return r, nil
}

// isUnder reports whether path is dir or lies inside it.
func isUnder(path, dir string) bool {
	if dir == "" {
		return false
	}
	ap, err1 := filepath.Abs(path)
	ad, err2 := filepath.Abs(dir)
	if err1 != nil || err2 != nil {
		return false
	}
	rel, err := filepath.Rel(ad, ap)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// OutputPath mirrors a relative source path into dir with a .glb extension.
func OutputPath(dir, rel string) string {
	rel = filepath.FromSlash(rel)
	return filepath.Join(dir, strings.TrimSuffix(rel, filepath.Ext(rel))+".glb")
}

// RunBatch converts every asset under SourceDir. A failing asset is logged
// and counted; it never stops the run.
func (p *Pipeline) RunBatch(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	start := time.Now()
	rep := &BatchReport{RunID: uuid.NewString()}
	logger := p.logger.With("run", rep.RunID)

	if err := checkExists(opts.SourceDir, ErrInputNotFound); err != nil {
		return nil, err
	}
	var ref *rig.ReferenceRestState
	if opts.ReferencePath != "" {
		logger.Info("loading reference", "path", opts.ReferencePath)
		r, err := LoadReference(opts.ReferencePath)
		if err != nil {
			return nil, err
		}
		ref = r
		logger.Info("reference loaded", "bones", ref.Len())
	}

	files, err := FindInputs(opts.SourceDir, opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoInputs, opts.SourceDir)
	}
	logger.Info("found inputs", "count", len(files))
	if opts.OnStart != nil {
		opts.OnStart(len(files))
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		item := &BatchItem{
			Source: filepath.Join(opts.SourceDir, filepath.FromSlash(rel)),
			Output: OutputPath(opts.OutputDir, rel),
		}
		item.Report, item.Err = p.convertFile(ctx, ref, item.Source, item.Output, true)
		if item.Err != nil {
			rep.Failed++
			logger.Error("failed", "path", item.Source, "err", item.Err)
		} else {
			rep.Succeeded++
		}
		rep.Items = append(rep.Items, item)
		if opts.OnItem != nil {
			opts.OnItem(item)
		}
	}
	rep.Elapsed = time.Since(start)
	logger.Info("done", "converted", rep.Succeeded, "failed", rep.Failed, "total", len(files), "elapsed", rep.Elapsed)
	return rep, nil
}
