package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/binzume/rignorm/rig"
	"github.com/fsnotify/fsnotify"
)

type WatchOptions struct {
	SourceDir     string
	OutputDir     string
	ReferencePath string
	// OnReady is called once the watcher is installed.
	OnReady func()
	// OnItem is called after every converted asset.
	OnItem func(item *BatchItem)
}

func addWatchTree(w *fsnotify.Watcher, dir, skip string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if isUnder(path, skip) {
				return filepath.SkipDir
			}
			return w.Add(path)
		}
		return nil
	})
}

// Watch converts assets created or written under SourceDir until ctx is done.
// Events are handled one at a time. OutputDir is never watched, even when it
// lies inside SourceDir.
func (p *Pipeline) Watch(ctx context.Context, opts WatchOptions) error {
	if err := checkExists(opts.SourceDir, ErrInputNotFound); err != nil {
		return err
	}
	if isUnder(opts.SourceDir, opts.OutputDir) {
		return fmt.Errorf("output dir %s contains the source dir", opts.OutputDir)
	}
	var ref *rig.ReferenceRestState
	if opts.ReferencePath != "" {
		r, err := LoadReference(opts.ReferencePath)
		if err != nil {
			return err
		}
		ref = r
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := addWatchTree(w, opts.SourceDir, opts.OutputDir); err != nil {
		return err
	}
	p.logger.Info("watching", "dir", opts.SourceDir)
	if opts.OnReady != nil {
		opts.OnReady()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("watch", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if st, err := os.Stat(ev.Name); err != nil {
				continue
			} else if st.IsDir() {
				if ev.Has(fsnotify.Create) {
					if err := addWatchTree(w, ev.Name, opts.OutputDir); err != nil {
						p.logger.Error("watch", "dir", ev.Name, "err", err)
					}
				}
				continue
			}
			if !isSupported(ev.Name) || isUnder(ev.Name, opts.OutputDir) {
				continue
			}
			rel, err := filepath.Rel(opts.SourceDir, ev.Name)
			if err != nil {
				continue
			}
			item := &BatchItem{Source: ev.Name, Output: OutputPath(opts.OutputDir, filepath.ToSlash(rel))}
			item.Report, item.Err = p.convertFile(ctx, ref, item.Source, item.Output, p.profile.ExportUnskinned)
			if item.Err != nil {
				p.logger.Error("failed", "path", item.Source, "err", item.Err)
			}
			if opts.OnItem != nil {
				opts.OnItem(item)
			}
		}
	}
}
