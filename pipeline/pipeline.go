// Package pipeline runs the skeleton normalization stages over imported
// assets: name mapping, root insertion, extra bone removal, rest pose
// retargeting, weight collapse and verification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/binzume/rignorm/bonemap"
	"github.com/binzume/rignorm/config"
	"github.com/binzume/rignorm/retarget"
	"github.com/binzume/rignorm/rig"
	"github.com/charmbracelet/log"
)

var (
	ErrInputNotFound     = errors.New("input not found")
	ErrReferenceNotFound = errors.New("reference not found")
	ErrNoInputs          = errors.New("no input assets")
)

type Options struct {
	Profile *config.Profile
	Logger  *log.Logger
}

type Pipeline struct {
	profile *config.Profile
	logger  *log.Logger
}

func New(opts *Options) *Pipeline {
	if opts == nil {
		opts = &Options{}
	}
	p := &Pipeline{profile: opts.Profile, logger: opts.Logger}
	if p.profile == nil {
		p.profile = config.Default()
	}
	if p.logger == nil {
		p.logger = log.Default()
	}
	return p
}

func (p *Pipeline) Profile() *config.Profile {
	return p.profile
}

// Report collects what each stage did to one asset. Warnings never fail a run.
type Report struct {
	Asset        string
	Renamed      map[string]string
	RootInserted bool
	Deleted      []string
	Retarget     *retarget.Report
	Collapsed    []*rig.CollapseResult
	Deviation    *retarget.Deviation
	Warnings     []string
}

func (r *Report) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Perfect reports whether the bone set matched the reference exactly.
func (r *Report) Perfect() bool {
	return r.Deviation != nil && r.Deviation.Perfect()
}

// CollapsedVertices is the total number of vertices that received weight.
func (r *Report) CollapsedVertices() int {
	n := 0
	for _, c := range r.Collapsed {
		n += c.Vertices
	}
	return n
}

func sortedCopy(a []string) []string {
	r := append([]string(nil), a...)
	sort.Strings(r)
	return r
}

// Process normalizes the skeleton of m in place. With a nil reference only
// renaming, root insertion and weight collapse run.
func (p *Pipeline) Process(ctx context.Context, ref *rig.ReferenceRestState, m *rig.Model) (*Report, error) {
	logger := p.logger.With("asset", m.Name)
	rep := &Report{Asset: m.Name}
	if err := m.CheckSkeleton(); err != nil {
		return nil, err
	}

	var refNames map[string]bool
	if ref != nil {
		refNames = ref.NameSet()
		src := m.Skeleton.NameSet()
		shared := 0
		for n := range src {
			if refNames[n] {
				shared++
			}
		}
		logger.Debug("bones", "source", len(src), "reference", len(refNames), "shared", shared)
	}

	mapped, err := bonemap.New(p.profile.MapperOptions(refNames)).Apply(m.Skeleton)
	if err != nil {
		return nil, err
	}
	rep.Renamed = mapped.Renamed
	if len(mapped.Unmapped) > 0 {
		rep.warnf("unmapped bones: %v", sortedCopy(mapped.Unmapped))
	}
	if len(mapped.Collisions) > 0 {
		rep.warnf("rename collisions: %v", sortedCopy(mapped.Collisions))
	}
	logger.Info("renamed bones", "count", len(mapped.Renamed))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rep.RootInserted, err = rig.InsertRoot(m, p.profile.RootBone, p.profile.PelvisBone)
	if err != nil {
		return nil, err
	}
	if rep.RootInserted {
		logger.Info("inserted root bone", "name", p.profile.RootBone)
	}

	if ref != nil {
		if !p.profile.KeepExtraBones {
			rep.Deleted, err = rig.StripExtraBones(m, refNames, p.profile.DeletedWeightsPolicy())
			if err != nil {
				return nil, err
			}
			logger.Info("deleted extra bones", "count", len(rep.Deleted), "bones", rep.Deleted)
		}
		names := retarget.Measure(m.Skeleton, ref)
		if len(names.Missing) > 0 {
			rep.warnf("missing reference bones: %v", sortedCopy(names.Missing))
		}
		if len(names.Extra) > 0 {
			rep.warnf("still extra bones: %v", sortedCopy(names.Extra))
		}
		if names.Perfect() {
			logger.Info("bone set matches reference exactly", "bones", m.Skeleton.Len())
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rep.Retarget, err = retarget.Retarget(m, ref)
		if err != nil {
			return nil, err
		}
		if len(rep.Retarget.Unmatched) > 0 {
			rep.warnf("unmatched bones after cleanup: %v", sortedCopy(rep.Retarget.Unmatched))
		}
		logger.Info("retargeted rest pose", "matched", len(rep.Retarget.Matched), "levels", rep.Retarget.Levels)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, rule := range p.profile.Collapse {
		res, err := rig.CollapseByRule(m, rule)
		if err != nil {
			return nil, err
		}
		rep.Collapsed = append(rep.Collapsed, res)
	}
	if len(p.profile.Collapse) > 0 {
		logger.Info("collapsed weights", "vertices", rep.CollapsedVertices())
	}

	if ref != nil {
		rep.Deviation = retarget.Measure(m.Skeleton, ref)
		if rep.Deviation.MaxTranslation > p.profile.Epsilon {
			rep.warnf("max position difference %.6f at %s", rep.Deviation.MaxTranslation, rep.Deviation.WorstBone)
		}
		logger.Info("verified", "perfect", rep.Perfect(), "max_diff", rep.Deviation.MaxTranslation)
	}
	for _, w := range rep.Warnings {
		logger.Warn(w)
	}
	return rep, nil
}
