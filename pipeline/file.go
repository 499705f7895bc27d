package pipeline

import (
	"context"
	"errors"

	"github.com/binzume/rignorm/rig"
)

// RetargetFile normalizes one asset against a reference and writes a GLB.
func (p *Pipeline) RetargetFile(ctx context.Context, refPath, srcPath, outPath string) (*Report, error) {
	if err := checkExists(refPath, ErrReferenceNotFound); err != nil {
		return nil, err
	}
	if err := checkExists(srcPath, ErrInputNotFound); err != nil {
		return nil, err
	}
	p.logger.Info("loading reference", "path", refPath)
	ref, err := LoadReference(refPath)
	if err != nil {
		return nil, err
	}
	p.logger.Info("reference loaded", "bones", ref.Len())
	return p.convertFile(ctx, ref, srcPath, outPath, p.profile.ExportUnskinned)
}

func (p *Pipeline) convertFile(ctx context.Context, ref *rig.ReferenceRestState, srcPath, outPath string, exportUnskinned bool) (*Report, error) {
	scene := &rig.Scene{}
	defer scene.Reset()

	p.logger.Info("processing", "path", srcPath)
	m, err := LoadModel(srcPath)
	if err != nil {
		return nil, err
	}
	scene.Add(m)
	rep, err := p.Process(ctx, ref, m)
	if errors.Is(err, rig.ErrNoSkeleton) && p.profile.MeshOnlyPassthrough {
		p.logger.Info("mesh-only part, exporting as-is", "asset", m.Name)
		rep = &Report{Asset: m.Name}
		exportUnskinned = true
	} else if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.save(m, outPath, exportUnskinned); err != nil {
		return nil, err
	}
	return rep, nil
}

// CollapseFile applies only the weight collapse rules to an already
// normalized asset.
func (p *Pipeline) CollapseFile(ctx context.Context, inPath, outPath string) (*Report, error) {
	scene := &rig.Scene{}
	defer scene.Reset()

	m, err := LoadModel(inPath)
	if err != nil {
		return nil, err
	}
	scene.Add(m)
	if err := m.CheckSkeleton(); err != nil {
		return nil, err
	}
	p.logger.Info("armature", "asset", m.Name, "bones", m.Skeleton.Len())

	rep := &Report{Asset: m.Name}
	for _, rule := range p.profile.Collapse {
		res, err := rig.CollapseByRule(m, rule)
		if err != nil {
			return nil, err
		}
		rep.Collapsed = append(rep.Collapsed, res)
	}
	p.logger.Info("collapsed weights", "vertices", rep.CollapsedVertices())
	if rep.CollapsedVertices() == 0 {
		rep.warnf("no weights found to collapse, already processed?")
		p.logger.Warn(rep.Warnings[len(rep.Warnings)-1])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.save(m, outPath, p.profile.ExportUnskinned); err != nil {
		return nil, err
	}
	return rep, nil
}
