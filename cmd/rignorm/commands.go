package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/binzume/rignorm/fbx"
	"github.com/binzume/rignorm/pipeline"
	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
)

func defaultOutputFile(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if strings.ToLower(ext) == ".glb" {
		return base + "_retarget.glb"
	}
	return base + ".glb"
}

var retargetCmd = &cobra.Command{
	Use:   "retarget reference input [output.glb]",
	Short: "Normalize one asset against a reference skeleton",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline()
		if err != nil {
			return err
		}
		output := defaultOutputFile(args[1])
		if len(args) > 2 {
			output = args[2]
		}
		ctx, cancel := signalContext()
		defer cancel()
		rep, err := p.RetargetFile(ctx, args[0], args[1], output)
		if err != nil {
			return err
		}
		printReport(rep)
		return nil
	},
}

var batchReference string

// batchReferencePath takes the reference from the third argument or the
// --reference flag. Empty means rename only.
func batchReferencePath(args []string, flag string) (string, error) {
	if len(args) < 3 {
		return flag, nil
	}
	if flag != "" && flag != args[2] {
		return "", fmt.Errorf("reference given twice: %q and %q", args[2], flag)
	}
	return args[2], nil
}

var batchCmd = &cobra.Command{
	Use:   "batch source_dir output_dir [reference]",
	Short: "Normalize every supported asset under a directory",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		reference, err := batchReferencePath(args, batchReference)
		if err != nil {
			return err
		}
		p, logger, err := newPipeline()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		var bar *pb.ProgressBar
		rep, err := p.RunBatch(ctx, pipeline.BatchOptions{
			SourceDir:     args[0],
			OutputDir:     args[1],
			ReferencePath: reference,
			OnStart: func(total int) {
				if !noProgress {
					bar = pb.StartNew(total)
				}
			},
			OnItem: func(item *pipeline.BatchItem) {
				if bar != nil {
					bar.Increment()
				}
			},
		})
		if bar != nil {
			bar.Finish()
		}
		if err != nil {
			return err
		}
		for _, item := range rep.Items {
			if item.Err != nil {
				logger.Error("failed", "path", item.Source, "err", item.Err)
				continue
			}
			printReport(item.Report)
		}
		logger.Info("batch finished", "run", rep.RunID, "converted", rep.Succeeded, "failed", rep.Failed, "elapsed", rep.Elapsed)
		if rep.Failed > 0 {
			return errFailed
		}
		return nil
	},
}

var collapseCmd = &cobra.Command{
	Use:   "collapse input.glb [output.glb]",
	Short: "Merge finger weights into the hands of a normalized asset",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := newPipeline()
		if err != nil {
			return err
		}
		output := strings.TrimSuffix(args[0], filepath.Ext(args[0])) + "_collapsed.glb"
		if len(args) > 1 {
			output = args[1]
		}
		ctx, cancel := signalContext()
		defer cancel()
		rep, err := p.CollapseFile(ctx, args[0], output)
		if err != nil {
			return err
		}
		printReport(rep)
		return nil
	},
}

var watchReference string

var watchCmd = &cobra.Command{
	Use:   "watch source_dir output_dir",
	Short: "Normalize assets as they appear in a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, logger, err := newPipeline()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()
		return p.Watch(ctx, pipeline.WatchOptions{
			SourceDir:     args[0],
			OutputDir:     args[1],
			ReferencePath: watchReference,
			OnReady: func() {
				logger.Info("press Ctrl+C to stop")
			},
			OnItem: func(item *pipeline.BatchItem) {
				if item.Err == nil {
					printReport(item.Report)
				}
			},
		})
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchReference, "reference", "r", "", "reference skeleton (.fbx or .glb); rename only if empty")
	watchCmd.Flags().StringVarP(&watchReference, "reference", "r", "", "reference skeleton (.fbx or .glb); rename only if empty")
	dumpCmd.Flags().BoolVar(&dumpFull, "full", false, "print large arrays in full")
}

var dumpFull bool

var dumpCmd = &cobra.Command{
	Use:   "dump input.fbx",
	Short: "Print the node tree of an FBX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := fbx.Load(args[0])
		if err != nil {
			return err
		}
		return fbx.Dump(doc, cmd.OutOrStdout(), dumpFull)
	},
}
