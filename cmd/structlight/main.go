// The structlight command drives the whole scanner pipeline: pattern
// generation, the capture server, calibration, reconstruction and merging.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

var usage = `usage: structlight <command> [flags]

Commands:
  patterns     write the projection pattern frames to a directory
  serve        run the capture endpoint for the camera device
  analyze      grade calibration poses by reprojection error
  calibrate    solve the rig and write the calibration bundle
  reconstruct  triangulate one decoded scan into a PLY cloud
  merge        register and merge scan clouds into one PLY
  scan360      run a full turntable sweep end to end
`

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("structlight"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	if len(args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[1], args[2:]
	switch cmd {
	case "patterns":
		return runPatterns(ctx, rest, logger)
	case "serve":
		return runServe(ctx, rest, logger)
	case "analyze":
		return runAnalyze(ctx, rest, logger)
	case "calibrate":
		return runCalibrate(ctx, rest, logger)
	case "reconstruct":
		return runReconstruct(ctx, rest, logger)
	case "merge":
		return runMerge(ctx, rest, logger)
	case "scan360":
		return runScan360(ctx, rest, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return errors.Errorf("unknown command %q", cmd)
	}
}
