package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/structlight/structlight/align"
	"github.com/structlight/structlight/calib"
	"github.com/structlight/structlight/capture"
	"github.com/structlight/structlight/config"
	"github.com/structlight/structlight/pattern"
	"github.com/structlight/structlight/pointcloud"
	"github.com/structlight/structlight/triangulate"
)

func loadConfig(path string) (config.ScanConfig, error) {
	return config.Load(path)
}

func decodeOptions(cfg config.ScanConfig) pattern.DecodeOptions {
	return pattern.DecodeOptions{
		FixedThresholds: cfg.Decode.FixedThresholds,
		ShadowFloor:     cfg.Decode.ShadowFloor,
		MinContrast:     cfg.Decode.MinContrast,
	}
}

func boardFromConfig(cfg config.ScanConfig) calib.Board {
	return calib.Board{
		Cols:       cfg.Board.Cols,
		Rows:       cfg.Board.Rows,
		SquareSize: cfg.Board.SquareSizeMM,
	}
}

func runPatterns(_ context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("patterns", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	out := fs.String("out", "patterns", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	frames := pattern.Generate(cfg.Projector.Width, cfg.Projector.Height, cfg.Projector.Brightness)
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return errors.Wrapf(err, "creating %q", *out)
	}
	for _, f := range frames {
		if err := writeGrayPNG(filepath.Join(*out, f.Label), f.Image); err != nil {
			return errors.Wrapf(err, "writing %s", f.Label)
		}
	}
	logger.Infow("patterns written", "dir", *out, "frames", len(frames))
	return nil
}

func runServe(ctx context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	session := capture.NewSession(logger)
	return capture.Serve(ctx, cfg.Capture.Addr, session, logger)
}

func runAnalyze(_ context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	dir := fs.String("dir", "", "calibration capture tree")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("analyze needs -dir")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ds, err := calib.LoadDataset(*dir, boardFromConfig(cfg), cfg.Projector.Width, cfg.Projector.Height, logger)
	if err != nil {
		return err
	}
	c := calib.NewCalibrator(ds.Board, cfg.Projector.Width, cfg.Projector.Height, logger)
	reports, err := c.AnalyzePoses(ds)
	if err != nil {
		return err
	}
	for _, r := range reports {
		fmt.Printf("%3d  %-40s  cam %8.3f px  proj %8.3f px\n", r.Index, r.Dir, r.CamReproj, r.ProjReproj)
	}
	return nil
}

func runCalibrate(_ context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("calibrate", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	dir := fs.String("dir", "", "calibration capture tree")
	out := fs.String("out", "calibration.json", "output bundle")
	poses := fs.String("poses", "", "comma-separated pose indices to keep (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return errors.New("calibrate needs -dir")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ds, err := calib.LoadDataset(*dir, boardFromConfig(cfg), cfg.Projector.Width, cfg.Projector.Height, logger)
	if err != nil {
		return err
	}
	if *poses != "" {
		indices, err := parseIndices(*poses)
		if err != nil {
			return err
		}
		ds = ds.Select(indices...)
	}

	c := calib.NewCalibrator(ds.Board, cfg.Projector.Width, cfg.Projector.Height, logger)
	params, err := c.Calibrate(ds)
	if err != nil {
		return err
	}
	artifact, err := calib.BuildArtifact(params)
	if err != nil {
		return err
	}
	if err := calib.SaveArtifact(artifact, *out); err != nil {
		return err
	}
	logger.Infow("calibration written", "file", *out, "baseline_mm", params.T.Norm())
	return nil
}

func runReconstruct(_ context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("reconstruct", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	scan := fs.String("scan", "", "scan capture directory")
	calibFile := fs.String("calib", "calibration.json", "calibration bundle")
	out := fs.String("out", "", "output PLY (default <scan>.ply)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scan == "" {
		return errors.New("reconstruct needs -scan")
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *out == "" {
		*out = filepath.Clean(*scan) + ".ply"
	}

	cloud, err := reconstructScan(*scan, *calibFile, cfg, logger)
	if err != nil {
		return err
	}
	if err := pointcloud.WritePLYFile(cloud, *out); err != nil {
		return err
	}
	logger.Infow("scan reconstructed", "file", *out, "points", cloud.Size())
	return nil
}

func reconstructScan(scanDir, calibFile string, cfg config.ScanConfig, logger golog.Logger) (pointcloud.PointCloud, error) {
	artifact, err := calib.LoadArtifact(calibFile)
	if err != nil {
		return nil, err
	}
	geom, err := artifact.Geometry()
	if err != nil {
		return nil, err
	}
	df, err := pattern.DecodeDir(scanDir, cfg.Projector.Width, cfg.Projector.Height, decodeOptions(cfg))
	if err != nil {
		return nil, err
	}
	return triangulate.Reconstruct(df, geom, logger)
}

func runMerge(_ context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	out := fs.String("out", "merged.ply", "output PLY")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	files := fs.Args()
	if len(files) < 2 {
		return errors.New("merge needs at least two scan PLY files, in capture order")
	}

	clouds := make([]pointcloud.PointCloud, len(files))
	for i, fn := range files {
		clouds[i], err = pointcloud.ReadPLYFile(fn)
		if err != nil {
			return errors.Wrapf(err, "reading %q", fn)
		}
	}
	a := align.NewAligner(cfg.Align.VoxelSizeMM, logger)
	a.Seed = cfg.Align.Seed
	merged, err := a.MergeSequential(clouds)
	if err != nil {
		return err
	}
	if err := pointcloud.WritePLYFile(merged, *out); err != nil {
		return err
	}
	logger.Infow("merge written", "file", *out, "points", merged.Size())
	return nil
}

func runScan360(ctx context.Context, args []string, logger golog.Logger) error {
	fs := flag.NewFlagSet("scan360", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file")
	root := fs.String("root", "scans", "output directory for scan captures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}

	session := capture.NewSession(logger)
	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	goutils.PanicCapturingGo(func() {
		if err := capture.Serve(serveCtx, cfg.Capture.Addr, session, logger); err != nil {
			logger.Errorw("capture server stopped", "error", err)
		}
	})

	table, err := capture.OpenTurntable(cfg.Capture.SerialPort, logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(table.Close)

	proj, err := newWindowProjector(logger)
	if err != nil {
		return err
	}
	defer goutils.UncheckedErrorFunc(proj.Close)

	frames := pattern.Generate(cfg.Projector.Width, cfg.Projector.Height, cfg.Projector.Brightness)
	return capture.Scan360(ctx, session, proj, table, frames, *root, cfg.Capture.Steps, logger)
}

func parseIndices(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		i, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, errors.Wrapf(err, "bad pose index %q", p)
		}
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}
