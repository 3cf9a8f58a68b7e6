// Command stochlab-run drives a linear-Gaussian falling-ball demo system
// (the teacher's examples/fall/main.go model, generalized to a
// YAML-configured model.LinearModel) through a Kalman filter run and writes
// a trajectory plot, grounded on the teacher's examples/*/main.go shape:
// build a model, build a filter, loop Run across simulated steps, plot the
// result. The command line is a single github.com/spf13/cobra root command
// whose --config flag names the YAML configuration file (cobra is pulled in
// from the wider example pack rather than the teacher, which hard-coded its
// example parameters directly in main).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/vg"
	"gopkg.in/yaml.v3"

	"github.com/axleford/stochlab/dist"
	"github.com/axleford/stochlab/diagplot"
	"github.com/axleford/stochlab/gauss"
	"github.com/axleford/stochlab/internal/rng"
	"github.com/axleford/stochlab/kalman/kf"
	"github.com/axleford/stochlab/model"
)

// Config is the YAML-described run configuration.
type Config struct {
	Steps int       `yaml:"steps"`
	Seed  uint64    `yaml:"seed"`
	DT    float64   `yaml:"dt"`
	Init  []float64 `yaml:"init_state"`
	InitCov []float64 `yaml:"init_cov_diag"`
	ProcessNoiseVar     []float64 `yaml:"process_noise_var"`
	MeasurementNoiseVar []float64 `yaml:"measurement_noise_var"`
	PlotPath string `yaml:"plot_path"`
}

func defaultConfig() Config {
	return Config{
		Steps:               50,
		Seed:                1,
		DT:                  0.1,
		Init:                []float64{100, 0},
		InitCov:             []float64{1, 1},
		ProcessNoiseVar:     []float64{0.01, 0.01},
		MeasurementNoiseVar: []float64{0.25},
		PlotPath:            "stochlab-run.png",
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func fallModel(dt float64) (*model.LinearModel, error) {
	A := mat.NewDense(2, 2, []float64{1, dt, 0, 1})
	B := mat.NewDense(2, 1, []float64{-0.5 * dt * dt, -dt})
	C := mat.NewDense(1, 2, []float64{1, 0})
	return model.NewLinearModel(A, B, C, nil)
}

func diag(values []float64) *mat.SymDense {
	n := len(values)
	d := mat.NewSymDense(n, nil)
	for i, v := range values {
		d.SetSym(i, i, v)
	}
	return d
}

func run(cfg Config, logger *slog.Logger) error {
	m, err := fallModel(cfg.DT)
	if err != nil {
		return fmt.Errorf("building model: %w", err)
	}

	init := gauss.New(mat.NewVecDense(2, cfg.Init), diag(cfg.InitCov))
	q, err := dist.NewGaussian(mat.NewVecDense(2, nil), diag(cfg.ProcessNoiseVar))
	if err != nil {
		return fmt.Errorf("building process noise: %w", err)
	}
	r, err := dist.NewGaussian(mat.NewVecDense(1, nil), diag(cfg.MeasurementNoiseVar))
	if err != nil {
		return fmt.Errorf("building measurement noise: %w", err)
	}

	filter, err := kf.New(m, init, q, r)
	if err != nil {
		return fmt.Errorf("building filter: %w", err)
	}

	src := rng.New(cfg.Seed)
	dyn := m.Dynamics()
	meas := m.Measurement()

	x := mat.NewVecDense(2, cfg.Init)
	g := mat.NewVecDense(1, []float64{9.81})

	var truth, measured, filtered []mat.Vector
	for t := 0; t < cfg.Steps; t++ {
		xNext, err := dyn(x, g, nil, t)
		if err != nil {
			return fmt.Errorf("simulating dynamics at t=%d: %w", t, err)
		}
		xv := mat.NewVecDense(xNext.Len(), nil)
		xv.CloneFromVec(xNext)
		xv.AddVec(xv, q.Sample(src))
		x = xv

		y, err := meas(x, g, nil, t)
		if err != nil {
			return fmt.Errorf("simulating measurement at t=%d: %w", t, err)
		}
		yv := mat.NewVecDense(y.Len(), nil)
		yv.CloneFromVec(y)
		yv.AddVec(yv, r.Sample(src))

		ll, err := filter.Run(g, yv)
		if err != nil {
			return fmt.Errorf("filter step %d failed: %w", t, err)
		}
		logger.Debug("filter step", "t", t, "loglik", ll, "state", fmt.Sprint(mat.Formatted(filter.State())))

		truth = append(truth, cloneVec(x))
		measured = append(measured, cloneVec(yv))
		filtered = append(filtered, cloneVec(filter.State()))
	}

	logger.Info("run complete", "steps", cfg.Steps, "total_loglik", filter.Loglik())

	// measured only carries a 1-D altitude reading, so it cannot join the
	// 2-D (position, velocity) trajectory scatter; truth and filtered share
	// the 2-D state space and get the scatter, measured gets its own series
	// plot.
	p, err := diagplot.TrajectoryPlot("Falling ball", truth, nil, filtered)
	if err != nil {
		return fmt.Errorf("building plot: %w", err)
	}
	if err := diagplot.Save(p, 6*vg.Inch, 4*vg.Inch, cfg.PlotPath); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	logger.Info("wrote plot", "path", cfg.PlotPath)

	altitudes := make([]float64, len(measured))
	for i, m := range measured {
		altitudes[i] = m.AtVec(0)
	}
	measPlot, err := diagplot.SeriesPlot("Measured altitude", "altitude", altitudes)
	if err != nil {
		return fmt.Errorf("building measurement plot: %w", err)
	}
	measPath := cfg.PlotPath + ".measurements.png"
	if err := diagplot.Save(measPlot, 6*vg.Inch, 4*vg.Inch, measPath); err != nil {
		return fmt.Errorf("saving measurement plot: %w", err)
	}
	logger.Info("wrote measurement plot", "path", measPath)
	return nil
}

func cloneVec(v mat.Vector) mat.Vector {
	out := mat.NewVecDense(v.Len(), nil)
	out.CloneFromVec(v)
	return out
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	var configPath string

	root := &cobra.Command{
		Use:   "stochlab-run",
		Short: "Run a stochlab filter over a simulated trajectory and plot the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return run(cfg, logger)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML run configuration")

	if err := root.Execute(); err != nil {
		logger.Error("run failed", "err", err)
		os.Exit(1)
	}
}
