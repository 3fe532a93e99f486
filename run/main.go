package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/maseology/dualdrain"
	"github.com/maseology/dualdrain/store"
	"github.com/maseology/dualdrain/sweep"
	"github.com/maseology/mmio"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	envfp   string
	verbose bool
	outdir  string
	log     = logrus.WithField("component", "dualdrain")
)

func main() {
	root := &cobra.Command{
		Use:           "dualdrain",
		Short:         "Couple a surface-water model with a sewer network",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
			if envfp != "" {
				if err := godotenv.Load(envfp); err != nil {
					return fmt.Errorf("load env (%s): %w", envfp, err)
				}
			} else {
				_ = godotenv.Load() // optional .env in the working directory
			}
			if outdir != "" {
				mmio.MakeDir(outdir)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envfp, "env", "", "environment file applied before configuration is read")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every coupling step")
	root.PersistentFlags().StringVarP(&outdir, "out", "o", "out", "output directory")
	root.AddCommand(runCmd(), sweepCmd(), calibrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("dualdrain failed")
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var dbfp, label string
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run one coupled simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt := mmio.NewTimer()
			defer tt.Lap("run complete")

			sc, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			sfc, net, err := sc.build()
			if err != nil {
				return err
			}

			mtr := dualdrain.NewMetrics("")
			col := &dualdrain.Collector{}
			opts := []dualdrain.Option{dualdrain.WithLogger(log), dualdrain.WithMetrics(mtr), dualdrain.WithObserver(col)}
			var db *store.Store
			if dbfp != "" {
				if db, err = store.Open(dbfp); err != nil {
					return err
				}
				defer db.Close()
				if _, err := db.BeginRun(sc.cfg, label); err != nil {
					return err
				}
				opts = append(opts, dualdrain.WithObserver(db))
			}

			c, err := dualdrain.NewCoupler(sc.cfg, sfc, net, opts...)
			if err != nil {
				return err
			}
			r, rerr := c.Run(cmd.Context())
			tt.Print("coupled run finished")

			if db != nil {
				if err := db.SaveReport(r); err != nil {
					log.WithError(err).Warn("failed to store report")
				}
			}
			if err := writeOutputs(c, r, col, mtr); err != nil {
				return err
			}
			printReport(r)
			return rerr
		},
	}
	cmd.Flags().StringVar(&dbfp, "db", "", "SQLite database receiving step records")
	cmd.Flags().StringVar(&label, "label", "", "label stored with the run")
	return cmd
}

func writeOutputs(c *dualdrain.Coupler, r dualdrain.Report, col *dualdrain.Collector, mtr *dualdrain.Metrics) error {
	if err := dualdrain.WriteLedgerCSV(filepath.Join(outdir, "ledger.csv"), c.Samples()); err != nil {
		return err
	}
	if err := dualdrain.WriteStepsCSV(filepath.Join(outdir, "steps.csv"), col.Records); err != nil {
		return err
	}
	if err := r.SaveGob(filepath.Join(outdir, "report.gob")); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(filepath.Join(outdir, "metrics.prom"), mtr.Registry())
}

func printReport(r dualdrain.Report) {
	l := r.Ledger
	fmt.Printf("\n %s steps to t = %g s\n", mmio.Thousands(int64(r.Steps)), r.Time)
	fmt.Printf("  baseline %.4g  injected %.4g  boundary %.4g  flooding %.4g m³\n", l.Baseline, l.Injected, l.Boundary, l.Flooding)
	fmt.Printf("  surface %.4g  network %.4g  outfall %.4g m³\n", l.Surface, l.Network, l.Outfall)
	fmt.Printf("  loss %.4e m³ (max |loss| %.4e)\n", l.FinalLoss, l.MaxAbsLoss)
	for _, p := range r.Points {
		fmt.Printf("  %-12s commanded %10.4g  realised %10.4g m³  RMSE %.3e  clamps %d\n", p.Name, p.Commanded, p.Realized, p.RMSE, p.Clamps)
	}
	if r.Drift != nil {
		fmt.Printf("  WARNING: %v\n", r.Drift)
	}
}

func sweeper(sc *scenario, workers int, seed int64) *sweep.Sweeper {
	sl := logrus.New()
	sl.SetLevel(logrus.WarnLevel) // per-sample coupler chatter
	return &sweep.Sweeper{
		Base:     sc.cfg,
		Params:   sc.Sweep.Params,
		Scenario: sc.build,
		Workers:  workers,
		Seed:     seed,
		Progress: !verbose,
		Log:      logrus.NewEntry(sl).WithField("component", "sweep"),
	}
}

func sweepCmd() *cobra.Command {
	var (
		n, workers int
		seed       int64
	)
	cmd := &cobra.Command{
		Use:   "sweep <scenario.yaml>",
		Short: "Latin-hypercube sweep of coupling parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt := mmio.NewTimer()
			defer tt.Lap(fmt.Sprintf("sweep complete. n processes: %v", runtime.GOMAXPROCS(0)))

			sc, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			if n <= 0 {
				n = sc.Sweep.Samples
			}
			sw := sweeper(sc, workers, seed)
			rs, err := sw.Run(cmd.Context(), n)
			if rs != nil {
				sweep.WriteResults(filepath.Join(outdir, "sweep.csv"), sw.Params, rs)
			}
			if err != nil {
				return err
			}
			if b, ok := sweep.Best(rs); ok {
				fmt.Printf("\n best sample %d (score %.4e):\n", b.K, b.Score)
				for j, p := range sw.Params {
					fmt.Printf("  %-16s %v\n", p.Name, b.X[j])
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "samples", "n", 0, "number of samples (default from the scenario)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent runs (default GOMAXPROCS)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "sampling seed (0 seeds from the clock)")
	return cmd
}

func calibrateCmd() *cobra.Command {
	var (
		ncomplex int
		seed     int64
	)
	cmd := &cobra.Command{
		Use:   "calibrate <scenario.yaml>",
		Short: "SCE-UA calibration of coupling parameters against volume conservation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tt := mmio.NewTimer()
			defer tt.Lap("calibration complete")

			sc, err := loadScenario(args[0])
			if err != nil {
				return err
			}
			sw := sweeper(sc, 0, seed)
			c, err := sw.Calibrate(cmd.Context(), ncomplex)
			if err != nil {
				return err
			}
			fmt.Printf("\n final parameters (score %.4e, %d evaluations):\n", c.Score, c.Evals)
			for j, p := range sw.Params {
				fmt.Printf("  %-16s %v\n", p.Name, c.X[j])
			}
			printReport(c.Result.Report)
			return nil
		},
	}
	cmd.Flags().IntVar(&ncomplex, "complexes", 0, "SCE complexes (default GOMAXPROCS)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "optimiser seed (0 seeds from the clock)")
	return cmd
}
