package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"phaseflow/internal/config"
	"phaseflow/internal/job"
	"phaseflow/internal/logger"
	"phaseflow/internal/notify"
	"phaseflow/internal/orchestrator"
	"phaseflow/internal/solver"
	"phaseflow/internal/watch"
)

var (
	dataDir    string
	configFile string

	equation   string
	jobName    string
	paramFlags []string
	icFlags    []string
	presetName string
	t0         float64
	tf         float64
	solverName string
	relTol     float64
	absTol     float64
	points     int
	maxSteps   int
	timeout    time.Duration
	bound      float64
	live       bool

	plotVar  string
	plotTraj int
	outFile  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "phaseflow",
		Short: "equation-driven phase portrait solver",
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".phaseflow", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "submit an equation system and wait for the result",
		RunE:  runJob,
	}
	runCmd.Flags().StringVar(&equation, "eq", "", "equation text, e.g. '{D(x), D(y)} == {x - y, x*y}'")
	runCmd.Flags().StringVar(&jobName, "name", "", "job name")
	runCmd.Flags().StringArrayVar(&paramFlags, "param", nil, "parameter value as name=value (repeatable)")
	runCmd.Flags().StringArrayVar(&icFlags, "ic", nil, "initial condition as comma-separated values (repeatable)")
	runCmd.Flags().StringVar(&presetName, "preset", "", "use a named preset system")
	runCmd.Flags().Float64Var(&t0, "t0", 0, "span start")
	runCmd.Flags().Float64Var(&tf, "tf", 10, "span end")
	runCmd.Flags().StringVar(&solverName, "solver", "", "solver backend")
	runCmd.Flags().Float64Var(&relTol, "rtol", config.DefaultRelTol, "relative tolerance")
	runCmd.Flags().Float64Var(&absTol, "atol", config.DefaultAbsTol, "absolute tolerance")
	runCmd.Flags().IntVar(&points, "points", config.DefaultPoints, "output samples per trajectory")
	runCmd.Flags().IntVar(&maxSteps, "max-steps", config.DefaultMaxSteps, "accepted step budget")
	runCmd.Flags().DurationVar(&timeout, "timeout", config.DefaultMaxWall, "wall clock budget per trajectory")
	runCmd.Flags().Float64Var(&bound, "bound", config.DefaultBound, "divergence bound on state magnitude")
	runCmd.Flags().BoolVar(&live, "live", false, "show live progress view")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list jobs",
		RunE:  listJobs,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [job_id]",
		Short: "plot job trajectories",
		Args:  cobra.ExactArgs(1),
		RunE:  plotJob,
	}
	plotCmd.Flags().StringVar(&plotVar, "var", "", "state variable to plot (default: all)")
	plotCmd.Flags().IntVar(&plotTraj, "traj", 0, "trajectory index")

	exportCmd := &cobra.Command{
		Use:   "export [job_id]",
		Short: "export job record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJob,
	}
	exportCmd.Flags().StringVar(&outFile, "out", "", "output file (default: stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available preset systems",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEQUATION")
			for _, name := range config.ListPresets() {
				fmt.Fprintf(w, "%s\t%s\n", name, config.GetPreset(name).Source)
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, exportCmd, presetsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(configFile)
}

func openStore(cfg *config.Config, cmd *cobra.Command) (*job.FileStore, error) {
	dir := dataDir
	if !cmd.Flags().Changed("data") && cfg.DataDir != "" {
		dir = cfg.DataDir
	}
	st := job.NewFileStore(dir)
	if err := st.Init(); err != nil {
		return nil, err
	}
	return st, nil
}

func runJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if presetName != "" {
		p := config.GetPreset(presetName)
		if p == nil {
			return fmt.Errorf("unknown preset: %s (available: %v)", presetName, config.ListPresets())
		}
		if !cmd.Flags().Changed("eq") {
			equation = p.Source
		}
		if !cmd.Flags().Changed("t0") {
			t0 = p.T0
		}
		if !cmd.Flags().Changed("tf") {
			tf = p.Tf
		}
		if len(icFlags) == 0 {
			for _, ic := range p.ICs {
				parts := make([]string, len(ic))
				for i, v := range ic {
					parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
				}
				icFlags = append(icFlags, strings.Join(parts, ","))
			}
		}
		if len(paramFlags) == 0 {
			for name, v := range p.Params {
				paramFlags = append(paramFlags, fmt.Sprintf("%s=%v", name, v))
			}
		}
	}
	if equation == "" {
		return fmt.Errorf("no equation given (use --eq or --preset)")
	}

	params, err := parseParams(paramFlags)
	if err != nil {
		return err
	}
	ics, err := parseICs(icFlags)
	if err != nil {
		return err
	}

	if !cmd.Flags().Changed("solver") {
		solverName = cfg.Solver
	}
	if !cmd.Flags().Changed("rtol") {
		relTol = cfg.Tol.Rel
	}
	if !cmd.Flags().Changed("atol") {
		absTol = cfg.Tol.Abs
	}
	if !cmd.Flags().Changed("points") {
		points = cfg.Limits.Points
	}
	if !cmd.Flags().Changed("max-steps") {
		maxSteps = cfg.Limits.MaxSteps
	}
	if !cmd.Flags().Changed("timeout") {
		timeout = cfg.Limits.MaxWall
	}
	if !cmd.Flags().Changed("bound") {
		bound = cfg.Limits.Bound
	}

	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	store, err := openStore(cfg, cmd)
	if err != nil {
		return err
	}

	bus := notify.NewBus()
	orc := orchestrator.New(
		orchestrator.Config{Workers: cfg.Workers, QueueDepth: cfg.Queue},
		store, bus, log,
	)
	orc.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orc.Close(ctx)
	}()

	rec, err := orc.Submit(context.Background(), orchestrator.SubmitRequest{
		Name:         jobName,
		Source:       equation,
		Parameters:   params,
		InitialConds: ics,
		Span:         solver.Span{T0: t0, Tf: tf},
		Solver:       solverName,
		Options: solver.Options{
			RelTol:          relTol,
			AbsTol:          absTol,
			MaxSteps:        maxSteps,
			MaxWall:         timeout,
			Points:          points,
			DivergenceBound: bound,
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("job id: %s\n", rec.ID)
	fmt.Printf("system: %v  dimension %d\n", rec.Vars, len(rec.Vars))

	if !rec.State.Terminal() {
		events, cancel := orc.Subscribe(rec.ID)
		defer cancel()

		if live {
			err = streamLive(orc, rec, events)
		} else {
			err = streamText(rec.ID, events)
		}
		if err != nil {
			return err
		}
	}

	final, err := orc.Result(context.Background(), rec.ID)
	if err != nil {
		return err
	}
	return printSummary(final)
}

// streamText prints lifecycle events as styled lines until the job's
// stream closes.
func streamText(jobID string, events <-chan notify.Event) error {
	for ev := range events {
		switch ev.Kind {
		case notify.KindStatusChanged:
			fmt.Printf("state: %s\n", watch.StateStyle(ev.State).Render(string(ev.State)))
		case notify.KindTrajectoryCompleted:
			fmt.Printf("trajectory %d done (%d samples)\n", ev.Index, len(ev.Trajectory.Times))
		case notify.KindProgress:
			fmt.Printf("progress: %.0f%%\n", ev.Fraction*100)
		case notify.KindJobFailed:
			fmt.Printf("state: %s  %s\n", watch.StateStyle(job.StateFailed).Render("failed"), ev.Reason)
		case notify.KindJobFinished:
			fmt.Printf("state: %s\n", watch.StateStyle(job.StateFinished).Render("finished"))
		}
	}
	return nil
}

func streamLive(orc *orchestrator.Orchestrator, rec *job.Record, events <-chan notify.Event) error {
	cancelJob := func() {
		_ = orc.Cancel(context.Background(), rec.ID)
	}
	m := watch.New(rec.ID, rec.Source, len(rec.InitialConds), events, cancelJob)
	_, err := tea.NewProgram(m).Run()
	return err
}

func printSummary(rec *job.Record) error {
	fmt.Printf("\nstate: %s\n", watch.StateStyle(rec.State).Render(string(rec.State)))
	if rec.FinishedAt != nil {
		fmt.Printf("elapsed: %v\n", rec.FinishedAt.Sub(rec.CreatedAt).Round(time.Millisecond))
	}
	if rec.Reason != "" {
		fmt.Printf("reason: %s\n", rec.Reason)
	}
	if rec.Result == nil {
		return nil
	}
	for _, w := range rec.Result.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	if len(rec.Result.Trajectories) == 0 {
		return nil
	}

	fmt.Printf("trajectories: %d  samples: %d\n\n", len(rec.Result.Trajectories), len(rec.Result.Times))

	// preview: first state variable of the first trajectory
	traj := rec.Result.Trajectories[0]
	data := make([]float64, len(traj))
	for i, state := range traj {
		data[i] = state[0]
	}
	caption := "x0 vs time"
	if len(rec.Vars) > 0 {
		caption = rec.Vars[0] + " vs time"
	}
	fmt.Println(asciigraph.Plot(data,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	))
	return nil
}

func listJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, cmd)
	if err != nil {
		return err
	}

	recs, err := store.List(context.Background())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("no jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tCREATED\tSOLVER\tVARS\tICS")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			rec.ID,
			rec.Name,
			rec.State,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			rec.Solver,
			strings.Join(rec.Vars, ","),
			len(rec.InitialConds),
		)
	}
	return w.Flush()
}

func plotJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, cmd)
	if err != nil {
		return err
	}

	rec, err := store.Load(context.Background(), args[0])
	if err != nil {
		return err
	}
	if rec.Result == nil || len(rec.Result.Trajectories) == 0 {
		return fmt.Errorf("job %s has no trajectory data (state: %s)", rec.ID, rec.State)
	}
	if plotTraj < 0 || plotTraj >= len(rec.Result.Trajectories) {
		return fmt.Errorf("trajectory index %d out of range (job has %d)", plotTraj, len(rec.Result.Trajectories))
	}
	traj := rec.Result.Trajectories[plotTraj]

	fmt.Printf("job: %s\n", rec.ID)
	fmt.Printf("system: %s\n", rec.Source)
	fmt.Printf("samples: %d\n\n", len(traj))

	for idx, name := range rec.Vars {
		if plotVar != "" && plotVar != name {
			continue
		}
		data := make([]float64, len(traj))
		for i := range traj {
			data[i] = traj[i][idx]
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s vs time", name)),
		))
		fmt.Println()
	}
	return nil
}

func exportJob(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg, cmd)
	if err != nil {
		return err
	}

	rec, err := store.Load(context.Background(), args[0])
	if err != nil {
		return err
	}

	out := os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func parseParams(flags []string) (map[string]float64, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	params := make(map[string]float64, len(flags))
	for _, kv := range flags {
		name, val, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid parameter %q, expected name=value", kv)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter value in %q: %w", kv, err)
		}
		params[strings.TrimSpace(name)] = v
	}
	return params, nil
}

func parseICs(flags []string) ([][]float64, error) {
	ics := make([][]float64, 0, len(flags))
	for _, raw := range flags {
		parts := strings.Split(raw, ",")
		ic := make([]float64, 0, len(parts))
		for _, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid initial condition %q: %w", raw, err)
			}
			ic = append(ic, v)
		}
		ics = append(ics, ic)
	}
	return ics, nil
}
