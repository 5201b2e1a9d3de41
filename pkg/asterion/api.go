// Package asterion is the embedding API for the training manager: it
// wires the scheduler, run-history store and control surface together
// behind a single client.
package asterion

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"asterion/internal/control"
	"asterion/internal/genetic"
	"asterion/internal/model"
	"asterion/internal/population"
	"asterion/internal/sched"
	"asterion/internal/shm"
	"asterion/internal/storage"
)

const defaultDBPath = "asterion.db"

type Options struct {
	StoreKind string
	DBPath    string
	Logger    *logrus.Logger
}

type Client struct {
	store storage.Store
	log   *logrus.Logger
}

type RunRequest struct {
	PopulationRoot string
	GameBin        string
	AgentBin       string
	ShmDir         string
	ReportPath     string
	RunID          string

	MaxParallel int
	Generations int
	EpochSize   int
	EliteCount  int

	Eta            float64
	MutationRate   float64
	MutationStddev float64

	ScoreWeight float64
	TimeWeight  float64
	LevelWeight float64

	Selection     string
	ExcludeElites bool
	Seed          int64
	Headless      bool
	TickInterval  time.Duration

	// ListenAddr enables the HTTP control surface for the duration of
	// the run when non-empty.
	ListenAddr string
	Metrics    bool
}

type RunSummary struct {
	RunID           string
	Generations     int
	BestFitness     float64
	FinalGeneration int
	ReportPath      string
}

type RunsRequest struct {
	Limit int
}

type InitPopulationRequest struct {
	Root       string
	Count      int
	LayerSizes []int32
	Activation string
	Seed       int64
}

type ModelInfo struct {
	LayerSizes  []int32
	Activations []string
	WeightCount int64
	BiasCount   int64
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, log: log}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Run executes a full training run and blocks until it completes, is
// stopped over the control API or the context is cancelled.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.MaxParallel <= 0 {
		req.MaxParallel = 2
	}
	if req.Generations <= 0 {
		req.Generations = 10
	}
	if req.Eta <= 0 {
		req.Eta = 5
	}
	if req.MutationRate == 0 {
		req.MutationRate = 0.05
	}
	if req.MutationStddev == 0 {
		req.MutationStddev = 0.1
	}
	if req.ScoreWeight == 0 && req.TimeWeight == 0 && req.LevelWeight == 0 {
		req.ScoreWeight = 1
	}

	selector, err := genetic.NewSelector(req.Selection, req.ExcludeElites)
	if err != nil {
		return RunSummary{}, err
	}

	var observer sched.Observer
	if req.Metrics {
		observer = control.MetricsObserver{}
	}

	s, err := sched.New(sched.Config{
		PopulationRoot: req.PopulationRoot,
		GameBin:        req.GameBin,
		AgentBin:       req.AgentBin,
		ShmDir:         req.ShmDir,
		ReportPath:     req.ReportPath,
		RunID:          req.RunID,
		MaxParallel:    req.MaxParallel,
		Generations:    req.Generations,
		EpochSize:      req.EpochSize,
		EliteCount:     req.EliteCount,
		Eta:            req.Eta,
		MutationRate:   req.MutationRate,
		MutationStddev: req.MutationStddev,
		ScoreWeight:    req.ScoreWeight,
		TimeWeight:     req.TimeWeight,
		LevelWeight:    req.LevelWeight,
		TickInterval:   req.TickInterval,
		Headless:       req.Headless,
		Seed:           req.Seed,
		Selector:       selector,
		Logger:         c.log,
		Store:          c.store,
		Observer:       observer,
	})
	if err != nil {
		return RunSummary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if req.ListenAddr != "" {
		srv := control.NewServer(s, c.store, c.log)
		g.Go(func() error { return srv.Serve(runCtx, req.ListenAddr) })
	}
	g.Go(func() error {
		defer cancel()
		return s.Run(runCtx)
	})
	if err := g.Wait(); err != nil {
		return RunSummary{}, err
	}

	diags := s.Diagnostics()
	summary := RunSummary{
		RunID:       s.RunID(),
		Generations: len(diags),
		BestFitness: s.BestFitness(),
		ReportPath:  req.ReportPath,
	}
	if len(diags) > 0 {
		summary.FinalGeneration = diags[len(diags)-1].Generation
	}
	return summary, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]storage.RunRecord, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	return c.store.ListRuns(ctx, limit)
}

func (c *Client) Diagnostics(ctx context.Context, runID string) ([]population.Diagnostics, error) {
	diags, found, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no diagnostics for run %s", runID)
	}
	return diags, nil
}

// InitPopulation writes a founder generation of random models under the
// population root.
func (c *Client) InitPopulation(_ context.Context, req InitPopulationRequest) error {
	if req.Root == "" {
		return errors.New("population root is required")
	}
	if req.Count <= 0 {
		return fmt.Errorf("population count must be > 0, got %d", req.Count)
	}
	if len(req.LayerSizes) < 2 {
		return model.ErrTooFewLayers
	}
	activation, err := activationFromName(req.Activation)
	if err != nil {
		return err
	}
	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	dir := population.GenerationDir(req.Root, 0)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < req.Count; i++ {
		m, err := model.NewRandom(req.LayerSizes, activation, rng)
		if err != nil {
			return err
		}
		path := population.ModelPath(dir, i)
		if err := model.Serialize(path, m); err != nil {
			return fmt.Errorf("write founder %d: %w", i, err)
		}
		if _, _, _, err := population.SegmentNames(path); err != nil {
			return err
		}
	}
	c.log.WithFields(logrus.Fields{"root": req.Root, "count": req.Count}).Info("founder generation written")
	return nil
}

// InspectModel reads a .fnnm file and reports its topology.
func (c *Client) InspectModel(path string) (ModelInfo, error) {
	m, err := model.Deserialize(path)
	if err != nil {
		return ModelInfo{}, err
	}
	info := ModelInfo{
		LayerSizes:  m.LayerSizes,
		WeightCount: model.WeightCount(m.LayerSizes),
		BiasCount:   model.BiasCount(m.LayerSizes),
	}
	for _, code := range m.Activations {
		info.Activations = append(info.Activations, activationName(code))
	}
	return info, nil
}

// ValidateShmDir checks that the segment directory exists and is
// writable before a run starts.
func ValidateShmDir(dir string) error {
	if dir == "" {
		dir = shm.DefaultDir
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func activationFromName(name string) (int32, error) {
	switch name {
	case "", "sigmoid":
		return model.ActivationSigmoid, nil
	case "tanh":
		return model.ActivationTanh, nil
	case "relu":
		return model.ActivationReLU, nil
	case "linear":
		return model.ActivationLinear, nil
	default:
		return 0, fmt.Errorf("unknown activation: %s", name)
	}
}

func activationName(code int32) string {
	switch code {
	case model.ActivationSigmoid:
		return "sigmoid"
	case model.ActivationTanh:
		return "tanh"
	case model.ActivationReLU:
		return "relu"
	case model.ActivationLinear:
		return "linear"
	default:
		return fmt.Sprintf("code-%d", code)
	}
}
