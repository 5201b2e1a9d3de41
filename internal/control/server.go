package control

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"asterion/internal/registry"
	"asterion/internal/sched"
	"asterion/internal/storage"
)

// Server exposes the scheduler over HTTP: population and instance state,
// instance commands, run history and metrics.
type Server struct {
	sched *sched.Scheduler
	store storage.Store
	log   *logrus.Logger
}

func NewServer(s *sched.Scheduler, store storage.Store, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	return &Server{sched: s, store: store, log: log}
}

type instanceView struct {
	ID         int     `json:"id"`
	Status     string  `json:"status"`
	GamePID    int     `json:"game_pid"`
	AgentPID   int     `json:"agent_pid"`
	ModelPath  string  `json:"model_path"`
	Generation int     `json:"generation"`
	GameSeed   int64   `json:"game_seed"`
	Fitness    float64 `json:"fitness"`
}

func viewOf(inst registry.Instance) instanceView {
	return instanceView{
		ID:         inst.ID,
		Status:     inst.Status.String(),
		GamePID:    inst.GamePID,
		AgentPID:   inst.AgentPID,
		ModelPath:  inst.ModelPath,
		Generation: inst.Generation,
		GameSeed:   inst.GameSeed,
		Fitness:    inst.Fitness,
	}
}

func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "run_id": s.sched.RunID()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	v1.GET("/population", func(c *gin.Context) {
		reg := s.sched.Registry()
		counts := make(map[string]int)
		for _, inst := range reg.Snapshot() {
			counts[inst.Status.String()]++
		}
		c.JSON(200, gin.H{
			"generation": s.sched.Generation(),
			"size":       reg.Len(),
			"statuses":   counts,
		})
	})

	v1.GET("/instances", func(c *gin.Context) {
		snapshot := s.sched.Registry().Snapshot()
		views := make([]instanceView, 0, len(snapshot))
		for _, inst := range snapshot {
			views = append(views, viewOf(inst))
		}
		c.JSON(200, views)
	})

	v1.GET("/instances/:id", func(c *gin.Context) {
		id, ok := instanceID(c)
		if !ok {
			return
		}
		inst, found := s.sched.Registry().Get(id)
		if !found {
			c.JSON(404, gin.H{"error": "no such instance"})
			return
		}
		c.JSON(200, viewOf(inst))
	})

	v1.POST("/instances/:id/kill", func(c *gin.Context) {
		id, ok := instanceID(c)
		if !ok {
			return
		}
		if err := s.sched.KillInstance(id); err != nil {
			c.JSON(commandStatus(err), gin.H{"error": err.Error()})
			return
		}
		s.log.WithField("id", id).Info("instance killed via api")
		c.JSON(200, gin.H{"id": id, "status": "killed"})
	})

	v1.POST("/instances/:id/headless", func(c *gin.Context) {
		id, ok := instanceID(c)
		if !ok {
			return
		}
		headless, err := s.sched.ToggleHeadless(id)
		if err != nil {
			c.JSON(commandStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"id": id, "headless": headless})
	})

	v1.POST("/stop", func(c *gin.Context) {
		s.sched.Stop()
		s.log.Info("stop requested via api")
		c.JSON(202, gin.H{"status": "stopping"})
	})

	v1.GET("/runs", func(c *gin.Context) {
		if s.store == nil {
			c.JSON(404, gin.H{"error": "run history disabled"})
			return
		}
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(400, gin.H{"error": "bad limit"})
				return
			}
			limit = n
		}
		runs, err := s.store.ListRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, runs)
	})

	v1.GET("/runs/:id", func(c *gin.Context) {
		if s.store == nil {
			c.JSON(404, gin.H{"error": "run history disabled"})
			return
		}
		run, found, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		if !found {
			c.JSON(404, gin.H{"error": "no such run"})
			return
		}
		diags, _, err := s.store.GetGenerationDiagnostics(c.Request.Context(), run.RunID)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"run": run, "diagnostics": diags})
	})

	return r
}

// Serve runs the HTTP listener until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.WithField("addr", addr).Info("control api listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func instanceID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 0 {
		c.JSON(400, gin.H{"error": "bad instance id"})
		return 0, false
	}
	return id, true
}

func commandStatus(err error) int {
	if errors.Is(err, sched.ErrNotRunning) {
		return 409
	}
	return 404
}
