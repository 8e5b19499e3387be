package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"

	"photo-indexer/internal/database"
	"photo-indexer/internal/identity"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
	"photo-indexer/internal/pipeline"
)

var log = logging.For("http")

// Pipeline is the orchestrator surface the scan endpoints drive.
type Pipeline interface {
	Start(kind pipeline.Kind) (runID string, started bool)
	Cancel() bool
	Status() pipeline.Status
}

// StatsSource provides library counts.
type StatsSource interface {
	LibraryStats(ctx context.Context) (metrics.LibraryStats, error)
}

// People is the identity surface the face and person endpoints drive.
type People interface {
	Identify(ctx context.Context, faceID int64, name string) (*database.Person, error)
	MarkIgnored(ctx context.Context, faceID int64) error
	RenamePerson(ctx context.Context, id int64, name string) error
	MergePersons(ctx context.Context, keep, absorbed int64) error
	DeletePerson(ctx context.Context, id int64) error
	DeleteEmpty(ctx context.Context) (int, error)
	ListPersons(ctx context.Context) ([]database.Person, error)
}

// Handlers serves the operational HTTP API.
type Handlers struct {
	pipeline  Pipeline
	stats     StatsSource
	people    People
	sessions  *identity.Sessions
	startTime time.Time
	ready     atomic.Bool
}

// New creates the handlers. sessions holds review queue state between
// requests.
func New(p Pipeline, stats StatsSource, people People, sessions *identity.Sessions) *Handlers {
	return &Handlers{
		pipeline:  p,
		stats:     stats,
		people:    people,
		sessions:  sessions,
		startTime: time.Now(),
	}
}

// SetReady marks the service ready for traffic.
func (h *Handlers) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Router registers every API route.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", h.StartScan).Methods("POST")
	api.HandleFunc("/scan/cancel", h.CancelScan).Methods("POST")
	api.HandleFunc("/scan/status", h.ScanStatus).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")

	api.HandleFunc("/faces/next", h.NextFace).Methods("GET")
	api.HandleFunc("/faces/{id:[0-9]+}/identify", h.IdentifyFace).Methods("POST")
	api.HandleFunc("/faces/{id:[0-9]+}/skip", h.SkipFace).Methods("POST")
	api.HandleFunc("/faces/{id:[0-9]+}/ignore", h.IgnoreFace).Methods("POST")

	api.HandleFunc("/persons", h.ListPersons).Methods("GET")
	api.HandleFunc("/persons/merge", h.MergePersons).Methods("POST")
	api.HandleFunc("/persons/prune", h.PrunePersons).Methods("POST")
	api.HandleFunc("/persons/{id:[0-9]+}", h.DeletePerson).Methods("DELETE")
	api.HandleFunc("/persons/{id:[0-9]+}/name", h.RenamePerson).Methods("PUT")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, "Not found", http.StatusNotFound)
	})
	return r
}
