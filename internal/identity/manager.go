package identity

import (
	"context"
	"errors"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"photo-indexer/internal/database"
	"photo-indexer/internal/logging"
	"photo-indexer/internal/metrics"
)

var log = logging.For("identity")

var (
	ErrFaceNotFound   = database.ErrFaceNotFound
	ErrPersonNotFound = database.ErrPersonNotFound
	ErrNameTaken      = database.ErrNameTaken
	ErrSamePerson     = database.ErrSamePerson
	ErrEmptyName      = errors.New("name is empty")
)

// Store is the persistence the manager drives.
type Store interface {
	GetFace(ctx context.Context, id int64) (*database.Face, error)
	NextPendingFace(ctx context.Context, exclude map[int64]struct{}) (*database.Face, error)
	GetPerson(ctx context.Context, id int64) (*database.Person, error)
	ListPersons(ctx context.Context) ([]database.Person, error)
	CreatePerson(ctx context.Context, name *string) (*database.Person, error)
	RenamePerson(ctx context.Context, id int64, name string) error
	IdentifyFace(ctx context.Context, faceID int64, name string) (*database.Person, error)
	AssignFace(ctx context.Context, faceID, personID int64, state database.FaceState, confidence float64) error
	IgnoreFace(ctx context.Context, faceID int64) error
	MergePersons(ctx context.Context, keep, absorbed int64) error
	DeletePerson(ctx context.Context, id int64) error
	DeleteEmptyPersons(ctx context.Context) (int, error)
	RecountAll(ctx context.Context) error
	PersonEmbeddings(ctx context.Context, personID int64) ([][]float32, []float64, error)
	UpdateCentroid(ctx context.Context, personID int64, centroid []float32) error
}

// NormalizeName trims, collapses inner whitespace and title-cases each word.
// An empty result means no name.
func NormalizeName(name string) string {
	joined := strings.Join(strings.Fields(name), " ")
	if joined == "" {
		return ""
	}
	return cases.Title(language.Und).String(joined)
}

// Manager owns every change to persons and face assignments.
type Manager struct {
	store Store
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func record(op string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.IdentityOperationsTotal.WithLabelValues(op, status).Inc()
}

// Identify assigns a face to the person with the given name, creating the
// person when no case-insensitive match exists.
func (m *Manager) Identify(ctx context.Context, faceID int64, name string) (*database.Person, error) {
	normalized := NormalizeName(name)
	if normalized == "" {
		record("identify", ErrEmptyName)
		return nil, ErrEmptyName
	}

	p, err := m.store.IdentifyFace(ctx, faceID, normalized)
	record("identify", err)
	if err != nil {
		return nil, err
	}
	log.Info("Face %d identified as %s (person %d)", faceID, normalized, p.ID)
	m.refreshQuietly(ctx, p.ID)
	return p, nil
}

// MarkIgnored records that a detection is not a person.
func (m *Manager) MarkIgnored(ctx context.Context, faceID int64) error {
	err := m.store.IgnoreFace(ctx, faceID)
	record("ignore", err)
	return err
}

// AssignFace links a face to an existing person with an explicit state.
func (m *Manager) AssignFace(ctx context.Context, faceID, personID int64, state database.FaceState, confidence float64) error {
	err := m.store.AssignFace(ctx, faceID, personID, state, confidence)
	record("assign", err)
	return err
}

// CreatePerson creates a person. An empty name creates an unnamed person.
func (m *Manager) CreatePerson(ctx context.Context, name string) (*database.Person, error) {
	var namePtr *string
	if n := NormalizeName(name); n != "" {
		namePtr = &n
	}
	p, err := m.store.CreatePerson(ctx, namePtr)
	record("create", err)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RenamePerson sets a person's name.
func (m *Manager) RenamePerson(ctx context.Context, id int64, name string) error {
	normalized := NormalizeName(name)
	if normalized == "" {
		record("rename", ErrEmptyName)
		return ErrEmptyName
	}
	err := m.store.RenamePerson(ctx, id, normalized)
	record("rename", err)
	return err
}

// MergePersons moves every face of absorbed onto keep and deletes absorbed.
func (m *Manager) MergePersons(ctx context.Context, keep, absorbed int64) error {
	err := m.store.MergePersons(ctx, keep, absorbed)
	record("merge", err)
	if err != nil {
		return err
	}
	log.Info("Merged person %d into %d", absorbed, keep)
	m.refreshQuietly(ctx, keep)
	return nil
}

// DeletePerson deletes a person; its faces return to the review queue.
func (m *Manager) DeletePerson(ctx context.Context, id int64) error {
	err := m.store.DeletePerson(ctx, id)
	record("delete", err)
	return err
}

// DeleteEmpty removes persons left without photos.
func (m *Manager) DeleteEmpty(ctx context.Context) (int, error) {
	n, err := m.store.DeleteEmptyPersons(ctx)
	record("prune", err)
	if err == nil && n > 0 {
		log.Info("Pruned %d empty persons", n)
	}
	return n, err
}

// RecountAll recomputes every person's photo count.
func (m *Manager) RecountAll(ctx context.Context) error {
	err := m.store.RecountAll(ctx)
	record("recount", err)
	return err
}

// ListPersons returns persons by photo count.
func (m *Manager) ListPersons(ctx context.Context) ([]database.Person, error) {
	return m.store.ListPersons(ctx)
}

// GetPerson returns one person.
func (m *Manager) GetPerson(ctx context.Context, id int64) (*database.Person, error) {
	return m.store.GetPerson(ctx, id)
}

// RefreshCentroid recomputes a person's centroid as the L2-normalized
// weighted mean of its face embeddings. A person without embeddings has its
// centroid cleared.
func (m *Manager) RefreshCentroid(ctx context.Context, personID int64) error {
	embeddings, weights, err := m.store.PersonEmbeddings(ctx, personID)
	if err != nil {
		record("refresh_centroid", err)
		return err
	}
	err = m.store.UpdateCentroid(ctx, personID, Centroid(embeddings, weights))
	record("refresh_centroid", err)
	return err
}

func (m *Manager) refreshQuietly(ctx context.Context, personID int64) {
	if err := m.RefreshCentroid(ctx, personID); err != nil {
		log.Warn("Failed to refresh centroid of person %d: %v", personID, err)
	}
}

// Centroid returns the L2-normalized weighted mean of vectors, or nil when
// there is nothing to average. Vectors whose length differs from the first
// are ignored.
func Centroid(vectors [][]float32, weights []float64) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil
	}

	sum := make([]float64, dim)
	var total float64
	for i, v := range vectors {
		if len(v) != dim {
			continue
		}
		w := 1.0
		if i < len(weights) && weights[i] > 0 {
			w = weights[i]
		}
		for j, x := range v {
			sum[j] += w * float64(x)
		}
		total += w
	}
	if total == 0 {
		return nil
	}

	var norm float64
	for j := range sum {
		sum[j] /= total
		norm += sum[j] * sum[j]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return nil
	}

	out := make([]float32, dim)
	for j := range sum {
		out[j] = float32(sum[j] / norm)
	}
	return out
}
