package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"photo-indexer/internal/faults"
)

var (
	// ErrFaceNotFound is returned when a face id does not exist.
	ErrFaceNotFound = fmt.Errorf("face: %w", faults.ErrNotFound)
	// ErrPersonNotFound is returned when a person id does not exist.
	ErrPersonNotFound = fmt.Errorf("person: %w", faults.ErrNotFound)
	// ErrNameTaken is returned when a name already belongs to another person.
	ErrNameTaken = errors.New("name already belongs to another person")
	// ErrSamePerson is returned when a person is merged into itself.
	ErrSamePerson = errors.New("cannot merge a person into itself")
)

const faceColumns = `
	f.id, f.photo_id, COALESCE(p.file_path, ''), f.person_id, f.box_left, f.box_top,
	f.box_right, f.box_bottom, f.embedding, COALESCE(f.embedding_model, ''), f.confidence,
	f.is_primary, f.assignment_type, f.assignment_confidence, f.assigned_at, f.weight`

func scanFace(row rowScanner) (*Face, error) {
	var f Face
	var personID, assignedAt sql.NullInt64
	var assignConf sql.NullFloat64
	var embedding []byte
	var state string

	err := row.Scan(&f.ID, &f.PhotoID, &f.PhotoPath, &personID, &f.Box.Left, &f.Box.Top,
		&f.Box.Right, &f.Box.Bottom, &embedding, &f.EmbeddingModel, &f.Confidence,
		&f.IsPrimary, &state, &assignConf, &assignedAt, &f.Weight)
	if err != nil {
		return nil, err
	}

	f.State = FaceState(state)
	if personID.Valid {
		v := personID.Int64
		f.PersonID = &v
	}
	if assignConf.Valid {
		v := assignConf.Float64
		f.AssignmentConfidence = &v
	}
	if assignedAt.Valid {
		ts := time.UnixMilli(assignedAt.Int64)
		f.AssignedAt = &ts
	}
	if f.Embedding, err = DecodeEmbedding(embedding); err != nil {
		return nil, err
	}
	return &f, nil
}

const personColumns = "id, name, created_at, photo_count, centroid_embedding, centroid_updated_at"

func scanPerson(row rowScanner) (*Person, error) {
	var p Person
	var name sql.NullString
	var createdAt int64
	var centroid []byte
	var centroidAt sql.NullInt64

	if err := row.Scan(&p.ID, &name, &createdAt, &p.PhotoCount, &centroid, &centroidAt); err != nil {
		return nil, err
	}
	if name.Valid {
		v := name.String
		p.Name = &v
	}
	p.CreatedAt = time.UnixMilli(createdAt)
	if centroidAt.Valid {
		ts := time.UnixMilli(centroidAt.Int64)
		p.CentroidUpdatedAt = &ts
	}
	var err error
	if p.Centroid, err = DecodeEmbedding(centroid); err != nil {
		return nil, err
	}
	return &p, nil
}

// SaveFaces stores the detections for a photo as pending faces, marks the
// most confident one primary and flags the photo as scanned. It returns the
// new face ids in detection order.
func (d *Database) SaveFaces(ctx context.Context, photoID int64, detections []FaceDetection) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	primary := -1
	for i, det := range detections {
		if primary < 0 || det.Confidence > detections[primary].Confidence {
			primary = i
		}
	}

	ids := make([]int64, 0, len(detections))
	err := d.withTx(ctx, "insert_faces", func(tx *sql.Tx) error {
		for i, det := range detections {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO faces (photo_id, box_left, box_top, box_right, box_bottom,
					embedding, embedding_model, confidence, is_primary, assignment_type)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')
			`, photoID, det.Box.Left, det.Box.Top, det.Box.Right, det.Box.Bottom,
				EncodeEmbedding(det.Embedding), nullString(det.EmbeddingModel), det.Confidence, i == primary)
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		_, err := tx.ExecContext(ctx, "UPDATE photos SET faces_scanned = 1 WHERE id = ?", photoID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetFace returns one face by id.
func (d *Database) GetFace(ctx context.Context, id int64) (*Face, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	f, err := scanFace(d.db.QueryRowContext(ctx,
		"SELECT "+faceColumns+" FROM faces f LEFT JOIN photos p ON p.id = f.photo_id WHERE f.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrFaceNotFound
	}
	return f, err
}

// FacesForPerson returns the faces assigned to a person.
func (d *Database) FacesForPerson(ctx context.Context, personID int64) ([]Face, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+faceColumns+" FROM faces f LEFT JOIN photos p ON p.id = f.photo_id WHERE f.person_id = ? ORDER BY f.id",
		personID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faces []Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, err
		}
		faces = append(faces, *f)
	}
	return faces, rows.Err()
}

// NextPendingFace returns the oldest pending face whose id is not in
// exclude, or nil when none is left.
func (d *Database) NextPendingFace(ctx context.Context, exclude map[int64]struct{}) (*Face, error) {
	const page = 100

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var after int64
	for {
		rows, err := d.db.QueryContext(ctx, "SELECT "+faceColumns+`
			FROM faces f LEFT JOIN photos p ON p.id = f.photo_id
			WHERE f.assignment_type = 'pending' AND f.id > ?
			ORDER BY f.id LIMIT ?`, after, page)
		if err != nil {
			return nil, err
		}

		n := 0
		var found *Face
		for rows.Next() {
			f, err := scanFace(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			n++
			after = f.ID
			if _, skip := exclude[f.ID]; !skip {
				found = f
				break
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if found != nil || n < page {
			return found, nil
		}
	}
}

// GetPerson returns one person by id.
func (d *Database) GetPerson(ctx context.Context, id int64) (*Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	p, err := scanPerson(d.db.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPersonNotFound
	}
	return p, err
}

// ListPersons returns every person, most photographed first.
func (d *Database) ListPersons(ctx context.Context) ([]Person, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+personColumns+" FROM persons ORDER BY photo_count DESC, name COLLATE NOCASE, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var persons []Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, *p)
	}
	return persons, rows.Err()
}

// CreatePerson inserts a person. A nil name creates an unnamed cluster.
func (d *Database) CreatePerson(ctx context.Context, name *string) (*Person, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var person *Person
	err := d.withTx(ctx, "create_person", func(tx *sql.Tx) error {
		id, err := insertPerson(ctx, tx, name)
		if err != nil {
			return mapConstraint(err)
		}
		person, err = personByID(ctx, tx, id)
		return err
	})
	return person, err
}

// RenamePerson changes a person's name. Renaming onto another person's name
// fails with ErrNameTaken; use MergePersons for that.
func (d *Database) RenamePerson(ctx context.Context, id int64, name string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "rename_person", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE persons SET name = ? WHERE id = ?", name, id)
		if err != nil {
			return mapConstraint(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPersonNotFound
		}
		return nil
	})
}

// IdentifyFace assigns a face to the person with the given name, creating
// the person when no name matches case-insensitively. The face becomes
// manual with confidence 1. Both the new and any previous person are
// recounted.
func (d *Database) IdentifyFace(ctx context.Context, faceID int64, name string) (*Person, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var person *Person
	err := d.withTx(ctx, "identify_face", func(tx *sql.Tx) error {
		previous, err := facePerson(ctx, tx, faceID)
		if err != nil {
			return err
		}

		var personID int64
		err = tx.QueryRowContext(ctx, "SELECT id FROM persons WHERE name = ? COLLATE NOCASE", name).Scan(&personID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if personID, err = insertPerson(ctx, tx, &name); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		if err := assign(ctx, tx, faceID, personID, FaceStateManual, 1.0); err != nil {
			return err
		}
		if err := recountPersons(ctx, tx, touched(personID, previous)); err != nil {
			return err
		}
		person, err = personByID(ctx, tx, personID)
		return err
	})
	return person, err
}

// AssignFace assigns a face to an existing person with the given state and
// confidence.
func (d *Database) AssignFace(ctx context.Context, faceID, personID int64, state FaceState, confidence float64) error {
	if state != FaceStateManual && state != FaceStateAuto {
		return fmt.Errorf("cannot assign a face with state %q", state)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "assign_face", func(tx *sql.Tx) error {
		previous, err := facePerson(ctx, tx, faceID)
		if err != nil {
			return err
		}
		if _, err := personByID(ctx, tx, personID); err != nil {
			return err
		}
		if err := assign(ctx, tx, faceID, personID, state, confidence); err != nil {
			return err
		}
		return recountPersons(ctx, tx, touched(personID, previous))
	})
}

// IgnoreFace marks a face as not a person and detaches it from any person.
func (d *Database) IgnoreFace(ctx context.Context, faceID int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "ignore_face", func(tx *sql.Tx) error {
		previous, err := facePerson(ctx, tx, faceID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE faces SET assignment_type = 'ignored', person_id = NULL,
				assignment_confidence = NULL, assigned_at = ?
			WHERE id = ?`, nowMillis(), faceID)
		if err != nil {
			return err
		}
		return recountPersons(ctx, tx, touched(0, previous))
	})
}

// MergePersons moves every face of absorbed onto keep and deletes absorbed
// in one transaction. keep inherits absorbed's name when it has none. The
// kept person's centroid is cleared for recomputation.
func (d *Database) MergePersons(ctx context.Context, keep, absorbed int64) error {
	if keep == absorbed {
		return ErrSamePerson
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "merge_persons", func(tx *sql.Tx) error {
		target, err := personByID(ctx, tx, keep)
		if err != nil {
			return err
		}
		source, err := personByID(ctx, tx, absorbed)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE faces SET person_id = ? WHERE person_id = ?", keep, absorbed); err != nil {
			return err
		}

		if err := deletePersons(ctx, tx, []int64{absorbed}); err != nil {
			return err
		}

		if target.Name == nil && source.Name != nil {
			if _, err := tx.ExecContext(ctx, "UPDATE persons SET name = ? WHERE id = ?", *source.Name, keep); err != nil {
				return mapConstraint(err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE persons SET centroid_embedding = NULL, centroid_updated_at = NULL WHERE id = ?", keep); err != nil {
			return err
		}
		return recountPersons(ctx, tx, []int64{keep})
	})
}

// DeletePerson deletes a person. Its faces go back to pending.
func (d *Database) DeletePerson(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "delete_person", func(tx *sql.Tx) error {
		if _, err := personByID(ctx, tx, id); err != nil {
			return err
		}
		return deletePersons(ctx, tx, []int64{id})
	})
}

// DeleteEmptyPersons recounts every person and deletes those with no photos.
// It returns the number of persons deleted.
func (d *Database) DeleteEmptyPersons(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	var removed int
	err := d.withTx(ctx, "delete_empty_persons", func(tx *sql.Tx) error {
		if err := recountAll(ctx, tx); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, "SELECT id FROM persons WHERE photo_count = 0")
		if err != nil {
			return err
		}
		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		removed = len(ids)
		return deletePersons(ctx, tx, ids)
	})
	return removed, err
}

// RecountAll recomputes every person's photo count.
func (d *Database) RecountAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	return d.withTx(ctx, "recount_persons", func(tx *sql.Tx) error {
		return recountAll(ctx, tx)
	})
}

// PersonEmbeddings returns the embeddings and weights of a person's faces.
// Faces without an embedding are skipped.
func (d *Database) PersonEmbeddings(ctx context.Context, personID int64) ([][]float32, []float64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT embedding, weight FROM faces WHERE person_id = ? AND embedding IS NOT NULL ORDER BY id", personID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var embeddings [][]float32
	var weights []float64
	for rows.Next() {
		var blob []byte
		var w float64
		if err := rows.Scan(&blob, &w); err != nil {
			return nil, nil, err
		}
		v, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, nil, err
		}
		embeddings = append(embeddings, v)
		weights = append(weights, w)
	}
	return embeddings, weights, rows.Err()
}

// UpdateCentroid stores a person's centroid embedding. A nil centroid clears it.
func (d *Database) UpdateCentroid(ctx context.Context, personID int64, centroid []float32) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var updatedAt any
	if centroid != nil {
		updatedAt = nowMillis()
	}
	res, err := d.db.ExecContext(ctx,
		"UPDATE persons SET centroid_embedding = ?, centroid_updated_at = ? WHERE id = ?",
		EncodeEmbedding(centroid), updatedAt, personID)
	recordQuery("update_centroid", start, err)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPersonNotFound
	}
	return nil
}

// PersonCentroids returns the stored centroids of every person that has one.
func (d *Database) PersonCentroids(ctx context.Context) (map[int64][]float32, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT id, centroid_embedding FROM persons WHERE centroid_embedding IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	centroids := make(map[int64][]float32)
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		v, err := DecodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		centroids[id] = v
	}
	return centroids, rows.Err()
}

func insertPerson(ctx context.Context, tx *sql.Tx, name *string) (int64, error) {
	res, err := tx.ExecContext(ctx, "INSERT INTO persons (name, created_at) VALUES (?, ?)", name, nowMillis())
	if err != nil {
		return 0, mapConstraint(err)
	}
	return res.LastInsertId()
}

func personByID(ctx context.Context, tx *sql.Tx, id int64) (*Person, error) {
	p, err := scanPerson(tx.QueryRowContext(ctx, "SELECT "+personColumns+" FROM persons WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPersonNotFound
	}
	return p, err
}

// facePerson returns the person a face is assigned to (0 for none).
func facePerson(ctx context.Context, tx *sql.Tx, faceID int64) (int64, error) {
	var personID sql.NullInt64
	err := tx.QueryRowContext(ctx, "SELECT person_id FROM faces WHERE id = ?", faceID).Scan(&personID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrFaceNotFound
	}
	if err != nil {
		return 0, err
	}
	return personID.Int64, nil
}

func assign(ctx context.Context, tx *sql.Tx, faceID, personID int64, state FaceState, confidence float64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE faces SET person_id = ?, assignment_type = ?, assignment_confidence = ?, assigned_at = ?
		WHERE id = ?`, personID, string(state), confidence, nowMillis(), faceID)
	return err
}

// deletePersons applies the delete policy: every face of the deleted
// persons returns to pending with no person, confidence or timestamp.
func deletePersons(ctx context.Context, tx *sql.Tx, ids []int64) error {
	for _, part := range chunk(ids) {
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		in := placeholders(len(part))

		if _, err := tx.ExecContext(ctx, `
			UPDATE faces SET assignment_type = 'pending', person_id = NULL,
				assignment_confidence = NULL, assigned_at = NULL
			WHERE person_id IN (`+in+`)`, args...); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM persons WHERE id IN ("+in+")", args...); err != nil {
			return err
		}
	}
	return nil
}

func recountPersons(ctx context.Context, tx *sql.Tx, ids []int64) error {
	for _, part := range chunk(ids) {
		args := make([]any, len(part))
		for i, id := range part {
			args[i] = id
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE persons SET photo_count = (
				SELECT COUNT(DISTINCT photo_id) FROM faces WHERE faces.person_id = persons.id
			) WHERE id IN (`+placeholders(len(part))+`)`, args...)
		if err != nil {
			return err
		}
		recordRows("recount_persons", res)
	}
	return nil
}

func recountAll(ctx context.Context, tx *sql.Tx) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE persons SET photo_count = (
			SELECT COUNT(DISTINCT photo_id) FROM faces WHERE faces.person_id = persons.id
		)`)
	if err != nil {
		return err
	}
	recordRows("recount_persons", res)
	return nil
}

// touched lists the non-zero, distinct person ids among a and b.
func touched(a, b int64) []int64 {
	var ids []int64
	if a != 0 {
		ids = append(ids, a)
	}
	if b != 0 && b != a {
		ids = append(ids, b)
	}
	return ids
}

// mapConstraint turns a unique violation on persons.name into ErrNameTaken.
func mapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrNameTaken
	}
	return err
}
