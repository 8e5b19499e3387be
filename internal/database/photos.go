package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrPhotoNotFound is returned when a photo id does not exist.
var ErrPhotoNotFound = errors.New("photo not found")

const photoColumns = `
	id, file_path, file_name, folder_path, COALESCE(relative_path, ''), date_taken,
	date_added, file_last_modified, file_size, width, height, orientation,
	latitude, longitude, COALESCE(location_name, ''), COALESCE(camera_make, ''),
	COALESCE(camera_model, ''), COALESCE(mime_type, ''), media_type, is_favorite,
	is_hidden, is_metadata_extracted, needs_reanalysis, faces_scanned,
	COALESCE(description, ''), COALESCE(description_model, ''), COALESCE(tags_json, ''),
	COALESCE(ocr_text, ''), last_analyzed, description_embedding IS NOT NULL`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*Photo, error) {
	var p Photo
	var dateTaken, lastAnalyzed sql.NullInt64
	var width, height sql.NullInt64
	var lat, lon sql.NullFloat64

	err := row.Scan(
		&p.ID, &p.Path, &p.FileName, &p.FolderPath, &p.RelativePath, &dateTaken,
		&p.DateAdded, &p.LastModified, &p.Size, &width, &height, &p.Orientation,
		&lat, &lon, &p.LocationName, &p.CameraMake,
		&p.CameraModel, &p.MimeType, &p.MediaType, &p.IsFavorite,
		&p.IsHidden, &p.MetadataExtracted, &p.NeedsReanalysis, &p.FacesScanned,
		&p.Description, &p.DescriptionModel, &p.TagsJSON,
		&p.OCRText, &lastAnalyzed, &p.DescriptionEmbedded,
	)
	if err != nil {
		return nil, err
	}

	if dateTaken.Valid {
		v := dateTaken.Int64
		p.DateTaken = &v
	}
	if width.Valid {
		v := int(width.Int64)
		p.Width = &v
	}
	if height.Valid {
		v := int(height.Int64)
		p.Height = &v
	}
	if lat.Valid && lon.Valid {
		la, lo := lat.Float64, lon.Float64
		p.Latitude, p.Longitude = &la, &lo
	}
	if lastAnalyzed.Valid {
		ts := time.UnixMilli(lastAnalyzed.Int64)
		p.LastAnalyzed = &ts
	}
	return &p, nil
}

func scanPhotos(rows *sql.Rows) ([]Photo, error) {
	defer rows.Close()

	var photos []Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, *p)
	}
	return photos, rows.Err()
}

// LoadProjection returns the size and modification time of every indexed
// photo keyed by path.
func (d *Database) LoadProjection(ctx context.Context) (map[string]Projection, error) {
	start := time.Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, "SELECT file_path, file_size, file_last_modified FROM photos")
	if err != nil {
		recordQuery("load_projection", start, err)
		return nil, err
	}
	defer rows.Close()

	projection := make(map[string]Projection)
	for rows.Next() {
		var path string
		var p Projection
		if err := rows.Scan(&path, &p.Size, &p.LastModified); err != nil {
			recordQuery("load_projection", start, err)
			return nil, err
		}
		projection[path] = p
	}
	err = rows.Err()
	recordQuery("load_projection", start, err)
	return projection, err
}

// UpsertPhotos inserts new photos or refreshes the file fields of existing
// ones inside the batch. A photo whose size or modification time changed is
// queued again for metadata extraction and analysis.
func (d *Database) UpsertPhotos(ctx context.Context, b *Batch, files []PhotoFile) error {
	if len(files) == 0 {
		return nil
	}

	start := time.Now()
	stmt, err := b.Tx.PrepareContext(ctx, `
		INSERT INTO photos (
			file_path, file_name, folder_path, relative_path, date_taken, date_added,
			file_last_modified, file_size, width, height, latitude, longitude,
			mime_type, media_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			is_metadata_extracted = CASE
				WHEN photos.file_size != excluded.file_size
					OR photos.file_last_modified != excluded.file_last_modified
				THEN 0 ELSE photos.is_metadata_extracted END,
			needs_reanalysis = CASE
				WHEN photos.file_size != excluded.file_size
					OR photos.file_last_modified != excluded.file_last_modified
				THEN 1 ELSE photos.needs_reanalysis END,
			media_type = CASE
				WHEN photos.file_size != excluded.file_size
					OR photos.file_last_modified != excluded.file_last_modified
				THEN excluded.media_type ELSE photos.media_type END,
			file_name = excluded.file_name,
			folder_path = excluded.folder_path,
			relative_path = excluded.relative_path,
			date_taken = COALESCE(excluded.date_taken, photos.date_taken),
			file_last_modified = excluded.file_last_modified,
			file_size = excluded.file_size,
			width = COALESCE(excluded.width, photos.width),
			height = COALESCE(excluded.height, photos.height),
			latitude = COALESCE(excluded.latitude, photos.latitude),
			longitude = COALESCE(excluded.longitude, photos.longitude),
			mime_type = excluded.mime_type
	`)
	if err != nil {
		recordQuery("upsert_photos", start, err)
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	added := nowMillis()
	for i := range files {
		f := &files[i]
		_, err := stmt.ExecContext(ctx,
			f.Path, f.FileName, f.FolderPath, nullString(f.RelativePath), f.DateTaken, added,
			f.LastModified, f.Size, f.Width, f.Height, f.Latitude, f.Longitude,
			nullString(f.MimeType), f.MediaType,
		)
		if err != nil {
			recordQuery("upsert_photos", start, err)
			return fmt.Errorf("failed to upsert %s: %w", f.Path, err)
		}
	}

	recordQuery("upsert_photos", start, nil)
	return nil
}

// DeletePhotosByPath removes the photos at the given paths in one
// transaction. Their faces and analysis log rows cascade; persons that lose
// faces get their photo counts recomputed.
func (d *Database) DeletePhotosByPath(ctx context.Context, paths []string) (int, error) {
	if len(paths) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, bulkTimeout)
	defer cancel()

	deleted := 0
	err := d.withTx(ctx, "delete_photos", func(tx *sql.Tx) error {
		affected := make(map[int64]struct{})

		for _, part := range chunk(paths) {
			args := make([]any, len(part))
			for i, p := range part {
				args[i] = p
			}
			in := placeholders(len(part))

			rows, err := tx.QueryContext(ctx, `
				SELECT DISTINCT f.person_id FROM faces f
				JOIN photos p ON p.id = f.photo_id
				WHERE f.person_id IS NOT NULL AND p.file_path IN (`+in+`)`, args...)
			if err != nil {
				return err
			}
			for rows.Next() {
				var id int64
				if err := rows.Scan(&id); err != nil {
					rows.Close()
					return err
				}
				affected[id] = struct{}{}
			}
			rows.Close()
			if err := rows.Err(); err != nil {
				return err
			}

			res, err := tx.ExecContext(ctx, "DELETE FROM photos WHERE file_path IN ("+in+")", args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}

		ids := make([]int64, 0, len(affected))
		for id := range affected {
			ids = append(ids, id)
		}
		return recountPersons(ctx, tx, ids)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete photos: %w", err)
	}
	return deleted, nil
}

// GetPhoto returns one photo by id.
func (d *Database) GetPhoto(ctx context.Context, id int64) (*Photo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	p, err := scanPhoto(d.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPhotoNotFound
	}
	return p, err
}

// GetPhotoByPath returns one photo by file path.
func (d *Database) GetPhotoByPath(ctx context.Context, path string) (*Photo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	p, err := scanPhoto(d.db.QueryRowContext(ctx, "SELECT "+photoColumns+" FROM photos WHERE file_path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPhotoNotFound
	}
	return p, err
}

// pendingFilters maps a work queue to its WHERE clause.
var pendingFilters = map[string]string{
	"metadata": "is_metadata_extracted = 0",
	"analysis": "needs_reanalysis = 1",
	"faces":    "faces_scanned = 0 AND media_type != 'video'",
}

// PendingMetadata returns up to limit photos still waiting for metadata
// extraction with id greater than afterID, in id order.
func (d *Database) PendingMetadata(ctx context.Context, afterID int64, limit int) ([]Photo, error) {
	return d.pending(ctx, "metadata", afterID, limit)
}

// PendingAnalysis returns photos flagged for content analysis.
func (d *Database) PendingAnalysis(ctx context.Context, afterID int64, limit int) ([]Photo, error) {
	return d.pending(ctx, "analysis", afterID, limit)
}

// PendingFaceScan returns still photos that have not been through face
// detection.
func (d *Database) PendingFaceScan(ctx context.Context, afterID int64, limit int) ([]Photo, error) {
	return d.pending(ctx, "faces", afterID, limit)
}

// CountPending returns the size of a work queue: "metadata", "analysis" or
// "faces".
func (d *Database) CountPending(ctx context.Context, queue string) (int, error) {
	filter, ok := pendingFilters[queue]
	if !ok {
		return 0, fmt.Errorf("unknown queue %q", queue)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM photos WHERE "+filter).Scan(&n)
	return n, err
}

func (d *Database) pending(ctx context.Context, queue string, afterID int64, limit int) ([]Photo, error) {
	start := time.Now()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx,
		"SELECT "+photoColumns+" FROM photos WHERE "+pendingFilters[queue]+" AND id > ? ORDER BY id LIMIT ?",
		afterID, limit)
	if err != nil {
		recordQuery("pending_"+queue, start, err)
		return nil, err
	}
	photos, err := scanPhotos(rows)
	recordQuery("pending_"+queue, start, err)
	return photos, err
}

// UpdateMetadata stores extracted metadata and clears the extraction flag.
func (d *Database) UpdateMetadata(ctx context.Context, id int64, m PhotoMetadata) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	orientation := m.Orientation
	if orientation <= 0 {
		orientation = 1
	}

	_, err := d.db.ExecContext(ctx, `
		UPDATE photos SET
			date_taken = COALESCE(?, date_taken),
			width = COALESCE(?, width),
			height = COALESCE(?, height),
			orientation = ?,
			latitude = ?,
			longitude = ?,
			location_name = ?,
			camera_make = ?,
			camera_model = ?,
			media_type = COALESCE(NULLIF(?, ''), media_type),
			is_metadata_extracted = 1
		WHERE id = ?
	`, m.DateTaken, m.Width, m.Height, orientation, m.Latitude, m.Longitude,
		nullString(m.LocationName), nullString(m.CameraMake), nullString(m.CameraModel),
		m.MediaType, id)

	recordQuery("update_metadata", start, err)
	return err
}

// SaveAnalysis stores the content analysis result, clears the reanalysis
// flag and appends to the analysis log in one transaction.
func (d *Database) SaveAnalysis(ctx context.Context, id int64, r AnalysisResult, entry AnalysisLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "update_analysis", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE photos SET
				description = ?,
				description_embedding = ?,
				description_model = ?,
				tags_json = ?,
				tags_model = ?,
				ocr_text = ?,
				ocr_model = ?,
				last_analyzed = ?,
				needs_reanalysis = 0
			WHERE id = ?
		`, nullString(r.Description), EncodeEmbedding(r.DescriptionEmbedding), nullString(r.DescriptionModel),
			nullString(r.TagsJSON), nullString(r.TagsModel), nullString(r.OCRText), nullString(r.OCRModel),
			nowMillis(), id)
		if err != nil {
			return err
		}
		entry.PhotoID = id
		return insertAnalysisLog(ctx, tx, entry)
	})
}

// LogAnalysis records a failed or skipped analysis attempt without touching
// the photo.
func (d *Database) LogAnalysis(ctx context.Context, entry AnalysisLogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return d.withTx(ctx, "insert_analysis_log", func(tx *sql.Tx) error {
		return insertAnalysisLog(ctx, tx, entry)
	})
}

// AnalysisLog returns the log entries for one photo, newest first.
func (d *Database) AnalysisLog(ctx context.Context, photoID int64) ([]AnalysisLogEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT photo_id, analysis_type, COALESCE(model_used, ''), started_at,
			completed_at, success, COALESCE(error_message, '')
		FROM analysis_log WHERE photo_id = ? ORDER BY id DESC
	`, photoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AnalysisLogEntry
	for rows.Next() {
		var e AnalysisLogEntry
		var startedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&e.PhotoID, &e.AnalysisType, &e.ModelUsed, &startedAt,
			&completedAt, &e.Success, &e.ErrorMessage); err != nil {
			return nil, err
		}
		e.StartedAt = time.UnixMilli(startedAt)
		if completedAt.Valid {
			e.CompletedAt = time.UnixMilli(completedAt.Int64)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func insertAnalysisLog(ctx context.Context, tx *sql.Tx, e AnalysisLogEntry) error {
	var completed any
	if !e.CompletedAt.IsZero() {
		completed = e.CompletedAt.UnixMilli()
	}
	startedAt := e.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO analysis_log (photo_id, analysis_type, model_used, started_at, completed_at, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.PhotoID, e.AnalysisType, nullString(e.ModelUsed), startedAt.UnixMilli(), completed, e.Success,
		nullString(e.ErrorMessage))
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
