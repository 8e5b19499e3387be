package database

const schema = `
CREATE TABLE IF NOT EXISTS photos (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_path TEXT NOT NULL UNIQUE,
	file_name TEXT NOT NULL,
	folder_path TEXT NOT NULL DEFAULT '',
	relative_path TEXT,
	date_taken INTEGER,
	date_added INTEGER NOT NULL,
	file_last_modified INTEGER NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	width INTEGER,
	height INTEGER,
	orientation INTEGER NOT NULL DEFAULT 1,
	latitude REAL,
	longitude REAL,
	location_name TEXT,
	camera_make TEXT,
	camera_model TEXT,
	mime_type TEXT,
	media_type TEXT NOT NULL DEFAULT 'photo',
	is_favorite INTEGER NOT NULL DEFAULT 0,
	is_hidden INTEGER NOT NULL DEFAULT 0,
	is_metadata_extracted INTEGER NOT NULL DEFAULT 0,
	needs_reanalysis INTEGER NOT NULL DEFAULT 1,
	faces_scanned INTEGER NOT NULL DEFAULT 0,
	description TEXT,
	description_embedding BLOB,
	description_model TEXT,
	tags_json TEXT,
	tags_model TEXT,
	ocr_text TEXT,
	ocr_model TEXT,
	last_analyzed INTEGER
);

CREATE INDEX IF NOT EXISTS idx_photos_folder ON photos(folder_path);
CREATE INDEX IF NOT EXISTS idx_photos_date_taken ON photos(date_taken);
CREATE INDEX IF NOT EXISTS idx_photos_metadata ON photos(is_metadata_extracted);
CREATE INDEX IF NOT EXISTS idx_photos_reanalysis ON photos(needs_reanalysis);
CREATE INDEX IF NOT EXISTS idx_photos_media_type ON photos(media_type);

CREATE TABLE IF NOT EXISTS persons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE COLLATE NOCASE,
	created_at INTEGER NOT NULL,
	photo_count INTEGER NOT NULL DEFAULT 0,
	centroid_embedding BLOB,
	centroid_updated_at INTEGER
);

CREATE TABLE IF NOT EXISTS faces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	photo_id INTEGER NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
	person_id INTEGER REFERENCES persons(id) ON DELETE SET NULL,
	box_left REAL NOT NULL,
	box_top REAL NOT NULL,
	box_right REAL NOT NULL,
	box_bottom REAL NOT NULL,
	embedding BLOB,
	embedding_model TEXT,
	confidence REAL NOT NULL DEFAULT 0,
	is_primary INTEGER NOT NULL DEFAULT 0,
	assignment_type TEXT NOT NULL DEFAULT 'pending'
		CHECK (assignment_type IN ('pending', 'manual', 'auto', 'ignored')),
	assignment_confidence REAL,
	assigned_at INTEGER,
	weight REAL NOT NULL DEFAULT 1.0
);

CREATE INDEX IF NOT EXISTS idx_faces_photo ON faces(photo_id);
CREATE INDEX IF NOT EXISTS idx_faces_person ON faces(person_id);
CREATE INDEX IF NOT EXISTS idx_faces_assignment ON faces(assignment_type);

-- A face whose person disappears (including through ON DELETE SET NULL)
-- goes back to the review queue.
CREATE TRIGGER IF NOT EXISTS faces_orphaned AFTER UPDATE OF person_id ON faces
WHEN NEW.person_id IS NULL AND NEW.assignment_type IN ('manual', 'auto')
BEGIN
	UPDATE faces
	SET assignment_type = 'pending', assignment_confidence = NULL, assigned_at = NULL
	WHERE id = NEW.id;
END;

CREATE TABLE IF NOT EXISTS cities (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	country_code TEXT NOT NULL DEFAULT '',
	latitude REAL NOT NULL,
	longitude REAL NOT NULL,
	population INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cities_lat ON cities(latitude);
CREATE INDEX IF NOT EXISTS idx_cities_lon ON cities(longitude);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	photo_id INTEGER NOT NULL REFERENCES photos(id) ON DELETE CASCADE,
	analysis_type TEXT NOT NULL,
	model_used TEXT,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	success INTEGER NOT NULL DEFAULT 0,
	error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_analysis_log_photo ON analysis_log(photo_id);
`
