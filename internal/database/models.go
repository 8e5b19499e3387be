package database

import "time"

// FaceState is the assignment state of a face detection.
type FaceState string

const (
	FaceStatePending FaceState = "pending"
	FaceStateManual  FaceState = "manual"
	FaceStateAuto    FaceState = "auto"
	FaceStateIgnored FaceState = "ignored"
)

// Valid reports whether s is one of the known states.
func (s FaceState) Valid() bool {
	switch s {
	case FaceStatePending, FaceStateManual, FaceStateAuto, FaceStateIgnored:
		return true
	}
	return false
}

// Projection is the slice of a photo row the reconciler diffs against.
type Projection struct {
	Size         int64
	LastModified int64 // epoch seconds
}

// PhotoFile is the file-level part of a photo written by the reconciler.
type PhotoFile struct {
	Path         string
	FileName     string
	FolderPath   string
	RelativePath string
	Size         int64
	LastModified int64  // epoch seconds
	DateTaken    *int64 // epoch ms
	Width        *int
	Height       *int
	MimeType     string
	MediaType    string
	Latitude     *float64
	Longitude    *float64
}

// Photo is a full photo row.
type Photo struct {
	ID                  int64      `json:"id"`
	Path                string     `json:"path"`
	FileName            string     `json:"fileName"`
	FolderPath          string     `json:"folderPath"`
	RelativePath        string     `json:"relativePath,omitempty"`
	DateTaken           *int64     `json:"dateTaken,omitempty"`
	DateAdded           int64      `json:"dateAdded"`
	LastModified        int64      `json:"lastModified"`
	Size                int64      `json:"size"`
	Width               *int       `json:"width,omitempty"`
	Height              *int       `json:"height,omitempty"`
	Orientation         int        `json:"orientation"`
	Latitude            *float64   `json:"latitude,omitempty"`
	Longitude           *float64   `json:"longitude,omitempty"`
	LocationName        string     `json:"locationName,omitempty"`
	CameraMake          string     `json:"cameraMake,omitempty"`
	CameraModel         string     `json:"cameraModel,omitempty"`
	MimeType            string     `json:"mimeType,omitempty"`
	MediaType           string     `json:"mediaType"`
	IsFavorite          bool       `json:"isFavorite"`
	IsHidden            bool       `json:"isHidden"`
	MetadataExtracted   bool       `json:"metadataExtracted"`
	NeedsReanalysis     bool       `json:"needsReanalysis"`
	FacesScanned        bool       `json:"facesScanned"`
	Description         string     `json:"description,omitempty"`
	DescriptionModel    string     `json:"descriptionModel,omitempty"`
	TagsJSON            string     `json:"tags,omitempty"`
	OCRText             string     `json:"ocrText,omitempty"`
	LastAnalyzed        *time.Time `json:"lastAnalyzed,omitempty"`
	DescriptionEmbedded bool       `json:"descriptionEmbedded"`
}

// PhotoMetadata is what the enricher writes back for one photo.
type PhotoMetadata struct {
	DateTaken    *int64
	Width        *int
	Height       *int
	Orientation  int
	Latitude     *float64
	Longitude    *float64
	LocationName string
	CameraMake   string
	CameraModel  string
	MediaType    string
}

// AnalysisResult holds the AI enrichment fields for one photo.
type AnalysisResult struct {
	Description          string
	DescriptionEmbedding []float32
	DescriptionModel     string
	TagsJSON             string
	TagsModel            string
	OCRText              string
	OCRModel             string
}

// AnalysisLogEntry records one analysis attempt.
type AnalysisLogEntry struct {
	PhotoID      int64
	AnalysisType string
	ModelUsed    string
	StartedAt    time.Time
	CompletedAt  time.Time
	Success      bool
	ErrorMessage string
}

// BoundingBox is a face box in coordinates normalized to [0, 1].
type BoundingBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// FaceDetection is a detector result about to be stored.
type FaceDetection struct {
	Box            BoundingBox
	Embedding      []float32
	EmbeddingModel string
	Confidence     float64
}

// Face is a stored face detection.
type Face struct {
	ID                   int64       `json:"id"`
	PhotoID              int64       `json:"photoId"`
	PhotoPath            string      `json:"photoPath,omitempty"`
	PersonID             *int64      `json:"personId,omitempty"`
	Box                  BoundingBox `json:"box"`
	Embedding            []float32   `json:"-"`
	EmbeddingModel       string      `json:"embeddingModel,omitempty"`
	Confidence           float64     `json:"confidence"`
	IsPrimary            bool        `json:"isPrimary"`
	State                FaceState   `json:"state"`
	AssignmentConfidence *float64    `json:"assignmentConfidence,omitempty"`
	AssignedAt           *time.Time  `json:"assignedAt,omitempty"`
	Weight               float64     `json:"weight"`
}

// Person is a face identity.
type Person struct {
	ID                int64      `json:"id"`
	Name              *string    `json:"name,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	PhotoCount        int        `json:"photoCount"`
	Centroid          []float32  `json:"-"`
	CentroidUpdatedAt *time.Time `json:"centroidUpdatedAt,omitempty"`
}

// DisplayName returns the person's name or an empty string.
func (p *Person) DisplayName() string {
	if p == nil || p.Name == nil {
		return ""
	}
	return *p.Name
}

// City is a reference city used for reverse geocoding.
type City struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	CountryCode string  `json:"countryCode"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Population  int64   `json:"population"`
}
