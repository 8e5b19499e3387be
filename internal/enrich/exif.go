package enrich

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	heicexif "github.com/dsoprea/go-heic-exif-extractor"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
	pngstructure "github.com/dsoprea/go-png-image-structure"
	tiffstructure "github.com/dsoprea/go-tiff-image-structure"
	riimage "github.com/dsoprea/go-utility/image"

	"photo-indexer/internal/faults"
	"photo-indexer/internal/filesystem"
)

const exifDateLayout = "2006:01:02 15:04:05"

// Exif is the subset of EXIF the index keeps.
type Exif struct {
	DateTaken   *int64 // epoch ms
	Latitude    *float64
	Longitude   *float64
	Make        string
	Model       string
	Orientation int
	Width       *int
	Height      *int
}

// Reader extracts EXIF from a file. Errors are tagged with faults markers:
// ErrData for files without readable EXIF, ErrTransient for I/O worth
// retrying.
type Reader interface {
	Read(path string) (*Exif, error)
}

type exifParser interface {
	Parse(rs io.ReadSeeker, size int) (riimage.MediaContext, error)
}

func parserFor(ext string) exifParser {
	switch ext {
	case ".jpg", ".jpeg":
		return jpegstructure.NewJpegMediaParser()
	case ".png":
		return pngstructure.NewPngMediaParser()
	case ".tif", ".tiff", ".dng":
		return tiffstructure.NewTiffMediaParser()
	case ".heic", ".heif", ".avif":
		return heicexif.NewHeicExifMediaParser()
	default:
		return nil
	}
}

// FileReader reads EXIF from the local filesystem.
type FileReader struct {
	Retry filesystem.RetryConfig
}

// Read opens path and decodes its EXIF block.
func (r FileReader) Read(path string) (*Exif, error) {
	f, err := filesystem.OpenWithRetry(path, r.Retry)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.Data("enrich", "open", err)
		}
		if faults.IsTransientIO(err) {
			return nil, faults.Transient("enrich", "open", err)
		}
		return nil, faults.Data("enrich", "open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, faults.Transient("enrich", "stat", err)
	}

	raw, err := extractRaw(f, strings.ToLower(filepath.Ext(path)), int(info.Size()))
	if err != nil {
		return nil, err
	}
	return ParseExif(raw)
}

// extractRaw finds the EXIF block, trying the structure parser for the file
// type first and a byte search second.
func extractRaw(rs io.ReadSeeker, ext string, size int) ([]byte, error) {
	if parser := parserFor(ext); parser != nil {
		if mc, err := parser.Parse(rs, size); err == nil {
			if _, data, err := mc.Exif(); err == nil && len(data) > 0 {
				return data, nil
			}
		} else {
			log.Debug("Structure parse failed for %s file, searching: %v", ext, err)
		}
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, faults.Transient("enrich", "seek", err)
	}
	data, err := exif.SearchAndExtractExifWithReader(rs)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, faults.Data("enrich", "search", err)
		}
		if faults.IsTransientIO(err) {
			return nil, faults.Transient("enrich", "search", err)
		}
		return nil, faults.Data("enrich", "search", err)
	}
	return data, nil
}

// ParseExif decodes a raw EXIF block.
func ParseExif(raw []byte) (*Exif, error) {
	entries, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil && len(entries) == 0 {
		return nil, faults.Data("enrich", "parse", err)
	}

	tags := make(map[string]exif.ExifTag, len(entries))
	for _, e := range entries {
		if e.TagName == "" {
			continue
		}
		// IFD1 describes the embedded thumbnail.
		if _, seen := tags[e.TagName]; seen || e.IfdPath == "IFD1" {
			continue
		}
		tags[e.TagName] = e
	}
	return fromTags(tags), nil
}

func fromTags(tags map[string]exif.ExifTag) *Exif {
	out := &Exif{Orientation: 1}

	out.Make = asciiTag(tags, "Make")
	out.Model = asciiTag(tags, "Model")

	if v, ok := uintTag(tags, "Orientation"); ok && v >= 1 && v <= 8 {
		out.Orientation = int(v)
	}
	if w, ok := uintTag(tags, "PixelXDimension"); ok && w > 0 {
		n := int(w)
		out.Width = &n
	}
	if h, ok := uintTag(tags, "PixelYDimension"); ok && h > 0 {
		n := int(h)
		out.Height = &n
	}

	for _, name := range []string{"DateTimeOriginal", "DateTimeDigitized", "DateTime"} {
		if ms, ok := parseExifTime(asciiTag(tags, name), asciiTag(tags, "OffsetTimeOriginal")); ok {
			out.DateTaken = &ms
			break
		}
	}

	lat, latOK := gpsTag(tags, "GPSLatitude", "GPSLatitudeRef", "S")
	lon, lonOK := gpsTag(tags, "GPSLongitude", "GPSLongitudeRef", "W")
	if latOK && lonOK && (lat != 0 || lon != 0) {
		out.Latitude = &lat
		out.Longitude = &lon
	}
	return out
}

func asciiTag(tags map[string]exif.ExifTag, name string) string {
	t, ok := tags[name]
	if !ok {
		return ""
	}
	s, ok := t.Value.(string)
	if !ok {
		s = t.FormattedFirst
	}
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

func uintTag(tags map[string]exif.ExifTag, name string) (uint64, bool) {
	t, ok := tags[name]
	if !ok {
		return 0, false
	}
	switch v := t.Value.(type) {
	case []uint16:
		if len(v) > 0 {
			return uint64(v[0]), true
		}
	case []uint32:
		if len(v) > 0 {
			return uint64(v[0]), true
		}
	}
	n, err := strconv.ParseUint(strings.TrimSpace(t.FormattedFirst), 10, 64)
	return n, err == nil
}

func gpsTag(tags map[string]exif.ExifTag, name, refName, negative string) (float64, bool) {
	t, ok := tags[name]
	if !ok {
		return 0, false
	}
	r, ok := t.Value.([]exifcommon.Rational)
	if !ok || len(r) < 3 {
		return 0, false
	}
	var parts [3]float64
	for i := 0; i < 3; i++ {
		if r[i].Denominator == 0 {
			return 0, false
		}
		parts[i] = float64(r[i].Numerator) / float64(r[i].Denominator)
	}
	deg := parts[0] + parts[1]/60 + parts[2]/3600
	if strings.EqualFold(asciiTag(tags, refName), negative) {
		deg = -deg
	}
	return deg, true
}

// parseExifTime parses an EXIF timestamp. Without an offset the camera's
// wall clock is read as local time.
func parseExifTime(value, offset string) (int64, bool) {
	if value == "" || strings.HasPrefix(value, "0000") {
		return 0, false
	}
	loc := time.Local
	if offset != "" {
		if o, err := time.Parse("-07:00", offset); err == nil {
			_, secs := o.Zone()
			loc = time.FixedZone(offset, secs)
		}
	}
	t, err := time.ParseInLocation(exifDateLayout, value, loc)
	if err != nil {
		return 0, false
	}
	return t.UnixMilli(), true
}

func (e *Exif) String() string {
	return fmt.Sprintf("make=%q model=%q orientation=%d gps=%v", e.Make, e.Model, e.Orientation, e.Latitude != nil)
}
