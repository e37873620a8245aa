package uploads

import (
	"fmt"
	"regexp"
	"time"
)

// ViewerName is the file name of the viewer document in every upload directory.
const ViewerName = "index.html"

const maxSegmentLen = 64

var (
	segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]*$`)
	bucketPattern  = regexp.MustCompile(`^(January|February|March|April|May|June|July|August|September|October|November|December)-([01][0-9]|2[0-3])$`)
)

// Bucket returns the time bucket label for t, e.g. "March-14".
func Bucket(t time.Time) string {
	return t.Format("January-15")
}

// ValidateFolder checks that name is usable as a single directory name.
func ValidateFolder(name string) error {
	if name == "" {
		return ErrMissingFolder
	}
	if len(name) > maxSegmentLen || !segmentPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidFolder, name)
	}
	return nil
}

// ValidateBucket checks a time bucket label taken from a request path.
func ValidateBucket(label string) error {
	if !bucketPattern.MatchString(label) {
		return fmt.Errorf("%w: bucket %q", ErrInvalidName, label)
	}
	return nil
}

// ValidateImageName checks a stored file name taken from a request path.
func ValidateImageName(name string) error {
	if len(name) > 2*maxSegmentLen || !segmentPattern.MatchString(name) {
		return fmt.Errorf("%w: file %q", ErrInvalidName, name)
	}
	return nil
}

// Resolver maps request data to upload locations
type Resolver struct {
	layout Layout
	tz     *time.Location
}

// NewResolver creates a resolver for the given layout. Buckets are computed
// in tz, or local time when tz is nil.
func NewResolver(layout Layout, tz *time.Location) (*Resolver, error) {
	switch layout {
	case LayoutFlat, LayoutBucketed:
	default:
		return nil, fmt.Errorf("unknown layout %q", layout)
	}
	if tz == nil {
		tz = time.Local
	}
	return &Resolver{layout: layout, tz: tz}, nil
}

// Layout returns the configured layout.
func (r *Resolver) Layout() Layout {
	return r.layout
}

// Resolve returns the location an upload to folder at time t belongs to.
func (r *Resolver) Resolve(folder string, t time.Time) (Location, error) {
	if err := ValidateFolder(folder); err != nil {
		return Location{}, err
	}
	loc := Location{Folder: folder}
	if r.layout == LayoutBucketed {
		loc.Bucket = Bucket(t.In(r.tz))
	}
	return loc, nil
}

// Parse rebuilds a location from request path segments and validates them.
func (r *Resolver) Parse(folder, bucket string) (Location, error) {
	if err := ValidateFolder(folder); err != nil {
		return Location{}, err
	}
	if r.layout == LayoutBucketed {
		if err := ValidateBucket(bucket); err != nil {
			return Location{}, err
		}
	} else if bucket != "" {
		return Location{}, fmt.Errorf("%w: bucket in flat layout", ErrInvalidName)
	}
	return Location{Folder: folder, Bucket: bucket}, nil
}
