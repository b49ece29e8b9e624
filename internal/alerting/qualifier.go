package alerting

import (
	"fmt"
	"strings"

	"github.com/Capitan-Parrot/distributed-video-system/sentry/internal/models"
	"github.com/samber/lo"
)

// DefaultPersonClasses are the class labels treated as a person.
var DefaultPersonClasses = []string{"person"}

// DefaultKeypointVisibility is the visibility above which a keypoint counts
// as seen by the loose qualifier.
const DefaultKeypointVisibility = 0.01

const (
	QualifierStrict = "strict"
	QualifierLoose  = "loose"
)

// Qualifier is the intrusion predicate. It returns the entities of a frame
// that qualify; an empty result means the frame does not qualify.
type Qualifier interface {
	Qualifying(detections []models.Detection) []models.Detection
}

// QualifierFunc adapts a function to Qualifier.
type QualifierFunc func(detections []models.Detection) []models.Detection

func (f QualifierFunc) Qualifying(detections []models.Detection) []models.Detection {
	return f(detections)
}

// PersonQualifier accepts detections whose class is one of classes and whose
// score is at least minScore. This is the reference predicate.
func PersonQualifier(minScore float64, classes ...string) Qualifier {
	set := lo.SliceToMap(classes, func(c string) (string, struct{}) {
		return strings.ToLower(c), struct{}{}
	})

	return QualifierFunc(func(detections []models.Detection) []models.Detection {
		return lo.Filter(detections, func(d models.Detection, _ int) bool {
			_, ok := set[strings.ToLower(d.Class)]
			return ok && d.Score >= minScore
		})
	})
}

// AnyEntityQualifier accepts any detection that has a bounding box or at least
// one keypoint with visibility above minVisibility, regardless of class.
func AnyEntityQualifier(minVisibility float64) Qualifier {
	return QualifierFunc(func(detections []models.Detection) []models.Detection {
		return lo.Filter(detections, func(d models.Detection, _ int) bool {
			if d.HasBox() {
				return true
			}
			return lo.SomeBy(d.Keypoints, func(k models.Keypoint) bool {
				return k.Visibility > minVisibility
			})
		})
	})
}

// NewQualifier builds a qualifier by name.
func NewQualifier(name string, minScore, minVisibility float64, classes []string) (Qualifier, error) {
	switch name {
	case "", QualifierStrict:
		if len(classes) == 0 {
			classes = DefaultPersonClasses
		}
		return PersonQualifier(minScore, classes...), nil
	case QualifierLoose:
		return AnyEntityQualifier(minVisibility), nil
	default:
		return nil, fmt.Errorf("unknown qualifier %q", name)
	}
}
