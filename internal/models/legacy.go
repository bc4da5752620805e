package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	normalization "github.com/CodeAndHammer/sketchword/internal/normalization"
)

// Hash field names of the legacy record.
const (
	LegacyFieldAuthor     = "authorUsername"
	LegacyFieldDate       = "date"
	LegacyFieldWord       = "word"
	LegacyFieldData       = "data"
	LegacyFieldDictionary = "dictionaryName"
)

// DefaultPalette is the current drawing palette. Index 0 is the primary
// foreground color.
var DefaultPalette = []string{
	"#000000",
	"#FFFFFF",
	"#FF4500",
	"#FFA800",
	"#FFD635",
	"#00A368",
	"#7EED56",
	"#2450A4",
	"#3690EA",
	"#51E9F4",
	"#811E9F",
	"#B44AC0",
	"#FF99AA",
	"#9C6926",
	"#898D90",
	"#D4D7D9",
}

const (
	DrawingSize      = 16
	BackgroundPixel  = -1
	legacyBackground = 0
)

// Drawing is the current pixel encoding: every pixel is BackgroundPixel or
// an index into Palette.
type Drawing struct {
	Size    int      `json:"size"`
	Palette []string `json:"palette"`
	Pixels  []int    `json:"pixels"`
}

// LegacyChallengeRecord is the shape older versions stored. Authors are
// named by display name and pixels use the legacy color indices.
type LegacyChallengeRecord struct {
	AuthorName     string
	CreatedAt      time.Time
	Word           string
	Pixels         []int
	DictionaryName string
	hasPixels      bool
}

func LegacyFromHash(fields map[string]string) LegacyChallengeRecord {
	legacy := LegacyChallengeRecord{
		AuthorName:     strings.TrimSpace(fields[LegacyFieldAuthor]),
		CreatedAt:      parseMillis(fields[LegacyFieldDate]),
		Word:           strings.TrimSpace(fields[LegacyFieldWord]),
		DictionaryName: fields[LegacyFieldDictionary],
	}
	if raw := fields[LegacyFieldData]; raw != "" {
		var pixels []int
		if err := json.Unmarshal([]byte(raw), &pixels); err == nil {
			legacy.Pixels = pixels
			legacy.hasPixels = true
		}
	}
	return legacy
}

// Validate reports every missing required field.
func (l LegacyChallengeRecord) Validate() error {
	var errs []error
	if l.AuthorName == "" {
		errs = append(errs, fmt.Errorf("missing %s", LegacyFieldAuthor))
	}
	if l.CreatedAt.IsZero() {
		errs = append(errs, fmt.Errorf("missing %s", LegacyFieldDate))
	}
	if l.Word == "" {
		errs = append(errs, fmt.Errorf("missing %s", LegacyFieldWord))
	}
	if !l.hasPixels {
		errs = append(errs, fmt.Errorf("missing %s", LegacyFieldData))
	}
	return errors.Join(errs...)
}

// WithPixels marks pixels as present; used when building legacy values in code.
func (l LegacyChallengeRecord) WithPixels(pixels []int) LegacyChallengeRecord {
	l.Pixels = pixels
	l.hasPixels = true
	return l
}

type RecordKind int

const (
	RecordCurrent RecordKind = iota + 1
	RecordLegacy
)

// RecordVariant holds exactly one of the two record shapes.
type RecordVariant struct {
	Kind    RecordKind
	Current *ChallengeRecord
	Legacy  *LegacyChallengeRecord
}

func CurrentVariant(rec ChallengeRecord) RecordVariant {
	return RecordVariant{Kind: RecordCurrent, Current: &rec}
}

func LegacyVariant(rec LegacyChallengeRecord) RecordVariant {
	return RecordVariant{Kind: RecordLegacy, Legacy: &rec}
}

// ConvertLegacy builds the current record from a legacy one. It is pure and
// never mutates legacy.
func ConvertLegacy(challengeID string, legacy LegacyChallengeRecord, authorID string) ChallengeRecord {
	return ChallengeRecord{
		ChallengeID:    challengeID,
		Word:           legacy.Word,
		NormalizedWord: normalization.Word(legacy.Word),
		WordListID:     legacy.DictionaryName,
		AuthorID:       authorID,
		AuthorName:     legacy.AuthorName,
		CreatedAt:      legacy.CreatedAt,
		Drawing:        ConvertLegacyPixels(legacy.Pixels),
	}
}

// ConvertLegacyPixels maps legacy color indices onto DefaultPalette:
// 0 is background, 1 is the primary foreground (palette index 0), and k>=2
// maps to palette index k-1. Values outside the palette become background.
// The grid is always DrawingSize x DrawingSize: short data is padded with
// background and extra pixels are dropped.
func ConvertLegacyPixels(legacy []int) Drawing {
	pixels := make([]int, DrawingSize*DrawingSize)
	for i := range pixels {
		if i >= len(legacy) {
			pixels[i] = BackgroundPixel
			continue
		}
		switch v := legacy[i]; {
		case v == legacyBackground, v < 0, v > len(DefaultPalette):
			pixels[i] = BackgroundPixel
		default:
			pixels[i] = v - 1
		}
	}
	palette := make([]string, len(DefaultPalette))
	copy(palette, DefaultPalette)
	return Drawing{Size: DrawingSize, Palette: palette, Pixels: pixels}
}

// Resolve yields a current-format record for either variant. Legacy
// records are converted with authorID; current records are returned as-is.
func (v RecordVariant) Resolve(challengeID, authorID string) (ChallengeRecord, bool) {
	switch v.Kind {
	case RecordCurrent:
		if v.Current == nil {
			return ChallengeRecord{}, false
		}
		return *v.Current, true
	case RecordLegacy:
		if v.Legacy == nil {
			return ChallengeRecord{}, false
		}
		return ConvertLegacy(challengeID, *v.Legacy, authorID), true
	default:
		return ChallengeRecord{}, false
	}
}
