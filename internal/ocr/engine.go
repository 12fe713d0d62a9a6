package ocr

import (
	"context"
	"fmt"
	"strings"
)

// Page segmentation modes, ordered most to least reliable for invoices
const (
	PSMAutoOrientation = 1
	PSMSingleColumn    = 4
	PSMSingleBlock     = 6
	PSMSparseText      = 11
)

// PassConfig is one recognition configuration
type PassConfig struct {
	PSM      int    `json:"psm"`
	OEM      int    `json:"oem"`
	Language string `json:"language"`
}

func (c PassConfig) String() string {
	return fmt.Sprintf("psm=%d oem=%d lang=%s", c.PSM, c.OEM, c.Language)
}

// DefaultPasses returns the ordered pass list for lang: single block, single
// column, sparse text, then automatic orientation detection.
func DefaultPasses(lang string, oem int) []PassConfig {
	if lang == "" {
		lang = "fr"
	}
	psms := []int{PSMSingleBlock, PSMSingleColumn, PSMSparseText, PSMAutoOrientation}
	passes := make([]PassConfig, len(psms))
	for i, psm := range psms {
		passes[i] = PassConfig{PSM: psm, OEM: oem, Language: lang}
	}
	return passes
}

// Engine recognizes the text of one image. Poor quality is never an error;
// an engine that cannot run at all returns an error wrapping
// models.ErrRecognitionUnavailable.
type Engine interface {
	Recognize(ctx context.Context, image []byte, cfg PassConfig) (string, error)
}

var tesseractLanguages = map[string]string{
	"fr": "fra",
	"en": "eng",
	"de": "deu",
	"es": "spa",
	"it": "ita",
	"nl": "nld",
	"pt": "por",
}

// TesseractLanguage maps an ISO 639-1 code to the tesseract traineddata name.
// Codes tesseract already understands ("fra", "fra+eng") pass through.
func TesseractLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "fra"
	}
	if t, ok := tesseractLanguages[lang]; ok {
		return t
	}
	return lang
}

// layoutHint describes the segmentation mode for the vision backends
func layoutHint(psm int) string {
	switch psm {
	case PSMSingleBlock:
		return "Lis la page comme un bloc de texte unique."
	case PSMSingleColumn:
		return "Lis la page comme une seule colonne de texte."
	case PSMSparseText:
		return "Relève tout le texte épars, même isolé, dans n'importe quel ordre."
	default:
		return "Détecte l'orientation de la page avant de la lire."
	}
}

func visionPrompt(cfg PassConfig) string {
	return fmt.Sprintf("Transcris fidèlement tout le texte visible de ce document (langue: %s). "+
		"%s Conserve les retours à la ligne et les montants tels qu'écrits. "+
		"Réponds uniquement avec le texte, sans commentaire.",
		cfg.Language, layoutHint(cfg.PSM))
}
