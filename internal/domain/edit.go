package domain

import (
	"fmt"
	"strings"
)

const (
	DefaultInpaintFeather  = 8.0
	DefaultInpaintStrength = 0.75
	DefaultStyleStrength   = 0.65

	maxFeather = 256.0
)

// ValidationError marks a malformed client request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// EditRequest is implemented by every edit operation accepted by the API.
type EditRequest interface {
	JobType() JobType
	Validate() error
	// JobInput is the normalized parameter set recorded on the job.
	JobInput() map[string]any
	// PredictionInput is the payload sent to the model.
	PredictionInput() map[string]any
}

type InpaintRequest struct {
	Image         string   `json:"image"`
	Mask          string   `json:"mask"`
	Prompt        *string  `json:"prompt,omitempty"`
	Feather       *float64 `json:"feather,omitempty"`
	Strength      *float64 `json:"strength,omitempty"`
	ReturnPreview *bool    `json:"returnPreview,omitempty"`
}

func (r InpaintRequest) JobType() JobType { return JobTypeInpaint }

func (r InpaintRequest) Validate() error {
	if strings.TrimSpace(r.Image) == "" || strings.TrimSpace(r.Mask) == "" {
		return &ValidationError{Message: "image and mask are required"}
	}
	if err := checkUnit("strength", r.Strength); err != nil {
		return err
	}
	if r.Feather != nil && (*r.Feather < 0 || *r.Feather > maxFeather) {
		return invalid("feather", fmt.Sprintf("must be between 0 and %g", maxFeather))
	}
	return nil
}

func (r InpaintRequest) JobInput() map[string]any {
	return map[string]any{
		"prompt":   stringOr(r.Prompt, ""),
		"feather":  floatOr(r.Feather, DefaultInpaintFeather),
		"strength": floatOr(r.Strength, DefaultInpaintStrength),
	}
}

func (r InpaintRequest) PredictionInput() map[string]any {
	return map[string]any{
		"image":    r.Image,
		"mask":     r.Mask,
		"prompt":   stringOr(r.Prompt, ""),
		"strength": floatOr(r.Strength, DefaultInpaintStrength),
		"feather":  floatOr(r.Feather, DefaultInpaintFeather),
	}
}

type StyleRequest struct {
	Image         string   `json:"image"`
	StyleID       string   `json:"styleId"`
	Prompt        *string  `json:"prompt,omitempty"`
	Strength      *float64 `json:"strength,omitempty"`
	Mask          *string  `json:"mask,omitempty"`
	ReturnPreview *bool    `json:"returnPreview,omitempty"`
}

func (r StyleRequest) JobType() JobType { return JobTypeStyle }

func (r StyleRequest) Validate() error {
	if strings.TrimSpace(r.Image) == "" || strings.TrimSpace(r.StyleID) == "" {
		return &ValidationError{Message: "image and styleId are required"}
	}
	return checkUnit("strength", r.Strength)
}

func (r StyleRequest) JobInput() map[string]any {
	return map[string]any{
		"styleId":  r.StyleID,
		"prompt":   stringOr(r.Prompt, ""),
		"strength": floatOr(r.Strength, DefaultStyleStrength),
	}
}

func (r StyleRequest) PredictionInput() map[string]any {
	input := map[string]any{
		"image":    r.Image,
		"style":    r.StyleID,
		"prompt":   stringOr(r.Prompt, ""),
		"strength": floatOr(r.Strength, DefaultStyleStrength),
	}
	if r.Mask != nil && strings.TrimSpace(*r.Mask) != "" {
		input["mask"] = *r.Mask
	}
	if preset, ok := LookupStylePreset(r.StyleID); ok {
		input["style_prompt"] = preset.Prompt
		if preset.NegativePrompt != "" {
			input["negative_prompt"] = preset.NegativePrompt
		}
	}
	return input
}

type EnhanceRequest struct {
	Image         string         `json:"image"`
	Options       map[string]any `json:"options,omitempty"`
	ReturnPreview *bool          `json:"returnPreview,omitempty"`
}

// EnhanceOptionKeys are the tuning knobs the enhance model understands.
var EnhanceOptionKeys = []string{"denoise", "sharpen", "exposure", "contrast", "saturation", "whiteBalance"}

func (r EnhanceRequest) JobType() JobType { return JobTypeEnhance }

func (r EnhanceRequest) Validate() error {
	if strings.TrimSpace(r.Image) == "" {
		return &ValidationError{Message: "image is required"}
	}
	return nil
}

func (r EnhanceRequest) JobInput() map[string]any {
	options := make(map[string]any, len(r.Options))
	for k, v := range r.Options {
		options[k] = v
	}
	return map[string]any{"options": options}
}

// PredictionInput flattens options next to the image; options never override it.
func (r EnhanceRequest) PredictionInput() map[string]any {
	input := make(map[string]any, len(r.Options)+1)
	for k, v := range r.Options {
		input[k] = v
	}
	input["image"] = r.Image
	return input
}

func checkUnit(field string, v *float64) error {
	if v != nil && (*v < 0 || *v > 1) {
		return invalid(field, "must be between 0 and 1")
	}
	return nil
}

func stringOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}

func floatOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
