package domain

type StylePreset struct {
	ID              string  `json:"id"`
	Label           string  `json:"label"`
	Description     string  `json:"description"`
	DefaultStrength float64 `json:"defaultStrength"`
	AllowMask       bool    `json:"allowMask"`
	Prompt          string  `json:"prompt"`
	NegativePrompt  string  `json:"negativePrompt,omitempty"`
}

var StylePresets = []StylePreset{
	{
		ID:              "cartoon",
		Label:           "Cartoon",
		Description:     "Illustrated outlines and flat color blocks",
		DefaultStrength: 0.6,
		AllowMask:       true,
		Prompt:          "cartoon, clean outlines, flat colors, cel shading",
		NegativePrompt:  "realistic, photo, noise, artifacts",
	},
	{
		ID:              "oil",
		Label:           "Oil painting",
		Description:     "Thick brush strokes and texture",
		DefaultStrength: 0.8,
		AllowMask:       true,
		Prompt:          "oil painting, impasto, rich texture, dramatic lighting",
		NegativePrompt:  "flat, low detail",
	},
	{
		ID:              "cyberpunk",
		Label:           "Cyberpunk",
		Description:     "Neon and rainy night streets",
		DefaultStrength: 0.65,
		AllowMask:       true,
		Prompt:          "cyberpunk, neon lights, rainy city, reflective surfaces, high contrast",
		NegativePrompt:  "low contrast, warm daylight",
	},
	{
		ID:              "film",
		Label:           "Vintage film",
		Description:     "Film grain and color shift",
		DefaultStrength: 0.4,
		AllowMask:       false,
		Prompt:          "vintage film look, grain, halation, slight color shift",
		NegativePrompt:  "overly sharp, digital crisp",
	},
	{
		ID:              "illustration",
		Label:           "Illustration",
		Description:     "Soft illustration for portraits and still life",
		DefaultStrength: 0.6,
		AllowMask:       true,
		Prompt:          "soft illustration, pastel colors, gentle lighting, subtle texture",
	},
	{
		ID:              "bw",
		Label:           "Black and white",
		Description:     "High contrast monochrome",
		DefaultStrength: 0.5,
		AllowMask:       false,
		Prompt:          "black and white, high contrast, film grain",
	},
	{
		ID:              "neon",
		Label:           "Neon",
		Description:     "Intense color and contrast",
		DefaultStrength: 0.8,
		AllowMask:       false,
		Prompt:          "neon glow, vibrant colors, high contrast, futuristic",
	},
}

func LookupStylePreset(id string) (StylePreset, bool) {
	for _, p := range StylePresets {
		if p.ID == id {
			return p, true
		}
	}
	return StylePreset{}, false
}
