package rtvoice

import "fmt"

// ResponseOptions configures how the model should generate one response.
type ResponseOptions struct {
	// Modalities specifies which output types to generate.
	// Supported values: ["text", "audio"]
	Modalities []string `json:"modalities,omitempty"`

	// Instructions provide response-specific guidance. It is always sent,
	// even when empty.
	Instructions string `json:"instructions"`
}

// ValidateResponseOptions validates response creation options.
func ValidateResponseOptions(opts ResponseOptions) error {
	if len(opts.Modalities) > 0 {
		validModalities := map[string]bool{"text": true, "audio": true}
		for _, modality := range opts.Modalities {
			if !validModalities[modality] {
				return fmt.Errorf("invalid modality %q, must be 'text' or 'audio'", modality)
			}
		}
	}

	if len(opts.Instructions) > 10000 {
		return fmt.Errorf("instructions too long (%d characters), maximum is 10000", len(opts.Instructions))
	}
	return nil
}
