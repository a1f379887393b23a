package llm

import "fmt"

// ProviderError is an error from a model provider.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code, if applicable
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
