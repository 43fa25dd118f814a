package llm

import "fmt"

// ErrNoProviderConfigured is returned when provider resolution finds no
// message override, agent setting, or registry default to fall back on.
var ErrNoProviderConfigured = fmt.Errorf("llm: no provider configured")

// UnknownProviderError is returned when a named provider was never
// registered. Resolving to an inactive or unknown provider must fail
// fast per spec §4.6 rather than silently substituting a default.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("llm: provider %q is not registered or inactive", e.Name)
}
