package app

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfig     = errors.New("configuration error")
	ErrConnection = errors.New("connection error")
)

// ConfigError lists the settings a session could not start without.
type ConfigError struct {
	Missing []string
	Err     error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(ErrConfig.Error())
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing %s", strings.Join(e.Missing, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConfig}
	}
	return []error{ErrConfig, e.Err}
}
