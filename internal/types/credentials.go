package types

import (
	"fmt"
	"strings"
)

// Credentials holds the Protect controller login material fetched from the
// secret store. Fetched once per process lifetime and cached; invalidated
// only by an explicit reset or process restart.
type Credentials struct {
	Hostname string       `json:"hostname"`
	Username string       `json:"username"`
	Password SecretString `json:"password"`
	APIKey   SecretString `json:"apikey,omitempty"`
}

// Validate checks that the required fields are present and non-blank.
// APIKey is optional; when present it takes precedence over username/password
// authentication against the controller.
func (c Credentials) Validate() *AppError {
	var missing []string
	if strings.TrimSpace(c.Hostname) == "" {
		missing = append(missing, "hostname")
	}
	if strings.TrimSpace(c.Username) == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(c.Password.Unmask()) == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return NewAppErrorWithDetails(
			ErrCodeCredentialsInvalid,
			fmt.Sprintf("credentials secret missing required fields: %s", strings.Join(missing, ", ")),
			nil,
			map[string]any{"missing_fields": missing},
		)
	}
	return nil
}
