package ports

import (
	"context"

	"github.com/askmygarmin/backend/garmin"
)

// Provider is the upstream Garmin Connect boundary.
type Provider interface {
	// Login runs the full credential exchange. When Garmin requests an MFA
	// code mid-flight, prompt is invoked at most once and must return the
	// code, or "" to let the exchange fail. Login blocks for the duration
	// of the exchange, including the prompt.
	Login(ctx context.Context, email, password string, prompt func() string) (*garmin.Credential, error)

	// Profile fetches the authenticated user's profile.
	Profile(ctx context.Context, cred *garmin.Credential) (*garmin.Profile, error)

	// FetchAll gathers the health and activity sections used to build the
	// coach prompt. Individual section failures degrade to error entries in
	// the returned map; only a total failure returns an error.
	FetchAll(ctx context.Context, cred *garmin.Credential) (map[string]any, error)
}
