//go:build integration
// +build integration

package auth0_test

import (
	"context"
	"os"
	"testing"

	"github.com/goliatone/go-auth-bridge/provider/auth0"
	"github.com/stretchr/testify/require"
)

func TestAuth0Integration(t *testing.T) {
	domain := os.Getenv("AUTH0_DOMAIN")
	audience := os.Getenv("AUTH0_AUDIENCE")
	token := os.Getenv("AUTH0_TEST_TOKEN")
	if domain == "" || audience == "" || token == "" {
		t.Skip("AUTH0_DOMAIN, AUTH0_AUDIENCE, and AUTH0_TEST_TOKEN must be set")
	}

	verifier, err := auth0.NewTokenVerifier(context.Background(), auth0.DefaultConfig(domain, []string{audience}))
	require.NoError(t, err)
	t.Cleanup(verifier.Close)

	claim, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	require.NotEmpty(t, claim.Subject)
}
