//go:build integration

// Package firestoretest runs a Firestore emulator container for integration tests.
package firestoretest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/storefront/api/internal/platform/config"
	pfirestore "github.com/storefront/api/internal/platform/firestore"
)

const (
	emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	emulatorPort  = "8080/tcp"
	readyLine     = "Dev App Server is now running"
)

// StartProvider boots an emulator and returns a provider pointed at it. The container is
// terminated when the test ends; without a docker daemon the test is skipped.
func StartProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        emulatorImage,
			ExposedPorts: []string{emulatorPort},
			Cmd: []string{
				"gcloud", "beta", "emulators", "firestore", "start",
				"--host-port=0.0.0.0:8080", "--quiet",
			},
			WaitingFor: wait.ForLog(readyLine).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate emulator: %s", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, emulatorPort, "")
	require.NoError(t, err)

	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: projectID, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
