package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/storefront/api/internal/platform/config"
)

const (
	defaultRoleClaim     = "roles"
	defaultVerifyTimeout = 5 * time.Second
)

type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseVerifier validates Firebase ID tokens issued to storefront customers and staff.
type FirebaseVerifier struct {
	client    idTokenVerifier
	roleClaim string
	timeout   time.Duration
}

// NewFirebaseVerifier initialises the Admin SDK for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}
	return newFirebaseVerifier(client, cfg.RoleClaim), nil
}

func newFirebaseVerifier(client idTokenVerifier, roleClaim string) *FirebaseVerifier {
	if roleClaim == "" {
		roleClaim = defaultRoleClaim
	}
	return &FirebaseVerifier{client: client, roleClaim: roleClaim, timeout: defaultVerifyTimeout}
}

func (v *FirebaseVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	token, err := v.client.VerifyIDToken(ctx, raw)
	if err != nil {
		if firebaseauth.IsIDTokenExpired(err) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	roles := rolesFromClaims(token.Claims, v.roleClaim)
	if len(roles) == 0 {
		roles = []string{RoleUser}
	}
	return &Identity{
		UID:    token.UID,
		Email:  claimString(token.Claims, "email"),
		Roles:  roles,
		Source: "firebase",
	}, nil
}
