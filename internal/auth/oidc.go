package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc"
	"github.com/aws/aws-sdk-go-v2/service/ssooidc/types"
)

// SSOOIDC implements DeviceAuthorizer with the AWS SSO OIDC service.
type SSOOIDC struct {
	client *ssooidc.Client
}

// NewSSOOIDC returns a client for region. A non-empty endpoint overrides the
// regional service endpoint.
func NewSSOOIDC(region, endpoint string, httpClient *http.Client) *SSOOIDC {
	opts := ssooidc.Options{
		Region: region,
	}
	if httpClient != nil {
		opts.HTTPClient = httpClient
	}
	if endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
	}
	return &SSOOIDC{client: ssooidc.New(opts)}
}

// RegisterClient registers a public OIDC client.
func (s *SSOOIDC) RegisterClient(ctx context.Context, clientName, clientType string, scopes []string) (*ClientRegistration, error) {
	out, err := s.client.RegisterClient(ctx, &ssooidc.RegisterClientInput{
		ClientName: aws.String(clientName),
		ClientType: aws.String(clientType),
		Scopes:     scopes,
	})
	if err != nil {
		return nil, err
	}
	return &ClientRegistration{
		ClientID:     aws.ToString(out.ClientId),
		ClientSecret: aws.ToString(out.ClientSecret),
		ExpiresAt:    time.Unix(out.ClientSecretExpiresAt, 0),
	}, nil
}

// StartDeviceAuthorization starts a device authorization for the client.
func (s *SSOOIDC) StartDeviceAuthorization(ctx context.Context, clientID, clientSecret, startURL string) (*DeviceAuthorization, error) {
	out, err := s.client.StartDeviceAuthorization(ctx, &ssooidc.StartDeviceAuthorizationInput{
		ClientId:     aws.String(clientID),
		ClientSecret: aws.String(clientSecret),
		StartUrl:     aws.String(startURL),
	})
	if err != nil {
		return nil, err
	}
	return &DeviceAuthorization{
		DeviceCode:              aws.ToString(out.DeviceCode),
		UserCode:                aws.ToString(out.UserCode),
		VerificationURI:         aws.ToString(out.VerificationUri),
		VerificationURIComplete: aws.ToString(out.VerificationUriComplete),
		ExpiresIn:               time.Duration(out.ExpiresIn) * time.Second,
		Interval:                time.Duration(out.Interval) * time.Second,
	}, nil
}

// CreateToken calls the token endpoint.
func (s *SSOOIDC) CreateToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	in := &ssooidc.CreateTokenInput{
		ClientId:     aws.String(req.ClientID),
		ClientSecret: aws.String(req.ClientSecret),
		GrantType:    aws.String(req.GrantType),
	}
	if req.DeviceCode != "" {
		in.DeviceCode = aws.String(req.DeviceCode)
	}
	if req.RefreshToken != "" {
		in.RefreshToken = aws.String(req.RefreshToken)
	}

	out, err := s.client.CreateToken(ctx, in)
	if err != nil {
		return nil, mapTokenError(err)
	}
	return &TokenResponse{
		AccessToken:  aws.ToString(out.AccessToken),
		RefreshToken: aws.ToString(out.RefreshToken),
		ExpiresIn:    time.Duration(out.ExpiresIn) * time.Second,
	}, nil
}

func mapTokenError(err error) error {
	var (
		pending  *types.AuthorizationPendingException
		slowDown *types.SlowDownException
		expired  *types.ExpiredTokenException
	)
	switch {
	case errors.As(err, &pending):
		return ErrAuthorizationPending
	case errors.As(err, &slowDown):
		return ErrSlowDown
	case errors.As(err, &expired):
		return ErrDeviceCodeExpired
	default:
		return err
	}
}
