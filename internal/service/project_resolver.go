package service

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/CONG-TY-ANH-VA-EM/AntiProxy/internal/pkg/googleauth"
)

// ProjectResolver resolves the upstream project id for an access token.
type ProjectResolver interface {
	FetchProjectID(ctx context.Context, accessToken string) (string, error)
}

// googleProjectResolver fronts the Cloud Code discovery call with
// singleflight, so a burst of requests on a project-less account triggers
// one upstream fetch.
type googleProjectResolver struct {
	client *googleauth.Client
	group  singleflight.Group
}

// NewProjectResolver creates the production resolver.
func NewProjectResolver(client *googleauth.Client) ProjectResolver {
	return &googleProjectResolver{client: client}
}

func (r *googleProjectResolver) FetchProjectID(ctx context.Context, accessToken string) (string, error) {
	v, err, _ := r.group.Do(accessToken, func() (any, error) {
		return r.client.FetchProjectID(ctx, accessToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
