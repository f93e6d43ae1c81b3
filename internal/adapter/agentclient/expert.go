package agentclient

import (
	"context"
	"fmt"

	"github.com/curatedhealth/missionengine/internal/domain"
	"github.com/curatedhealth/missionengine/internal/expert"
)

// Expert adapts an agent endpoint to expert.Caller.
type Expert struct {
	client   *Client
	endpoint string
}

// NewExpert creates an expert backed by the agent at endpoint.
func NewExpert(client *Client, endpoint string) *Expert {
	return &Expert{client: client, endpoint: endpoint}
}

// Factory builds agent experts from definitions sharing one client.
func Factory(client *Client) expert.Factory {
	return func(def expert.Definition) (expert.Caller, error) {
		if def.Endpoint == "" {
			return nil, fmt.Errorf("agent backend requires an endpoint")
		}
		return NewExpert(client, def.Endpoint), nil
	}
}

// Call implements expert.Caller.
func (e *Expert) Call(ctx context.Context, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	return e.client.Consult(ctx, e.endpoint, ref, req)
}

var _ expert.Caller = (*Expert)(nil)
