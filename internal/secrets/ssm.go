package secrets

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// DefaultParameterName is the conventional secret store key for the
// exchange API key pair.
const DefaultParameterName = "/exchange/api-keys"

// SSMAPI is the slice of the SSM client the provider uses.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, opts ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSM fetches credentials from an encrypted SSM parameter holding a JSON
// key pair.
type SSM struct {
	client SSMAPI
	name   string
}

// NewSSM wraps an SSM client. An empty name falls back to
// DefaultParameterName.
func NewSSM(client SSMAPI, name string) *SSM {
	if name == "" {
		name = DefaultParameterName
	}
	return &SSM{client: client, name: name}
}

// Fetch reads and decrypts the parameter, then parses the JSON value.
func (s *SSM) Fetch(ctx context.Context) (Credentials, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: fetch parameter %s: %w", s.name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return Credentials{}, fmt.Errorf("secrets: parameter %s has no value", s.name)
	}
	return ParseCredentials([]byte(*out.Parameter.Value))
}
