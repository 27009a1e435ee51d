package params

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of the SSM client the resolver needs.
type ssmAPI interface {
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// SSMResolver resolves parameters from AWS Systems Manager Parameter Store,
// decrypting SecureString values.
type SSMResolver struct {
	client ssmAPI
}

func NewSSMResolver(client *ssm.Client) *SSMResolver {
	return &SSMResolver{client: client}
}

func (r *SSMResolver) Resolve(ctx context.Context, names []string) (map[string]string, error) {
	if len(names) == 0 {
		return map[string]string{}, nil
	}
	out, err := r.client.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, &ConfigError{Cause: fmt.Errorf("ssm get parameters: %w", err)}
	}
	if len(out.InvalidParameters) > 0 {
		return nil, &ConfigError{Missing: out.InvalidParameters}
	}
	values := make(map[string]string, len(out.Parameters))
	for _, p := range out.Parameters {
		values[LastSegment(aws.ToString(p.Name))] = aws.ToString(p.Value)
	}
	return values, nil
}
