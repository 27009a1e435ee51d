package action

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// lambdaAPI is the subset of the Lambda client the invoker needs.
type lambdaAPI interface {
	Invoke(ctx context.Context, in *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker dispatches actions to AWS Lambda functions synchronously.
// Known actions are routed through the configured function names; hook
// actions are invoked by their literal name.
type LambdaInvoker struct {
	client lambdaAPI
	routes map[Action]string
}

// LambdaRoutes maps the closed action set to deployed function names.
type LambdaRoutes struct {
	NamespaceCreateFn string
	NamespaceRemoveFn string
	UserCreateFn      string
	UserRemoveFn      string
}

func NewLambdaInvoker(client *lambda.Client, routes LambdaRoutes) *LambdaInvoker {
	return &LambdaInvoker{
		client: client,
		routes: map[Action]string{
			NamespaceCreate: routes.NamespaceCreateFn,
			NamespaceRemove: routes.NamespaceRemoveFn,
			UserCreate:      routes.UserCreateFn,
			UserRemove:      routes.UserRemoveFn,
		},
	}
}

func (l *LambdaInvoker) Invoke(ctx context.Context, a Action, payload any) (models.Result, error) {
	fn, ok := l.routes[a]
	if !ok || fn == "" {
		fn = string(a)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return models.Result{}, &InvocationError{Action: a, Cause: fmt.Errorf("marshal payload: %w", err)}
	}
	out, err := l.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(fn),
		InvocationType: lambdatypes.InvocationTypeRequestResponse,
		Payload:        body,
	})
	if err != nil {
		return models.Result{}, &InvocationError{Action: a, Cause: err}
	}
	if out.FunctionError != nil {
		// The function ran but raised; its error payload is the failure body.
		return models.Result{StatusCode: 500, Body: string(out.Payload)}, nil
	}
	var res models.Result
	if err := json.Unmarshal(out.Payload, &res); err != nil {
		return models.Result{}, &InvocationError{Action: a, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return res, nil
}
