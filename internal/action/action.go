// Package action invokes named external actions (namespace and user
// create/remove, per-lab pre/post hooks) synchronously and normalizes their
// outcome to a status/body pair.
package action

import (
	"context"
	"fmt"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// Action names the known external actions. Pre/post hooks are per-lab
// extensions addressed by their configured name via Hook.
type Action string

const (
	NamespaceCreate Action = "namespace-create"
	NamespaceRemove Action = "namespace-remove"
	UserCreate      Action = "user-create"
	UserRemove      Action = "user-remove"
)

// Hook wraps a per-lab extension action name configured on a LabConfig.
func Hook(name string) Action { return Action(name) }

// Invoker runs a named action and returns its normalized result.
//
// A non-200 result is a normal outcome: duplicate resources and similar
// downstream failures are recorded as step status, not surfaced as errors.
// An *InvocationError is returned only when the action cannot be reached or
// executed at all; callers treat that as terminal for the step.
type Invoker interface {
	Invoke(ctx context.Context, a Action, payload any) (models.Result, error)
}

// InvocationError reports that an action could not be reached or executed.
type InvocationError struct {
	Action Action
	Cause  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("action: invoke %q: %v", e.Action, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// NamespaceCreatePayload requests creation of a tenant namespace.
type NamespaceCreatePayload struct {
	SSMBasePath   string `json:"ssm_base_path"`
	NamespaceName string `json:"namespace_name"`
	Description   string `json:"description,omitempty"`
}

// NamespaceRemovePayload requests removal of a tenant namespace.
type NamespaceRemovePayload struct {
	SSMBasePath   string `json:"ssm_base_path"`
	NamespaceName string `json:"namespace_name"`
}

// UserCreatePayload requests creation of a tenant user account.
type UserCreatePayload struct {
	SSMBasePath    string                 `json:"ssm_base_path"`
	FirstName      string                 `json:"first_name"`
	LastName       string                 `json:"last_name"`
	Email          string                 `json:"email"`
	GroupNames     []string               `json:"group_names"`
	NamespaceRoles []models.NamespaceRole `json:"namespace_roles"`
}

// UserRemovePayload requests removal of a tenant user account.
type UserRemovePayload struct {
	SSMBasePath string `json:"ssm_base_path"`
	Email       string `json:"email"`
}

// HookPayload is the uniform payload passed to pre/post hooks.
type HookPayload struct {
	SSMBasePath string `json:"ssm_base_path"`
	Petname     string `json:"petname"`
	Email       string `json:"email"`
}
