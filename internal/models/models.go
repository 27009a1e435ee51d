package models

import "time"

// DeploymentStatus is the overall lifecycle status of a lab session.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "PENDING"
	DeploymentInProgress DeploymentStatus = "IN_PROGRESS"
	DeploymentCompleted  DeploymentStatus = "COMPLETED"
	DeploymentFailed     DeploymentStatus = "FAILED"
)

// StepStatus is the status of one provisioning/teardown step. The zero value
// means the step has not been reached yet; StepNA means the step does not
// apply to this session.
type StepStatus string

const (
	StepNA         StepStatus = "NA"
	StepInProgress StepStatus = "IN_PROGRESS"
	StepSuccess    StepStatus = "SUCCESS"
	StepFailed     StepStatus = "FAILED"
)

// DeploymentRecord is the durable state of one lab session, keyed by DepID.
// The ttl attribute is an absolute epoch-seconds expiry; the store removes
// the record at or after that instant, which triggers reclamation.
type DeploymentRecord struct {
	DepID     string `json:"dep_id" dynamodbav:"dep_id"`
	LabID     string `json:"lab_id" dynamodbav:"lab_id"`
	Email     string `json:"email" dynamodbav:"email"`
	Petname   string `json:"petname" dynamodbav:"petname"`
	TenantURL string `json:"tenant_url,omitempty" dynamodbav:"tenant_url,omitempty"`

	TTL        int64  `json:"ttl" dynamodbav:"ttl"`
	Expiration string `json:"expiration,omitempty" dynamodbav:"expiration,omitempty"`

	DeploymentStatus DeploymentStatus `json:"deployment_status" dynamodbav:"deployment_status"`
	CreateNamespace  StepStatus       `json:"create_namespace,omitempty" dynamodbav:"create_namespace,omitempty"`
	CreateUser       StepStatus       `json:"create_user,omitempty" dynamodbav:"create_user,omitempty"`
	PreHook          StepStatus       `json:"pre_hook,omitempty" dynamodbav:"pre_hook,omitempty"`
	StatusDetail     string           `json:"status_detail,omitempty" dynamodbav:"status_detail,omitempty"`

	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

// NamespaceRole grants a role within one namespace of the tenant.
type NamespaceRole struct {
	Namespace string `json:"namespace" dynamodbav:"namespace"`
	Role      string `json:"role" dynamodbav:"role"`
}

// LabConfig is the static template for one lab type. Provisioned out of band;
// read-only during a session's lifetime.
type LabConfig struct {
	LabID          string          `json:"lab_id" dynamodbav:"lab_id"`
	SSMBasePath    string          `json:"ssm_base_path" dynamodbav:"ssm_base_path"`
	GroupNames     []string        `json:"group_names" dynamodbav:"group_names"`
	NamespaceRoles []NamespaceRole `json:"namespace_roles" dynamodbav:"namespace_roles"`
	UserNS         bool            `json:"user_ns" dynamodbav:"user_ns"`
	PreHook        string          `json:"pre_hook,omitempty" dynamodbav:"pre_hook,omitempty"`
	PostHook       string          `json:"post_hook,omitempty" dynamodbav:"post_hook,omitempty"`
}

// SessionRequest is one inbound lab session request, from SQS or the HTTP API.
type SessionRequest struct {
	DepID   string `json:"dep_id"`
	LabID   string `json:"lab_id"`
	Email   string `json:"email"`
	Petname string `json:"petname"`
}

// ChangeKind identifies a deployment store change notification.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeRemoved ChangeKind = "removed"
)

// ChangeEvent is one deployment store change notification. Removed events
// carry the record's last image before deletion; that image is the only
// input reclamation receives.
type ChangeEvent struct {
	Kind     ChangeKind
	DepID    string
	NewImage *DeploymentRecord
	OldImage *DeploymentRecord
}

// Result is the uniform outcome contract shared by entry points and external
// actions: statusCode 200 means success, any other value is a normal failure
// outcome to be recorded rather than a transport error.
type Result struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// OK reports whether the result's status code signals success.
func (r Result) OK() bool { return r.StatusCode == 200 }
