// Package lifecycle drives the change-triggered state machines: provisioning
// on record creation, reclamation on record removal. Provisioning is
// fail-fast; reclamation is best-effort. The asymmetry is deliberate:
// stopping forward progress avoids granting partial access, while an early
// teardown abort would leave more dangling resources, not fewer.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/tenantops/lab-lifecycle/internal/action"
	"github.com/tenantops/lab-lifecycle/internal/audit"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/params"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

// adminRole is granted on a session's dedicated namespace.
const adminRole = "admin"

// Provisioner runs the ordered creation sequence for one new session.
type Provisioner struct {
	store    store.DeploymentStore
	labs     store.LabConfigStore
	params   params.Resolver
	invoker  action.Invoker
	recorder *audit.Recorder
}

func NewProvisioner(st store.DeploymentStore, labs store.LabConfigStore, resolver params.Resolver, invoker action.Invoker, recorder *audit.Recorder) *Provisioner {
	return &Provisioner{store: st, labs: labs, params: resolver, invoker: invoker, recorder: recorder}
}

// Run provisions the session described by a freshly created record. Any
// fatal error marks the deployment FAILED with the error detail and is
// returned so the triggering infrastructure observes non-success. Completed
// steps are not rolled back; reclamation undoes whatever was marked SUCCESS.
func (p *Provisioner) Run(ctx context.Context, rec models.DeploymentRecord) (models.Result, error) {
	log.Printf("[provision] starting deployment %s (lab=%s)", rec.DepID, rec.LabID)

	if err := p.store.Update(ctx, rec.DepID, store.RecordUpdate{
		DeploymentStatus: store.StatusPtr(models.DeploymentInProgress),
	}); err != nil {
		return p.fail(ctx, rec.DepID, fmt.Errorf("mark in progress: %w", err))
	}

	lab, err := p.labs.Get(ctx, rec.LabID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("lab %q not found: %w", rec.LabID, err)
		}
		return p.fail(ctx, rec.DepID, err)
	}

	values, err := p.params.Resolve(ctx, []string{lab.SSMBasePath + "/tenant-url"})
	if err != nil {
		return p.fail(ctx, rec.DepID, fmt.Errorf("resolve tenant url: %w", err))
	}
	tenantURL := values["tenant-url"]
	// Cached on the record for reclamation's shared-user check.
	if err := p.store.Update(ctx, rec.DepID, store.RecordUpdate{
		TenantURL: store.StringPtr(tenantURL),
	}); err != nil {
		return p.fail(ctx, rec.DepID, fmt.Errorf("persist tenant url: %w", err))
	}

	roles := append([]models.NamespaceRole(nil), lab.NamespaceRoles...)

	if lab.UserNS {
		ok, err := p.runStep(ctx, rec.DepID, stepCreateNamespace, action.NamespaceCreate, action.NamespaceCreatePayload{
			SSMBasePath:   lab.SSMBasePath,
			NamespaceName: rec.Petname,
			Description:   fmt.Sprintf("Namespace for %s", rec.DepID),
		})
		if err != nil {
			return p.fail(ctx, rec.DepID, err)
		}
		if !ok {
			return p.fail(ctx, rec.DepID, fmt.Errorf("namespace create failed for %s", rec.Petname))
		}
		roles = append(roles, models.NamespaceRole{Namespace: rec.Petname, Role: adminRole})
	} else {
		if err := p.store.Update(ctx, rec.DepID, store.RecordUpdate{
			CreateNamespace: store.StepPtr(models.StepNA),
		}); err != nil {
			return p.fail(ctx, rec.DepID, fmt.Errorf("mark namespace step: %w", err))
		}
	}

	ok, err := p.runStep(ctx, rec.DepID, stepCreateUser, action.UserCreate, action.UserCreatePayload{
		SSMBasePath:    lab.SSMBasePath,
		FirstName:      firstNameFromEmail(rec.Email),
		LastName:       "User",
		Email:          rec.Email,
		GroupNames:     lab.GroupNames,
		NamespaceRoles: roles,
	})
	if err != nil {
		return p.fail(ctx, rec.DepID, err)
	}
	if !ok {
		return p.fail(ctx, rec.DepID, fmt.Errorf("user create failed for %s", rec.Email))
	}

	if lab.PreHook != "" {
		// Hook failure is recorded on the step but does not fail the
		// deployment; a broken per-lab extension should not take down a
		// usable lab.
		hookOK, err := p.runStep(ctx, rec.DepID, stepPreHook, action.Hook(lab.PreHook), action.HookPayload{
			SSMBasePath: lab.SSMBasePath,
			Petname:     rec.Petname,
			Email:       rec.Email,
		})
		if err != nil {
			return p.fail(ctx, rec.DepID, err)
		}
		if !hookOK {
			log.Printf("[provision] pre hook %s failed for deployment %s", lab.PreHook, rec.DepID)
		}
	} else {
		if err := p.store.Update(ctx, rec.DepID, store.RecordUpdate{
			PreHook: store.StepPtr(models.StepNA),
		}); err != nil {
			return p.fail(ctx, rec.DepID, fmt.Errorf("mark hook step: %w", err))
		}
	}

	if err := p.store.Update(ctx, rec.DepID, store.RecordUpdate{
		DeploymentStatus: store.StatusPtr(models.DeploymentCompleted),
	}); err != nil {
		return p.fail(ctx, rec.DepID, fmt.Errorf("mark completed: %w", err))
	}
	log.Printf("[provision] deployment %s completed", rec.DepID)
	p.recorder.Record(ctx, audit.EventProvisionCompleted, rec.DepID, nil)
	return models.Result{StatusCode: 200, Body: fmt.Sprintf("deployment %s provisioned", rec.DepID)}, nil
}

type stepField int

const (
	stepCreateNamespace stepField = iota
	stepCreateUser
	stepPreHook
)

func stepUpdate(f stepField, s models.StepStatus) store.RecordUpdate {
	switch f {
	case stepCreateNamespace:
		return store.RecordUpdate{CreateNamespace: store.StepPtr(s)}
	case stepCreateUser:
		return store.RecordUpdate{CreateUser: store.StepPtr(s)}
	default:
		return store.RecordUpdate{PreHook: store.StepPtr(s)}
	}
}

// runStep records IN_PROGRESS, invokes the action, and records the terminal
// step status. It returns (false, nil) for a normal non-200 outcome and a
// non-nil error only when the action could not be invoked at all.
func (p *Provisioner) runStep(ctx context.Context, depID string, f stepField, a action.Action, payload any) (bool, error) {
	if err := p.store.Update(ctx, depID, stepUpdate(f, models.StepInProgress)); err != nil {
		return false, fmt.Errorf("mark step in progress: %w", err)
	}
	res, err := p.invoker.Invoke(ctx, a, payload)
	if err != nil {
		if uerr := p.store.Update(ctx, depID, stepUpdate(f, models.StepFailed)); uerr != nil {
			log.Printf("[provision] record step failure for %s: %v", depID, uerr)
		}
		return false, err
	}
	status := models.StepSuccess
	if !res.OK() {
		status = models.StepFailed
	}
	if err := p.store.Update(ctx, depID, stepUpdate(f, status)); err != nil {
		return false, fmt.Errorf("record step status: %w", err)
	}
	return res.OK(), nil
}

func (p *Provisioner) fail(ctx context.Context, depID string, cause error) (models.Result, error) {
	log.Printf("[provision] deployment %s failed: %v", depID, cause)
	if err := p.store.Update(ctx, depID, store.RecordUpdate{
		DeploymentStatus: store.StatusPtr(models.DeploymentFailed),
		StatusDetail:     store.StringPtr(cause.Error()),
	}); err != nil {
		log.Printf("[provision] record failure for %s: %v", depID, err)
	}
	p.recorder.Record(ctx, audit.EventProvisionFailed, depID, map[string]string{"error": cause.Error()})
	return models.Result{StatusCode: 500, Body: fmt.Sprintf("Error: %v", cause)}, cause
}

func firstNameFromEmail(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}
