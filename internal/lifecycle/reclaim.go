package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tenantops/lab-lifecycle/internal/action"
	"github.com/tenantops/lab-lifecycle/internal/audit"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

// Reclaimer tears down a session's resources after its record is removed,
// working only from the record's last image. Teardown is best-effort: each
// step's failure is logged and absorbed so later steps still run. Only a
// failure to load the lab configuration aborts, since nothing downstream can
// run without it.
type Reclaimer struct {
	store    store.DeploymentStore
	labs     store.LabConfigStore
	invoker  action.Invoker
	recorder *audit.Recorder
}

func NewReclaimer(st store.DeploymentStore, labs store.LabConfigStore, invoker action.Invoker, recorder *audit.Recorder) *Reclaimer {
	return &Reclaimer{store: st, labs: labs, invoker: invoker, recorder: recorder}
}

// Run reclaims the session described by a deleted record's last image.
func (r *Reclaimer) Run(ctx context.Context, old models.DeploymentRecord) (models.Result, error) {
	log.Printf("[reclaim] starting teardown for deployment %s", old.DepID)

	lab, err := r.labs.Get(ctx, old.LabID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("lab %q not found: %w", old.LabID, err)
		}
		log.Printf("[reclaim] deployment %s: %v", old.DepID, err)
		return models.Result{StatusCode: 500, Body: fmt.Sprintf("Error: %v", err)}, err
	}

	if old.CreateUser == models.StepSuccess {
		r.removeUser(ctx, old, lab)
	}

	if old.CreateNamespace == models.StepSuccess {
		res, err := r.invoker.Invoke(ctx, action.NamespaceRemove, action.NamespaceRemovePayload{
			SSMBasePath:   lab.SSMBasePath,
			NamespaceName: old.Petname,
		})
		if err != nil {
			log.Printf("[reclaim] namespace remove for %s: %v", old.DepID, err)
		} else if !res.OK() {
			log.Printf("[reclaim] namespace remove for %s returned %d: %s", old.DepID, res.StatusCode, res.Body)
		}
	}

	if lab.PostHook != "" {
		res, err := r.invoker.Invoke(ctx, action.Hook(lab.PostHook), action.HookPayload{
			SSMBasePath: lab.SSMBasePath,
			Petname:     old.Petname,
			Email:       old.Email,
		})
		if err != nil {
			log.Printf("[reclaim] post hook %s for %s: %v", lab.PostHook, old.DepID, err)
		} else if !res.OK() {
			log.Printf("[reclaim] post hook %s for %s returned %d: %s", lab.PostHook, old.DepID, res.StatusCode, res.Body)
		}
	}

	log.Printf("[reclaim] teardown completed for deployment %s", old.DepID)
	r.recorder.Record(ctx, audit.EventReclaimCompleted, old.DepID, nil)
	return models.Result{StatusCode: 200, Body: fmt.Sprintf("cleanup completed for deployment %s", old.DepID)}, nil
}

// removeUser applies the shared-user guard and, if it passes, removes the
// tenant user account. Account deletion is tenant-wide, not per-session: the
// account must outlive any other active session that still references it.
func (r *Reclaimer) removeUser(ctx context.Context, old models.DeploymentRecord, lab models.LabConfig) {
	peers, err := r.store.ListActivePeers(ctx, old.Email, old.TenantURL, old.DepID)
	if err != nil {
		// Can't prove the account is unreferenced; leaving it beats
		// breaking a live session.
		log.Printf("[reclaim] shared-user check for %s: %v (skipping user removal)", old.DepID, err)
		return
	}
	if len(peers) > 0 {
		log.Printf("[reclaim] skipping user removal for %s: %d active session(s) share %s on %s",
			old.DepID, len(peers), old.Email, old.TenantURL)
		r.recorder.Record(ctx, audit.EventUserRemovalSkipped, old.DepID, map[string]int{"active_peers": len(peers)})
		return
	}

	res, err := r.invoker.Invoke(ctx, action.UserRemove, action.UserRemovePayload{
		SSMBasePath: lab.SSMBasePath,
		Email:       old.Email,
	})
	if err != nil {
		log.Printf("[reclaim] user remove for %s: %v", old.DepID, err)
		return
	}
	if !res.OK() {
		log.Printf("[reclaim] user remove for %s returned %d: %s", old.DepID, res.StatusCode, res.Body)
	}
}
