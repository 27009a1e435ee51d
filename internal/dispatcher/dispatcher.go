// Package dispatcher normalizes inbound session requests into TTL-bearing
// deployment records, deciding "new session" vs "renewal of an existing
// session".
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tenantops/lab-lifecycle/internal/audit"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

// ValidationError reports required request fields that are absent.
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
}

// Outcome is the dispatcher's structured result.
type Outcome struct {
	Created bool
	Record  models.DeploymentRecord
	Result  models.Result
}

type Dispatcher struct {
	store    store.DeploymentStore
	recorder *audit.Recorder
	window   time.Duration
	now      func() time.Time
}

func New(st store.DeploymentStore, recorder *audit.Recorder, window time.Duration) *Dispatcher {
	if window <= 0 {
		window = 300 * time.Second
	}
	return &Dispatcher{store: st, recorder: recorder, window: window, now: time.Now}
}

// Dispatch processes one session request. A dep_id already present in the
// store is a keep-alive: only its TTL moves (forward), and no provisioning
// re-runs. A new dep_id is inserted PENDING, which fires provisioning via
// the store's change feed.
func (d *Dispatcher) Dispatch(ctx context.Context, req models.SessionRequest) (Outcome, error) {
	if err := validate(req); err != nil {
		return Outcome{Result: models.Result{StatusCode: 400, Body: err.Error()}}, err
	}

	_, err := d.store.Get(ctx, req.DepID)
	switch {
	case err == nil:
		return d.extend(ctx, req.DepID)
	case errors.Is(err, store.ErrNotFound):
		return d.insert(ctx, req)
	default:
		wrapped := fmt.Errorf("check existing deployment: %w", err)
		return Outcome{Result: models.Result{StatusCode: 500, Body: wrapped.Error()}}, wrapped
	}
}

func (d *Dispatcher) extend(ctx context.Context, depID string) (Outcome, error) {
	ttl := d.now().Add(d.window).Unix()
	if err := d.store.Update(ctx, depID, store.RecordUpdate{TTL: store.Int64Ptr(ttl)}); err != nil {
		wrapped := fmt.Errorf("extend ttl for %s: %w", depID, err)
		return Outcome{Result: models.Result{StatusCode: 500, Body: wrapped.Error()}}, wrapped
	}
	rec, err := d.store.Get(ctx, depID)
	if err != nil {
		wrapped := fmt.Errorf("reload %s after extend: %w", depID, err)
		return Outcome{Result: models.Result{StatusCode: 500, Body: wrapped.Error()}}, wrapped
	}
	log.Printf("[dispatcher] extended ttl for deployment %s", depID)
	d.recorder.Record(ctx, audit.EventSessionRenewed, depID, map[string]int64{"ttl": ttl})
	return Outcome{
		Record: rec,
		Result: models.Result{StatusCode: 200, Body: fmt.Sprintf("TTL extended for deployment %s", depID)},
	}, nil
}

func (d *Dispatcher) insert(ctx context.Context, req models.SessionRequest) (Outcome, error) {
	now := d.now().UTC()
	ttl := now.Add(d.window).Unix()
	rec := models.DeploymentRecord{
		DepID:            req.DepID,
		LabID:            req.LabID,
		Email:            req.Email,
		Petname:          req.Petname,
		TTL:              ttl,
		Expiration:       store.FormatExpiration(ttl),
		DeploymentStatus: models.DeploymentPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := d.store.Create(ctx, rec)
	if errors.Is(err, store.ErrAlreadyExists) {
		// Lost a create race; the other writer owns provisioning.
		return d.extend(ctx, req.DepID)
	}
	if err != nil {
		wrapped := fmt.Errorf("insert deployment %s: %w", req.DepID, err)
		return Outcome{Result: models.Result{StatusCode: 500, Body: wrapped.Error()}}, wrapped
	}
	log.Printf("[dispatcher] inserted new deployment %s (lab=%s)", req.DepID, req.LabID)
	d.recorder.Record(ctx, audit.EventSessionCreated, req.DepID, req)
	return Outcome{
		Created: true,
		Record:  rec,
		Result:  models.Result{StatusCode: 200, Body: fmt.Sprintf("inserted new deployment %s", req.DepID)},
	}, nil
}

func validate(req models.SessionRequest) error {
	var missing []string
	if req.DepID == "" {
		missing = append(missing, "dep_id")
	}
	if req.LabID == "" {
		missing = append(missing, "lab_id")
	}
	if req.Email == "" {
		missing = append(missing, "email")
	}
	if req.Petname == "" {
		missing = append(missing, "petname")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}
