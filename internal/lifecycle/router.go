package lifecycle

import (
	"context"
	"log"
	"sync"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// Router dispatches deployment store change events to the state machines:
// created fires provisioning, removed fires reclamation with the old image.
// Events for different dep_ids run concurrently; ordering within one dep_id
// is whatever the feed delivers, which both DynamoDB Streams and the memory
// store guarantee to be write order.
type Router struct {
	provisioner *Provisioner
	reclaimer   *Reclaimer
	wg          sync.WaitGroup
}

func NewRouter(p *Provisioner, r *Reclaimer) *Router {
	return &Router{provisioner: p, reclaimer: r}
}

// Handle processes one change event synchronously.
func (r *Router) Handle(ctx context.Context, ev models.ChangeEvent) {
	switch ev.Kind {
	case models.ChangeCreated:
		if ev.NewImage == nil {
			log.Printf("[router] created event for %s without image, dropping", ev.DepID)
			return
		}
		if _, err := r.provisioner.Run(ctx, *ev.NewImage); err != nil {
			log.Printf("[router] provisioning %s: %v", ev.DepID, err)
		}
	case models.ChangeRemoved:
		if ev.OldImage == nil {
			log.Printf("[router] removed event for %s without image, dropping", ev.DepID)
			return
		}
		if _, err := r.reclaimer.Run(ctx, *ev.OldImage); err != nil {
			log.Printf("[router] reclaiming %s: %v", ev.DepID, err)
		}
	default:
		log.Printf("[router] unknown change kind %q for %s", ev.Kind, ev.DepID)
	}
}

// Run consumes events until the channel closes or ctx is cancelled, handling
// each in its own goroutine.
func (r *Router) Run(ctx context.Context, events <-chan models.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				r.wg.Wait()
				return nil
			}
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Handle(ctx, ev)
			}()
		}
	}
}
