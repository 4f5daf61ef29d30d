/******************************************************************************
 *
 *  Description :
 *
 *    Activity bus and dispatcher. The resource store publishes one "changed"
 *    event per modification; the dispatcher fans it out to all channels
 *    watching the topic, applying rate and time gating, and runs each
 *    delivery as an independent task so one failing channel never blocks
 *    another.
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/podgrid/notifier/server/concurrency"
	"github.com/podgrid/notifier/server/logs"
	"github.com/podgrid/notifier/server/store"
	"github.com/podgrid/notifier/server/store/types"
)

// ActivitySource is the publish side of the activity bus. The dispatcher
// subscribes once at startup and never unsubscribes.
type ActivitySource interface {
	Subscribe(listener func(*Activity))
}

// activityBus is the in-process activity bus.
type activityBus struct {
	lock      sync.RWMutex
	listeners []func(*Activity)
}

func newActivityBus() *activityBus {
	return &activityBus{}
}

// Subscribe registers a listener for all future activities.
func (b *activityBus) Subscribe(listener func(*Activity)) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.listeners = append(b.listeners, listener)
}

// Emit publishes one activity to all listeners.
func (b *activityBus) Emit(act *Activity) {
	b.lock.RLock()
	listeners := b.listeners
	b.lock.RUnlock()

	statsInc("IncomingActivitiesTotal", 1)
	for _, listener := range listeners {
		listener(act)
	}
}

// Emitter pushes a serialized notification to all currently-open consumers of
// a channel. Must not fail for a missing registry entry: it silently
// discards.
type Emitter interface {
	Emit(ch *types.Channel, data []byte, contentType string) error
}

// Dispatcher routes activities to eligible channels and runs deliveries.
type Dispatcher struct {
	gen  *generator
	pool *concurrency.GoRoutinePool
	// Emitter per channel kind.
	emitters map[string]Emitter
}

func newDispatcher(gen *generator, pool *concurrency.GoRoutinePool) *Dispatcher {
	return &Dispatcher{
		gen:      gen,
		pool:     pool,
		emitters: make(map[string]Emitter),
	}
}

// addEmitter binds an emitter to a channel kind.
func (d *Dispatcher) addEmitter(kind string, e Emitter) {
	d.emitters[kind] = e
}

// start subscribes the dispatcher to the activity source.
func (d *Dispatcher) start(src ActivitySource) {
	src.Subscribe(func(act *Activity) {
		d.dispatchActivity(act)
	})
}

// dispatchActivity schedules one delivery task per eligible channel watching
// the activity's topic. Returns the number of deliveries scheduled.
func (d *Dispatcher) dispatchActivity(act *Activity) int {
	ids, err := store.Channels.GetAll(act.Topic)
	if err != nil {
		logs.Err.Println("dispatch: failed to list channels for", act.Topic, err)
		return 0
	}

	now := timeNowMillis()
	var scheduled int
	for _, id := range ids {
		ch, err := store.Channels.Get(id)
		if err != nil {
			logs.Err.Println("dispatch: failed to load channel", id, err)
			continue
		}
		if ch == nil {
			// Expired or deleted between lookup and load.
			continue
		}
		if ch.Rate > 0 && now-ch.LastEmit < ch.Rate {
			continue
		}
		if ch.StartAt > 0 && now < ch.StartAt {
			continue
		}

		d.pool.Schedule(func() { d.deliver(ch, act.Kind, act.Meta) })
		scheduled++
	}
	return scheduled
}

// deliver generates, serializes and emits one notification for one channel.
// All failures are contained here: logged, counted, never propagated.
func (d *Dispatcher) deliver(ch *types.Channel, kind string, meta map[string][]string) {
	defer func() {
		if r := recover(); r != nil {
			logs.Err.Println("dispatch: delivery to", ch.ID, "panicked:", r)
			statsInc("FailedDeliveriesTotal", 1)
		}
	}()

	n, err := d.gen.generate(ch.Topic, kind, meta)
	if err != nil {
		logs.Err.Println("dispatch: generator failed for", ch.ID, err)
		statsInc("FailedDeliveriesTotal", 1)
		return
	}

	// State dedup: the subscriber already holds this exact state, skip the
	// delivery and leave the stored token untouched.
	if ch.State != "" && n.State != "" && ch.State == n.State {
		return
	}

	if !d.emit(ch, n) {
		return
	}

	ch.LastEmit = timeNowMillis()
	if err := store.Channels.Update(ch); err != nil {
		logs.Err.Println("dispatch: failed to advance lastEmit for", ch.ID, err)
	}
}

// emit serializes the notification and hands it to the channel kind's
// emitter. Returns true on successful delivery.
func (d *Dispatcher) emit(ch *types.Channel, n *Notification) bool {
	data, contentType, err := serializeNotification(n)
	if err != nil {
		logs.Err.Println("dispatch: serialization failed for", ch.ID, err)
		statsInc("FailedDeliveriesTotal", 1)
		return false
	}

	emitter := d.emitters[ch.Type]
	if emitter == nil {
		logs.Err.Println("dispatch: no emitter for channel kind", ch.Type)
		statsInc("FailedDeliveriesTotal", 1)
		return false
	}

	if err := emitter.Emit(ch, data, contentType); err != nil {
		logs.Warn.Println("dispatch: delivery to", ch.ID, "failed:", err)
		statsInc("FailedDeliveriesTotal", 1)
		return false
	}

	statsInc("DeliveredNotificationsTotal", 1)
	return true
}

// scheduleState queues a one-shot "current state" notification for a freshly
// subscribed channel.
func (d *Dispatcher) scheduleState(ch *types.Channel) {
	if ch.State == "" {
		return
	}
	ch = copyForDelivery(ch)
	d.pool.Schedule(func() { d.sendState(ch) })
}

// sendState runs the pipeline with no activity (the generator derives
// Update/Delete from the resource's existence), then clears the channel's
// state token. Best effort: on any failure the token is left untouched and
// the failure is only logged.
func (d *Dispatcher) sendState(ch *types.Channel) {
	defer func() {
		if r := recover(); r != nil {
			logs.Err.Println("dispatch: state delivery to", ch.ID, "panicked:", r)
		}
	}()

	n, err := d.gen.generate(ch.Topic, "", nil)
	if err != nil {
		logs.Err.Println("dispatch: state generator failed for", ch.ID, err)
		return
	}

	if !d.emit(ch, n) {
		return
	}

	ch.State = ""
	ch.LastEmit = timeNowMillis()
	if err := store.Channels.Update(ch); err != nil {
		logs.Err.Println("dispatch: failed to clear state for", ch.ID, err)
	}
}

func copyForDelivery(ch *types.Channel) *types.Channel {
	cp := *ch
	return &cp
}
