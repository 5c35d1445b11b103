// Package events publishes load test progress to interested subscribers.
//
// A Bus fans events out to buffered subscriber channels. Publishing never
// blocks: when a subscriber falls behind, the event is dropped for that
// subscriber and counted in Dropped.
//
//	bus := events.NewBus()
//	ch := bus.Subscribe()
//	defer bus.Unsubscribe(ch)
//
//	for ev := range ch {
//	    fmt.Println(ev.Type, ev.RecordID)
//	}
//
// The engine emits run_started and run_completed once per run, and
// task_throttled and task_completed per write task.
package events
