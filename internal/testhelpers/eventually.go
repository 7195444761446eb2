package testhelpers

import "time"

// Polling bounds for assertions on state that settles asynchronously, such as
// client-side cache invalidation or dispatched proxy work.
const (
	EventuallyWait = 2 * time.Second
	EventuallyTick = 10 * time.Millisecond
)
