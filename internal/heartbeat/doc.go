// Package heartbeat announces device liveness on the retained status topic.
//
// An Emitter publishes {"online":true,"locked":<lease active>} at most once
// per interval when ticked, and immediately on PublishNow (used after every
// broker (re)connect so the retained status is never stale for long). The
// broker's last will on the same topic carries {"online":false}, so
// subscribers see the device go offline without any help from the device.
package heartbeat
