
/*
Package cache provides bucketed sliding-window counters for rate-sensitive,
in-memory tallies — no persistence, no external dependency.

# Overview

A SlidingWindowCounter divides a window into fixed-size buckets and sums
the live ones to approximate a count over the trailing window without
storing a timestamp per event:

	counter: O(1) increment, O(k) count where k = bucket count

SlidingWindowStore multiplexes counters by key with a bounded key set,
evicting an arbitrary existing key (whichever map iteration yields first)
when a new key arrives with maxKeys already reached (§4.9's
"throttle per channel, not globally" requirement needs exactly this: one
counter per channel key, not one counter for the whole process).

# Usage

	alerts := cache.NewSlidingWindowStore(5*time.Minute, 5, 10_000)
	if alerts.Count(channelID) > 0 {
	    // already alerted this channel within the window; skip
	} else {
	    alerts.IncrementBy(channelID, 1)
	    // emit the alert
	}

internal/gate uses exactly this pattern to throttle repeated quota-pressure
alerts to at most one per channel per window, rather than firing on every
task that hits the same ceiling.

UniqueValueCounter/UniqueValueStore are the same bucketed-window idea
applied to distinct values instead of a running count, for windows where
"how many distinct X" matters more than "how many X".

# See Also

  - internal/gate: consumer of SlidingWindowStore for alert throttling
*/
package cache
