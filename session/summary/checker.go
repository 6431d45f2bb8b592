//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package summary

import (
	"time"

	"trpc.group/trpc-go/trpc-agent-runtime/session"
)

// Checker reports whether a session is due for compaction.
type Checker func(sess *session.Session) bool

// CheckEventThreshold triggers once the session holds more than eventCount events.
func CheckEventThreshold(eventCount int) Checker {
	return func(sess *session.Session) bool {
		return sess.GetEventCount() > eventCount
	}
}

// CheckTimeThreshold triggers when the last event is older than interval.
func CheckTimeThreshold(interval time.Duration) Checker {
	return func(sess *session.Session) bool {
		events := sess.GetEvents()
		if len(events) == 0 {
			return false
		}
		return time.Since(events[len(events)-1].Timestamp) > interval
	}
}

// CheckTokenThreshold triggers when the newest reported prompt token count
// exceeds tokenCount.
func CheckTokenThreshold(tokenCount int) Checker {
	return func(sess *session.Session) bool {
		events := sess.GetEvents()
		for i := len(events) - 1; i >= 0; i-- {
			e := events[i]
			if e.Response != nil && e.UsageMetadata != nil {
				return int(e.UsageMetadata.PromptTokenCount) > tokenCount
			}
		}
		return false
	}
}

// ChecksAll passes when every check passes.
func ChecksAll(checks ...Checker) Checker {
	return func(sess *session.Session) bool {
		for _, check := range checks {
			if !check(sess) {
				return false
			}
		}
		return true
	}
}

// ChecksAny passes when one check passes.
func ChecksAny(checks ...Checker) Checker {
	return func(sess *session.Session) bool {
		for _, check := range checks {
			if check(sess) {
				return true
			}
		}
		return false
	}
}
