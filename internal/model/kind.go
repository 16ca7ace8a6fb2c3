package model

// Kind is the wire code of a command. Codes are stable because they are
// persisted in queue snapshots and accepted from the submission surface.
type Kind string

const (
	KindUnknown              Kind = "unknown"
	KindEmpty                Kind = "empty"
	KindAutomaticUpdate      Kind = "automatic-update"
	KindFetchAllTimelines    Kind = "fetch-all-timelines"
	KindFetchHome            Kind = "fetch-home"
	KindFetchMentions        Kind = "fetch-mention"
	KindFetchDirectMessages  Kind = "fetch-dm"
	KindStartAlarm           Kind = "start-alarm"
	KindStopAlarm            Kind = "stop-alarm"
	KindRestartAlarm         Kind = "restart-alarm"
	KindCreateFavorite       Kind = "create-favorite"
	KindDestroyFavorite      Kind = "destroy-favorite"
	KindUpdateStatus         Kind = "update-status"
	KindDestroyStatus        Kind = "destroy-status"
	KindRetweet              Kind = "retweet"
	KindRateLimitStatus      Kind = "rate-limit-status"
	KindNotifyQueue          Kind = "notify-queue"
	KindNotifyClear          Kind = "notify-clear"
	KindPreferencesChanged   Kind = "preferences-changed"
	KindPutBooleanPreference Kind = "put-boolean-preference"
	KindPutLongPreference    Kind = "put-long-preference"
	KindPutStringPreference  Kind = "put-string-preference"
)

var knownKinds = map[Kind]bool{
	KindEmpty:                true,
	KindAutomaticUpdate:      true,
	KindFetchAllTimelines:    true,
	KindFetchHome:            true,
	KindFetchMentions:        true,
	KindFetchDirectMessages:  true,
	KindStartAlarm:           true,
	KindStopAlarm:            true,
	KindRestartAlarm:         true,
	KindCreateFavorite:       true,
	KindDestroyFavorite:      true,
	KindUpdateStatus:         true,
	KindDestroyStatus:        true,
	KindRetweet:              true,
	KindRateLimitStatus:      true,
	KindNotifyQueue:          true,
	KindNotifyClear:          true,
	KindPreferencesChanged:   true,
	KindPutBooleanPreference: true,
	KindPutLongPreference:    true,
	KindPutStringPreference:  true,
}

// Kinds executed synchronously in the submitter's context, never queued.
var immediateKinds = map[Kind]bool{
	KindEmpty:                true,
	KindStartAlarm:           true,
	KindStopAlarm:            true,
	KindRestartAlarm:         true,
	KindPreferencesChanged:   true,
	KindPutBooleanPreference: true,
	KindPutLongPreference:    true,
	KindPutStringPreference:  true,
}

var retryableKinds = map[Kind]bool{
	KindCreateFavorite:  true,
	KindDestroyFavorite: true,
	KindUpdateStatus:    true,
	KindDestroyStatus:   true,
	KindRetweet:         true,
}

var preferenceKinds = map[Kind]bool{
	KindPutBooleanPreference: true,
	KindPutLongPreference:    true,
	KindPutStringPreference:  true,
}

// ParseKind decodes a wire code. Anything unrecognized decodes to KindUnknown.
func ParseKind(code string) Kind {
	k := Kind(code)
	if knownKinds[k] {
		return k
	}
	return KindUnknown
}

func (k Kind) String() string { return string(k) }

func (k Kind) IsImmediate() bool { return immediateKinds[k] }

// IsRetryable reports whether a failed execution of this kind goes through
// the retry policy. Failures of other kinds are only logged.
func (k Kind) IsRetryable() bool { return retryableKinds[k] }

func (k Kind) IsPreference() bool { return preferenceKinds[k] }

// Timelines returns the timelines a fetch kind loads, in fetch order.
func (k Kind) Timelines() []Timeline {
	switch k {
	case KindAutomaticUpdate, KindFetchAllTimelines:
		return AllTimelines()
	case KindFetchHome:
		return []Timeline{TimelineHome}
	case KindFetchMentions:
		return []Timeline{TimelineMentions}
	case KindFetchDirectMessages:
		return []Timeline{TimelineDirect}
	default:
		return nil
	}
}

// KnownKinds lists every decodable kind, for help output.
func KnownKinds() []Kind {
	return []Kind{
		KindEmpty, KindAutomaticUpdate, KindFetchAllTimelines, KindFetchHome,
		KindFetchMentions, KindFetchDirectMessages, KindStartAlarm, KindStopAlarm,
		KindRestartAlarm, KindCreateFavorite, KindDestroyFavorite, KindUpdateStatus,
		KindDestroyStatus, KindRetweet, KindRateLimitStatus, KindNotifyQueue,
		KindNotifyClear, KindPreferencesChanged, KindPutBooleanPreference,
		KindPutLongPreference, KindPutStringPreference,
	}
}

// Timeline identifies one remote timeline.
type Timeline string

const (
	TimelineHome     Timeline = "home"
	TimelineMentions Timeline = "mentions"
	TimelineDirect   Timeline = "direct"
)

// AllTimelines is the expansion of a fetch-all request.
func AllTimelines() []Timeline {
	return []Timeline{TimelineHome, TimelineMentions, TimelineDirect}
}
