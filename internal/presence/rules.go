// Package presence turns voice-channel occupancy changes into greetings and
// auto-leave decisions.
//
// A guild is either absent (no session with a voice sink) or present. While
// present, each occupancy event is classified by [Classify] into exactly one
// [Rule]; the [Monitor] then carries out that rule.
package presence

// Event is one voice-state change.
type Event struct {
	GuildID string
	UserID  string

	// DisplayName is the guild nickname, falling back to the username.
	DisplayName string

	// Before and After are the user's channel before and after the change.
	// "" means not in any voice channel.
	Before string
	After  string

	// BotChannel is the bot's current voice channel, "" when absent.
	BotChannel string
}

// Rule is the outcome of classifying an [Event].
type Rule int

const (
	// RuleNone covers events that are not channel transitions relative to
	// the bot: self mute/deafen/video toggles, moves between other channels,
	// duplicate leaves and any event while the bot is absent.
	RuleNone Rule = iota

	// RuleIgnoreSelf is the bot's own voice state.
	RuleIgnoreSelf

	// RuleBye is a user leaving the bot's channel while others remain.
	RuleBye

	// RuleAutoLeave is the last user leaving the bot's channel.
	RuleAutoLeave

	// RuleHello is a user arriving in the bot's channel.
	RuleHello
)

func (r Rule) String() string {
	switch r {
	case RuleNone:
		return "none"
	case RuleIgnoreSelf:
		return "ignore_self"
	case RuleBye:
		return "bye"
	case RuleAutoLeave:
		return "auto_leave"
	case RuleHello:
		return "hello"
	default:
		return "unknown"
	}
}

// Classify applies the transition rules to ev. remaining is the number of
// non-bot users left in the bot's channel once ev has taken effect.
func Classify(ev Event, botUserID string, remaining int) Rule {
	switch {
	case ev.UserID == botUserID:
		return RuleIgnoreSelf
	case ev.BotChannel == "" || ev.Before == ev.After:
		return RuleNone
	case ev.Before == ev.BotChannel:
		if remaining <= 0 {
			return RuleAutoLeave
		}
		return RuleBye
	case ev.After == ev.BotChannel:
		return RuleHello
	default:
		return RuleNone
	}
}

// Greeting formats a hello or bye line.
func Greeting(name, greeting string) string {
	return name + "さん、" + greeting
}
