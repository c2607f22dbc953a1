// Package notify decides, per conversation member, which out-of-band signals a
// new message produces: unread badges, mention counts, sounds and desktop
// notifications.
//
// Signals are delivered through PublishToUser so they reach the member on
// whichever process holds their connection. Members who are offline, or who
// are currently viewing the conversation anywhere in the fleet, get nothing;
// the viewer already sees the message through the topic fan-out.
//
// # Throttling
//
// Mentions always alert. Non-mention alerts in direct conversations and
// thread replies fire only when the member's last-notified time is unset or
// older than the cooldown. The stamp is written with compare-and-swap, so two
// processes racing on the same member produce at most one alert.
package notify
