package domain

// Channel identifies an outbound communication medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"

	// ChannelAll is only meaningful as a suppression scope.
	ChannelAll Channel = "all"
)

// AllChannels returns every concrete outbound channel.
func AllChannels() []Channel {
	return []Channel{ChannelSMS, ChannelEmail, ChannelVoice}
}

// Valid reports whether c is a concrete outbound channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelVoice:
		return true
	}
	return false
}

// Contact is the gate's read-only view of an outreach target. The record is
// owned by the CRM data store.
type Contact struct {
	ID           string `json:"id" db:"id"`
	Email        string `json:"email,omitempty" db:"email"`
	Phone        string `json:"phone,omitempty" db:"phone"`
	DoNotContact bool   `json:"do_not_contact" db:"do_not_contact"`
	// Timezone overrides the area-code heuristic when the CRM knows better.
	Timezone string `json:"timezone,omitempty" db:"timezone"`
}

// Reachable reports whether the contact has an address for the channel.
func (c Contact) Reachable(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return c.Email != ""
	case ChannelSMS, ChannelVoice:
		return c.Phone != ""
	}
	return false
}
