package transport

import (
	"fmt"
	"time"
)

// The message being replied to
type ReplyRef struct {
	MessageID MessageID  `json:"message_id"`
	Sender    IdentityID `json:"sender"`
	// true if the replied-to message was sent by the account itself
	Outgoing bool `json:"outgoing"`
}

// A single new message observed by an account, as delivered by the inbound event feed.
//
// Outgoing events are messages the account sent itself (from any client, including the operator's own device).
type MessageEvent struct {
	Seq         int64         `json:"seq"`
	Account     AccountID     `json:"account"`
	Destination DestinationID `json:"destination"`
	MessageID   MessageID     `json:"message_id"`
	Sender      IdentityID    `json:"sender"`
	Outgoing    bool          `json:"outgoing"`
	Text        string        `json:"text"`
	Time        time.Time     `json:"time"`
	ReplyTo     *ReplyRef     `json:"reply_to,omitempty"`
}

// Checks that event has the fields required for processing
func (evt *MessageEvent) Validate() error {
	if evt.Account == "" {
		return fmt.Errorf("message event missing account")
	}
	if evt.Destination == "" {
		return fmt.Errorf("message event missing destination")
	}
	if !evt.Outgoing && evt.Sender == "" {
		return fmt.Errorf("incoming message event missing sender")
	}
	return nil
}

func (evt *MessageEvent) IsReply() bool {
	return evt.ReplyTo != nil && evt.ReplyTo.MessageID != ""
}
