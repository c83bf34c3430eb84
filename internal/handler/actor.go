// Package handler turns inbound chat interactions into expedition operations
// and renders exactly one reply per interaction.
package handler

import "context"

// Button is an inline button. Unique routes the callback, Data carries its
// argument.
type Button struct {
	Label  string
	Unique string
	Data   string
}

// Message is a reply with optional button rows.
type Message struct {
	Text    string
	Buttons [][]Button
}

// Form is a short text-entry prompt. The answer arrives later as a separate
// interaction.
type Form struct {
	Title       string
	Prompt      string
	Placeholder string
}

// Actor is the purpose-built view of whoever triggered an interaction.
type Actor interface {
	ActorID() string
	GuildID() string
	Reply(ctx context.Context, msg Message) error
	ShowForm(ctx context.Context, form Form) error
}
