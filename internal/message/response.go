package message

import "errors"

var (
	ErrMissingSender    = errors.New("event sender is required")
	ErrMissingMessageID = errors.New("event message id is required")
	ErrUnknownType      = errors.New("unknown event type")
)

// Kind tags the outbound response variant.
type Kind string

const (
	KindText         Kind = "text"
	KindButtons      Kind = "buttons"
	KindList         Kind = "list"
	KindMenu         Kind = "menu"
	KindConfirmation Kind = "confirmation"
	KindMultiple     Kind = "multiple"
)

// Button is a quick-reply choice.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Row is one entry in a list section.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Section groups list rows under a title.
type Section struct {
	Title string `json:"title"`
	Rows  []Row  `json:"rows"`
}

// Response is the tagged outbound variant handed to the transport.
// Complete is consumed by the engine and never serialized.
type Response struct {
	Kind       Kind       `json:"type"`
	Header     string     `json:"header,omitempty"`
	Text       string     `json:"text,omitempty"`
	Footer     string     `json:"footer,omitempty"`
	Buttons    []Button   `json:"buttons,omitempty"`
	ButtonText string     `json:"button_text,omitempty"`
	Sections   []Section  `json:"sections,omitempty"`
	Greeting   string     `json:"greeting,omitempty"`
	Messages   []Response `json:"messages,omitempty"`
	Complete   bool       `json:"-"`
}

// Text builds a plain text response.
func Text(text string) Response {
	return Response{Kind: KindText, Text: text}
}

// Buttons builds a quick-reply response.
func Buttons(header, text, footer string, buttons ...Button) Response {
	return Response{Kind: KindButtons, Header: header, Text: text, Footer: footer, Buttons: buttons}
}

// List builds a list picker response.
func List(header, text, buttonText string, sections ...Section) Response {
	return Response{Kind: KindList, Header: header, Text: text, ButtonText: buttonText, Sections: sections}
}

// Menu asks the transport to render the main menu after greeting.
func Menu(greeting string) Response {
	return Response{Kind: KindMenu, Greeting: greeting}
}

// Confirmation renders text with a yes/no affordance.
func Confirmation(text string) Response {
	return Response{Kind: KindConfirmation, Text: text}
}

// Multiple delivers the responses in order. Nested multiples are flattened.
func Multiple(responses ...Response) Response {
	out := make([]Response, 0, len(responses))
	for _, r := range responses {
		if r.Kind == KindMultiple {
			out = append(out, r.Messages...)
			continue
		}
		r.Complete = false
		out = append(out, r)
	}
	return Response{Kind: KindMultiple, Messages: out}
}

// Complete is a terminal text response that ends the active flow.
func Complete(text string) Response {
	return Response{Kind: KindText, Text: text, Complete: true}
}
