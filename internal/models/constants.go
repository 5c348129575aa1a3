package models

const (
	ContextSeparator  = "\n---\n"
	NoContextSentinel = "No relevant information found."
	EmptyQueryMessage = "Looks like there's nothing to process — please enter a valid message"
	ApologyMessage    = "I apologize, but I encountered an error while generating the response. Please try again."
	ErrorPrefix       = "Error: "
	ThinkTag          = `(?s)<think>.*?</think>`
)
