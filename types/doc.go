// Package types defines the core data model shared across the voice agent
// runtime: jobs, agent configuration, chat messages, turn records, and
// session state. It has zero dependencies on other runtime packages so
// that every other package (chatcontext, session, tools, dispatcher,
// providers) can import it without creating cycles.
package types
