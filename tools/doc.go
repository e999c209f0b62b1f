// Package tools implements the tool-calling registry and executor the LLM
// port uses to run function calls the model requests mid-turn (spec.md
// §4.5).
//
// A Registry holds one ToolFunc and its types.ToolSpec per registered
// name; an Executor resolves a model's tool calls against the registry,
// enforces a per-tool timeout and optional rate limit, and runs
// independent calls concurrently. Built-in tools (transferCall, endCall,
// detectedAnsweringMachine) and the supplemented scheduling tools
// (lookUpAvailability, confirmAppointment) are registered by the session
// package per job.
package tools
