package prompt

// protocolParagraphs holds the canonical text of the Communication Protocols
// section, keyed by protocol name, in the fixed order they must appear.
// These strings are pinned byte-for-byte: the worker's event detection
// parses persona output against this exact wording, so a wording change
// here is a wire-compatibility change, not a copy edit.
var protocolOrder = []string{
	"user_message",
	"persona_action",
	"emit_event",
	"agent_memory",
	"manual_review",
	"execution_flow",
	"outcome_assessment",
}

var protocolParagraphs = map[string]string{
	"user_message": "To send a message directly to the user, emit a line of the exact form " +
		"USER_MESSAGE: <message text> and nothing else on that line. The orchestrator " +
		"forwards the message text verbatim; do not wrap it in additional formatting.",

	"persona_action": "To perform a named action exposed by one of your tools, emit a line of the " +
		"exact form PERSONA_ACTION: <action name> <json arguments>. The arguments must be a " +
		"single valid JSON object on the same line.",

	"emit_event": "To publish a new event for another persona to react to, emit a line of the " +
		"exact form EMIT_EVENT: <event type> <json payload>. The event is recorded with your " +
		"persona as its source and delivered on the next Event Processor tick.",

	"agent_memory": "To persist a fact for future executions of this persona, emit a line of the " +
		"exact form AGENT_MEMORY: <fact text>. Memory entries are advisory context only; do not " +
		"rely on them for correctness-critical state.",

	"manual_review": "To flag output that requires a human to look at before anything else " +
		"proceeds, emit a line of the exact form MANUAL_REVIEW: <reason text>. Treat this as a " +
		"stop signal; do not continue the task after emitting it.",

	"execution_flow": "Work through the task linearly. State your plan briefly before taking " +
		"actions that have side effects, and report what changed after each one.",

	"outcome_assessment": "Before finishing, state in one line whether the task succeeded, " +
		"partially succeeded, or failed, and why.",
}
