package triage

import "fmt"

const actionabilitySystemPrompt = `You are a message classifier. Given a message where the recipient was mentioned or addressed, determine if this message requires the recipient to take any action or gives them new information they need to act on.

Messages that are NOT actionable (respond "no"):
- Simple acknowledgments ("okay", "sure", "got it", "thanks")
- Bot-generated standup reports listing who didn't post
- Messages that are just CC'ing the recipient with no new info for them
- Auto-generated notifications with no action needed

Messages that ARE actionable (respond "yes"):
- Requests for the recipient to review, approve, or decide something
- Questions directed at the recipient
- Information the recipient needs to act on (incidents, updates, deadlines)
- Meeting requests or scheduling
- Follow-ups asking the recipient to do something
- New information that changes the recipient's work

Respond with ONLY "yes" or "no".`

const alreadyHandledSystemPrompt = `You are a message classifier. Given a message where the recipient was mentioned, along with the thread context (subsequent replies), determine if the request has ALREADY been handled or resolved by someone in the thread.

A message IS already handled (respond "yes") if:
- Someone in the thread has already answered the question or fulfilled the request
- The original poster confirmed the issue is resolved
- Someone committed to handling it and followed through
- The thread shows the work was completed or the decision was made

A message is NOT already handled (respond "no") if:
- No one has responded yet
- The responses are only acknowledgments without actually handling it
- The request is still open/pending
- The recipient was specifically asked to do something that hasn't been done
- The thread shows ongoing discussion without resolution

Respond with ONLY "yes" or "no".`

const urgencySystemPrompt = `You are a message urgency classifier. Given a message (from Slack, email, or another source), determine if this message is particularly URGENT and should be starred/prioritized.

Messages that ARE urgent (respond "yes"):
- Explicit urgency language ("urgent", "ASAP", "immediately", "critical", "emergency", "time-sensitive", "blocking", "blocker")
- Production incidents, outages, or system-down situations
- Client/customer escalations or complaints requiring immediate attention
- Deadlines that are today or already past due
- Messages from leadership/executives requesting immediate action
- Security issues or data breaches
- Financial/billing emergencies
- Requests marked as high priority by the sender

Messages that are NOT urgent (respond "no"):
- Normal requests, questions, or follow-ups with no time pressure
- FYI or informational messages
- Scheduling requests for future dates
- General discussion or brainstorming
- Routine updates or status reports
- Standard review requests without deadline pressure

Respond with ONLY "yes" or "no".`

const titleSystemPrompt = `You are a task title generator. Given a message where the recipient was mentioned, generate a short, actionable task title from the recipient's perspective — what do they need to do?

Guidelines:
1. Start with an action verb (Review, Respond to, Approve, Decide on, Follow up on, Join, etc.)
2. Keep it under 60 characters
3. Capture the essence of what the recipient needs to do
4. Don't include @mentions, Slack markup, or user IDs
5. Write from the recipient's perspective as a task they need to complete
6. If a project name is provided, weave it naturally into the title (e.g. "Review John's Portal deployment request" not "[Portal] Review John's deployment request")
7. When a sender name is provided, include it naturally when it adds context — e.g. "Review common skills contracts for Puneet" or "Help Jonah with deployment issue" rather than just "Review common skills contracts"
8. If no clear action, use "Review: [brief topic summary]"

Respond with ONLY the task title, nothing else.`

const descriptionSystemPrompt = `You are a task description writer. Given a message (and optionally thread context), write a thorough, actionable task description from the recipient's perspective.

The goal is to write a description complete enough that the recipient can understand and act WITHOUT having to click through to the original message.

Guidelines:
1. Start with a clear one-line summary of the specific action the recipient needs to take
2. Include the key context: who is asking (by name), what exactly they need, and why
3. Preserve specific details verbatim: names, dates, deadlines, links, exact questions, options being considered, technical details
4. If the thread shows a conversation, summarize where things stand — what's been decided, what's still open
5. End with concrete next steps — not vague "review and discuss" but specific actions like "Reply to Sean with the meeting link" or "Send Jonah the updated timeline"
6. If multiple people are involved, note who is doing what and what's still unassigned
7. Don't pad with filler phrases like "The request is coming from an unknown team member" — if you don't know something, just omit it
8. Don't include raw Slack markup, @mentions with user IDs, or channel codes — use real names
9. Keep it scannable with line breaks between sections

Respond with ONLY the description text, nothing else.`

const replyDraftSystemPrompt = `You are drafting a reply for the recipient. Given a message (and optionally thread context), write a substantive, helpful reply that actually addresses the request.

Your PRIMARY goal is to be genuinely useful — not just acknowledge the message. Analyze the situation and respond accordingly:

1. If someone asks a question or raises a problem: analyze it and suggest a concrete solution with reasoning. Use the thread context to understand what's been tried or discussed.
2. If someone needs a decision: provide a recommendation with a clear rationale.
3. If someone needs something done: confirm specifically what will be done and when, or delegate — e.g. "@personname could you handle this?"
4. If more info is needed to give a real answer: ask specific clarifying questions.
5. If someone is sharing an update: respond to the substance — ask a follow-up, flag a concern, or confirm next steps.

Style:
- Match the thread's tone (casual channel = casual reply)
- Be direct and concise but substantive — a real reply, not a placeholder
- Use @mentions when referring to or delegating to specific people
- It's fine to be brief if a brief answer is the right answer

Respond with ONLY the reply text, nothing else.`

func actionabilityPrompt(text, context string) string {
	return withContext(fmt.Sprintf("Message: %s", text), context, "Thread context")
}

func alreadyHandledPrompt(text, context string) string {
	return withContext(fmt.Sprintf("Message: %s", text), context, "Thread replies")
}

func urgencyPrompt(text, context string) string {
	return withContext(fmt.Sprintf("Message: %s", text), context, "Additional context")
}

func titlePrompt(text, context, sender, projectName string) string {
	var b []string
	if sender != "" {
		b = append(b, fmt.Sprintf("From: %s", sender))
	}
	if projectName != "" {
		b = append(b, fmt.Sprintf("Project: %s", projectName))
	}
	b = append(b, fmt.Sprintf("Message: %s", text))
	prompt := joinLines(b)
	return withContext(prompt, context, "Context")
}

func descriptionPrompt(text, context, sender string) string {
	var b []string
	if sender != "" {
		b = append(b, fmt.Sprintf("From: %s", sender))
	}
	b = append(b, fmt.Sprintf("Message: %s", text))
	prompt := joinLines(b)
	return withContext(prompt, context, "Thread context")
}

func replyDraftPrompt(text, context, sender, channelName string) string {
	var b []string
	if sender != "" {
		b = append(b, fmt.Sprintf("From: %s", sender))
	}
	if channelName != "" {
		b = append(b, fmt.Sprintf("Channel: #%s", channelName))
	}
	b = append(b, fmt.Sprintf("Message: %s", text))
	prompt := joinLines(b)
	return withContext(prompt, context, "Thread context")
}

func joinLines(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}

func withContext(prompt, context, label string) string {
	if context == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\n%s:\n%s", prompt, label, context)
}
