package followup

import (
	"fmt"
	"strings"

	"github.com/hafsaahmed614/DataAnnotation-App/internal/store"
)

const outputFormat = `Return exactly three sections and nothing else:

A) Reasoning Trace
1. ...
B) Discharge Timing Dynamics
1. ...
C) SNF Patient State Transitions and Navigator Time Allocation
1. ...`

const abbreviatedPrompt = `You write short follow-on questions for a patient navigator who just finished an abbreviated case study about a past skilled nursing facility (SNF) patient.

Capture how the navigator's reasoning changed, what moved the discharge date, and how the patient's likely outcome and the navigator's attention shifted over the stay.

Rules:
- Use the past tense.
- Anchor every question in a concrete detail from the case.
- Ask what changed, when, and why. Prefer events over reflections.
- Only ask about outcome states (long-term placement, hospital return, death in the SNF) when the case suggests they were in play.
- Never ask for names, addresses or other identifiers.
- Four questions per section, twelve in total.

` + outputFormat

const fullPrompt = `You are an experienced clinical operations interviewer. A patient navigator has completed a detailed case study about a past patient's SNF-to-home transition. Generate the follow-on questions they should answer next.

Objectives:
1. Reasoning trace: how the navigator formed and updated judgments, which signals carried weight, and how they decided where to spend limited time.
2. Discharge timing: what moved the expected discharge date earlier or later, which dependencies gated readiness, and which SNF processes or coordination problems mattered.
3. Outcome states: which of short-term stay, long-term placement, discharge, hospital return or death in the SNF the patient appeared to trend toward over time, what signalled each shift, and how the navigator's urgency followed.

Rules:
- Use the past tense and ground every question in the case as provided. Do not restate the case.
- Ask for sequence, timing, who said what, and what evidence informed opinions.
- Each section includes at least one counterfactual question.
- Never ask for names, addresses, record numbers or other identifiers.
- Six to ten questions per section.

` + outputFormat

// questionLabels maps narrative question ids to their headings per form type.
var questionLabels = map[string][]label{
	"abbrev": {
		{"aq1", "Case Summary"},
		{"aq2", "SNF Team Discharge Timing"},
		{"aq3", "Requirements for Safe Discharge"},
		{"aq4", "Estimated Discharge Date"},
		{"aq5", "Alignment Across Stakeholders"},
		{"aq6", "SNF Discharge Conditions"},
		{"aq7", "HHA Involvement"},
		{"aq8", "Information Shared with HHA"},
	},
	"full": {
		{"q6", "Case Summary"},
		{"q7", "Referral Source and Expectation"},
		{"q8", "Upstream Path to SNF"},
		{"q9", "Expected Length of Stay at Admission"},
		{"q10", "Initial Assessment"},
		{"q11", "Early Home Feasibility Reasoning"},
		{"q12", "Key SNF Roles and People"},
		{"q13", "Patient Response to Discharge/Services"},
		{"q14", "Patient/Family Goals for Home"},
		{"q15", "SNF Discharge Timing Over Time"},
		{"q16", "Requirements for Safe Discharge"},
		{"q17", "Services Discussed and Agreed"},
		{"q18", "HHA Involvement and Handoff"},
		{"q19", "Information Shared with HHA"},
		{"q20", "Estimated Discharge Date and Reasoning"},
		{"q21", "Alignment Across Stakeholders"},
		{"q22", "SNF Discharge Conditions"},
		{"q23", "Plan for First 24-48 Hours"},
		{"q25", "Transition SNF to Home Overall"},
		{"q26", "Handoff Completion and Gaps"},
		{"q27", "24-Hour Follow-up Contact"},
		{"q28", "Initial At-Home Status and Next Steps"},
	},
}

type label struct {
	id   string
	text string
}

// SystemPrompt returns the instructions for formType. Only the full form gets
// the long interview brief; both abbreviated forms share the short one.
func SystemPrompt(formType string) string {
	if formType == "full" {
		return fullPrompt
	}
	return abbreviatedPrompt
}

// FormatCase renders a record as the user message of the generation request.
func FormatCase(formType string, content store.Content) string {
	var b strings.Builder
	d := content.Demographics

	b.WriteString("=== PATIENT DEMOGRAPHICS ===\n")
	writeField(&b, "Age at SNF Stay", d.Age)
	writeField(&b, "Gender", d.Gender)
	writeField(&b, "Race", d.Race)
	writeField(&b, "State", d.State)
	b.WriteString("\n=== SERVICE & DURATION INFORMATION ===\n")
	writeField(&b, "SNF Name", d.SNFName)
	writeField(&b, "SNF Days", d.SNFDays)
	writeField(&b, "Services Discussed", d.ServicesDiscussed)
	writeField(&b, "Services Accepted", d.ServicesAccepted)
	writeField(&b, "Services Utilized After Discharge", d.ServicesUtilizedAfterDischarge)
	b.WriteString("\n=== CASE NARRATIVE ANSWERS ===\n")

	labels, ok := questionLabels[formType]
	if !ok {
		labels = questionLabels["abbrev"]
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		seen[l.id] = true
		writeAnswer(&b, fmt.Sprintf("%s (%s)", l.text, l.id), content.Answers[l.id])
	}
	// Answers to questions outside the known set still reach the model.
	for _, id := range sortedKeys(content.Answers) {
		if !seen[id] {
			writeAnswer(&b, id, content.Answers[id])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeField(b *strings.Builder, name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = "Not provided"
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

func writeAnswer(b *strings.Builder, heading, answer string) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		fmt.Fprintf(b, "\n%s: [No answer provided]\n", heading)
		return
	}
	fmt.Fprintf(b, "\n%s:\n%s\n", heading, answer)
}
