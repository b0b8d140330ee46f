package assistant

import (
	"strings"
	"unicode"
)

const (
	identityText = "INGRES stands for **India Groundwater Resource Estimation System**. " +
		"I am an AI assistant designed to help you explore and understand India's groundwater data from the 2022 assessment."
	capabilityText = "I can analyze groundwater extraction across India! You can ask me to **compare** states or districts " +
		"(e.g., 'Compare Punjab and Kerala') and I will generate a visual chart for you. " +
		"I can also explain why a region is stressed, define groundwater terms and share conservation tips."

	noPendingText  = "I don't have any prepared data to chart yet. Ask me about a state or district first."
	chartReadyText = "Here is the chart you asked for."
	declinedText   = "No problem. Let me know if you want to explore another region."

	uncertainPrefix = "I'm not completely sure, but here is my best match:"
	chartOffer      = "Would you like a chart?"
	fallbackHeading = "Here are the latest groundwater updates:"
)

var (
	identityTriggers = []string{
		"what is ingres",
		"who are you",
		"what does ingres stand for",
		"full form of ingres",
	}
	capabilityTriggers = []string{
		"what it does",
		"how to use",
		"capabilities",
		"purpose of ingres",
		"how can you help",
	}
	affirmatives = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
		"ok": true, "okay": true, "yes please": true, "please do": true,
		"show chart": true, "show the chart": true, "show me the chart": true,
	}
	negatives = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true,
		"no thanks": true, "no thank you": true, "not now": true,
	}
	qualityTerms = []string{"pollution", "quality", "contaminant", "safe to drink", "drinking"}
)

// clean lowercases msg, collapses whitespace and trims trailing punctuation.
func clean(msg string) string {
	s := strings.Join(strings.Fields(strings.ToLower(msg)), " ")
	return strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
