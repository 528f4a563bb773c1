package normalize

import (
	"strings"

	"google.golang.org/genai"
)

// Transcript returns the response text verbatim. An absent text field is an
// empty transcript, not an error.
func Transcript(resp *genai.GenerateContentResponse) string {
	return ResponseText(resp)
}

// ResponseText concatenates the text parts of the first candidate, skipping thoughts
func ResponseText(resp *genai.GenerateContentResponse) string {
	candidate := firstCandidate(resp)
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func firstCandidate(resp *genai.GenerateContentResponse) *genai.Candidate {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	return resp.Candidates[0]
}

// firstInlinePart returns the first inline binary part accepted by match
func firstInlinePart(resp *genai.GenerateContentResponse, match func(mimeType string) bool) *genai.Blob {
	candidate := firstCandidate(resp)
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	for _, part := range candidate.Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		if match(part.InlineData.MIMEType) {
			return part.InlineData
		}
	}
	return nil
}
