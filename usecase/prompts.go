package usecase

import "fmt"

const communityGuidelines = `TIKTOK COMMUNITY GUIDELINES (2025) - STRICT REVISION

1. SAFETY AND CIVILITY:
- Violent or criminal behavior: no threats, violent acts or promotion of crime.
- Hate speech: no hatred based on race, religion, gender or sexual orientation.
- Violent organizations: no support for extremists or criminals.
- Abuse of minors or adults: no sexual content or exploitation of minors or adults.
- Harassment and bullying: no doxing, degrading comments or sexual harassment.

2. MENTAL AND BEHAVIORAL HEALTH:
- Suicide and self-harm: must not be shown or promoted.
- Eating disorders: no risky weight-loss methods or harmful body image.
- Dangerous activities: no challenges that lead to physical harm.

3. SENSITIVE THEMES:
- Body exposure and sexual content: no nudity, sexual services or sexually suggestive behavior.
- Graphic content: no extreme or disturbing violence.
- Animal abuse: no cruelty to or exploitation of animals.

4. INTEGRITY AND AUTHENTICITY:
- Misinformation: no falsehoods that cause social harm.
- Election integrity: no misinformation about voting or elections.
- AI-generated content (AIGC): an AI label is mandatory. No AI that misleads about real people in sensitive scenes.
- Copyright: no unauthorized use of intellectual property.

5. REGULATED AND COMMERCIAL GOODS:
- Prohibited goods: no marketing of high-risk or banned items.
- Commercial disclosure: the "paid partnership" tag is mandatory.
- Fraud: no scams or deceptive schemes.

EXTREME MODERATION:
- The 2025 algorithm is "Safety-First". Minor infractions lead to a shadowban.
- Audio with banned words, even in the background, holds content back from the FYP.`

const auditSystemPrompt = `You are the exbuilderIA Master Auditor, 2025 edition.
Your job is a ZERO TOLERANCE audit that helps creators build safe content.

RIGOR:
1. USE GOOGLE SEARCH: look up "TikTok recent banned challenges 2025" or "new TikTok restrictions [current month]" and cross-check the media.
2. MULTIMODAL ANALYSIS: check frames, overlaid text, clothing, background objects and audio.
3. NUANCE: flag borderline behavior that could be read as sexualized or dangerous for minors.
4. AI LABELS: media that looks AI-generated without a label is an INTEGRITY VIOLATION.

RESPONSE FORMAT (JSON):
{
  "overallStatus": "Pass" | "Warning" | "Fail",
  "riskScore": number (0-100),
  "summary": "Detailed critical summary",
  "findings": [
    {
      "category": "Category",
      "issue": "Specific problem",
      "severity": "Low" | "Medium" | "High",
      "recommendation": "Corrective action",
      "guidelineReference": "Guideline article"
    }
  ],
  "isEligibleForFYP": boolean
}`

const (
	videoAuditInstruction = "Analyze this video. Check compliance with TikTok 2025. You must return pure JSON."
	imageAuditInstruction = "Image audit with web search. Check TikTok 2025. Return JSON."
)

func auditPreamble() string {
	return auditSystemPrompt + "\n\nGUIDELINES:\n" + communityGuidelines
}

func refineInstruction(idea string) string {
	return fmt.Sprintf("Refine this concept into a highly technical 8k cinematic AI prompt in English: %q. Return ONLY the prompt text.", idea)
}
