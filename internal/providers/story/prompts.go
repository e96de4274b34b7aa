package story

const systemPrompt = `You are a writer of short social stories for young children.
Write calm, concrete, first-person stories that describe one social situation,
what the child can expect, and one simple strategy. Keep sentences short and
positive. Respond with valid JSON only, matching the provided schema exactly.`

const userPromptTemplate = `Write a social story as JSON.

Child: age %d, reading level %q.
Background: %s.
Situation: %s.
Setting: %s.
Words to avoid: %s.

Schema:
{
  "meta": {"title": string, "voice_preset": string},
  "scenes": [
    {
      "id": int (0-based, sequential),
      "goal": string,
      "script": string (narration, 1-2 short sentences),
      "on_screen_text": string (one short caption line),
      "image_prompt": string (simple friendly illustration description),
      "duration_sec": int (4-8),
      "audio_ssml": string
    }
  ],
  "closing_affirmation": string,
  "srt": string (full SRT subtitle track for all scenes in order)
}

Produce 4 to 6 scenes.`
