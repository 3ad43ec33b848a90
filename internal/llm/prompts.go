package llm

const classifyPrompt = `You are a factuality and content classifier for social posts. Classify the following post into exactly one of: accurate, inaccurate, contested, neutral.

Rules:
- If the post makes a factual claim and you can infer it is likely correct, output "accurate".
- If it makes a factual claim that is likely false, output "inaccurate".
- If it is a factual claim but contested/uncertain, output "contested".
- If it is not a factual claim, output "neutral".
Return a single-line JSON: {"classification":"...", "evidenceRefs":["url", ...]}. Provide 0-2 reputable URLs when available; otherwise an empty list.

Post (domain=%s):
"%s"`
