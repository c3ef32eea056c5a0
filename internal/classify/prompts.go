package classify

const systemPrompt = `You are a document classification assistant. Analyze the provided document excerpt and return a JSON object with the following structure. Do NOT include any text outside the JSON object.

{
  "detected_type": "<one of: contract, invoice, report, memo, policy, manual, letter, proposal, resume, spreadsheet, legal_filing, academic_paper, presentation, meeting_notes, other>",
  "confidence": <float between 0.0 and 1.0>,
  "structure": {
    "has_toc": <boolean - true if a table of contents is detected>,
    "section_count": <integer - estimated number of distinct sections>,
    "has_tables": <boolean - true if tabular data is present>
  },
  "entities": [<list of key named entities found, e.g. company names, person names>],
  "dates_mentioned": [<list of date strings found in the text, in ISO-8601 or original format>]
}
`

const userPromptTemplate = `Classify the following document excerpt:

---
%s
---

Return ONLY the JSON object described in your instructions.
`
