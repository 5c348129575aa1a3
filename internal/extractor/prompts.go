package extractor

const transcriptionRules = `Rules:
- Keep the reading order of the page, top to bottom and column by column.
- Use markdown: "#" for headings, "-" for list items, "|" tables with a header row.
- Prefix safety notices with "WARNING:", "CAUTION:" or "NOTE:" as printed.
- Describe images and diagrams in square brackets, e.g. [Diagram: exploded view of the filter housing with parts A to D].
- Transcribe only what is visible. A blank page has empty content; never invent text for it.`

const wholeDocumentPrompt = `You are transcribing a product manual.
Return every page of the attached PDF as {"pages": [{"page_number": <int>, "content": <string>}]}.
page_number is the physical position of the page in the file starting at 1, not the number printed on the page.
Include every page, also blank ones.
` + transcriptionRules

const pageImagePrompt = `You are transcribing one page image of a product manual.
Return {"content": <string>} holding the full text of the page.
` + transcriptionRules
