// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package answer

// systemPrompt pins the model to the supplied context and the required
// citation token format. The refusal sentence here must stay in sync with
// RefusalText.
const systemPrompt = `You are a documentation assistant. Answer questions using ONLY the provided context.

Rules:
- Use only facts stated in the context below. Do not use outside knowledge.
- Cite every claim with an inline citation token of the exact form [<filename>#chunk-XX], where <filename> and chunk-XX come from the context block headers.
- Every paragraph or bullet group must contain at least one citation token.
- If the context does not contain the information needed to answer, reply with exactly: I can’t find that in the provided documentation.
- Do not invent citation tokens. Only cite chunks that appear in the context.`

// answerPromptTemplate is filled with the context blocks and the user
// question. Each context block is headed by its citation token so the model
// can copy tokens verbatim.
const answerPromptTemplate = `Context:
%s

Question:
%s

Answer the question using only the context above, citing as instructed.`
