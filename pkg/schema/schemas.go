package schema

// documents holds the raw JSON-schema text for each catalog key. Every
// schema follows the nullable-only-absence rule: a field that may be
// unknown is typed `["<type>", "null"]` and marked required, never marked
// optional. Enumerations are closed.
var documents = map[Key]string{
	KeyDiscover: `{
		"type": "object",
		"required": ["tickets"],
		"properties": {
			"tickets": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["id", "title", "description", "category", "priority", "complexityTier", "acceptanceCriteria", "relevantFiles", "referenceFiles"],
					"properties": {
						"id": {"type": "string"},
						"title": {"type": "string"},
						"description": {"type": "string"},
						"category": {"type": "string"},
						"priority": {"type": "string", "enum": ["critical", "high", "medium", "low"]},
						"complexityTier": {"type": "string", "enum": ["trivial", "small", "medium", "large"]},
						"acceptanceCriteria": {"type": ["array", "null"], "items": {"type": "string"}},
						"relevantFiles": {"type": ["array", "null"], "items": {"type": "string"}},
						"referenceFiles": {"type": ["array", "null"], "items": {"type": "string"}}
					}
				}
			}
		}
	}`,
	KeyResearch: `{
		"type": "object",
		"required": ["findings", "openQuestions", "status"],
		"properties": {
			"findings": {"type": "string"},
			"openQuestions": {"type": ["array", "null"], "items": {"type": "string"}},
			"status": {"type": "string", "enum": ["partial", "complete", "blocked"]}
		}
	}`,
	KeyPlan: `{
		"type": "object",
		"required": ["summary", "steps", "status"],
		"properties": {
			"summary": {"type": "string"},
			"steps": {"type": "array", "items": {"type": "string"}},
			"status": {"type": "string", "enum": ["partial", "complete", "blocked"]}
		}
	}`,
	KeyImplement: `{
		"type": "object",
		"required": ["summary", "filesChanged", "status"],
		"properties": {
			"summary": {"type": "string"},
			"filesChanged": {"type": "array", "items": {"type": "string"}},
			"status": {"type": "string", "enum": ["partial", "complete", "blocked"]}
		}
	}`,
	KeyTestResults: `{
		"type": "object",
		"required": ["passed", "summary", "failures"],
		"properties": {
			"passed": {"type": "boolean"},
			"summary": {"type": "string"},
			"failures": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	KeyBuildVerify: `{
		"type": "object",
		"required": ["passed", "output"],
		"properties": {
			"passed": {"type": "boolean"},
			"output": {"type": "string"}
		}
	}`,
	KeySpecReview: `{
		"type": "object",
		"required": ["severity", "findings"],
		"properties": {
			"severity": {"type": "string", "enum": ["none", "minor", "major", "critical"]},
			"findings": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	KeyCodeReview: `{
		"type": "object",
		"required": ["severity", "findings"],
		"properties": {
			"severity": {"type": "string", "enum": ["none", "minor", "major", "critical"]},
			"findings": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	KeyReviewFix: `{
		"type": "object",
		"required": ["summary", "status"],
		"properties": {
			"summary": {"type": "string"},
			"status": {"type": "string", "enum": ["partial", "complete", "blocked"]}
		}
	}`,
	KeyReport: `{
		"type": "object",
		"required": ["summary", "landed"],
		"properties": {
			"summary": {"type": "string"},
			"landed": {"type": "boolean"}
		}
	}`,
	KeyLand: `{
		"type": "object",
		"required": ["landed", "evicted", "reason", "evictionContext"],
		"properties": {
			"landed": {"type": "string", "enum": ["yes", "no"]},
			"evicted": {"type": "string", "enum": ["yes", "no"]},
			"reason": {"type": ["string", "null"], "enum": [null, "rebase_conflict", "review_failed", "ci_failed"]},
			"evictionContext": {
				"type": ["object", "null"],
				"required": ["branchCommits", "diffSummary", "mainlineCommits"],
				"properties": {
					"branchCommits": {"type": "array", "items": {"type": "string"}},
					"diffSummary": {"type": "array", "items": {"type": "string"}},
					"mainlineCommits": {"type": "array", "items": {"type": "string"}}
				}
			}
		}
	}`,
	KeyTicketSchedule: `{
		"type": "object",
		"required": ["jobs", "rateLimitedAgents"],
		"properties": {
			"jobs": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["jobId", "jobType", "agentId", "ticketId", "focusId", "reason"],
					"properties": {
						"jobId": {"type": "string"},
						"jobType": {"type": "string"},
						"agentId": {"type": "string"},
						"ticketId": {"type": ["string", "null"]},
						"focusId": {"type": ["string", "null"]},
						"reason": {"type": "string"}
					}
				}
			},
			"rateLimitedAgents": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["agentId", "resumeAtMs"],
					"properties": {
						"agentId": {"type": "string"},
						"resumeAtMs": {"type": "integer"}
					}
				}
			}
		}
	}`,
	KeyMergeQueueResult: `{
		"type": "object",
		"required": ["ticketId", "landed", "evicted", "reason"],
		"properties": {
			"ticketId": {"type": "string"},
			"landed": {"type": "string", "enum": ["yes", "no"]},
			"evicted": {"type": "string", "enum": ["yes", "no"]},
			"reason": {"type": ["string", "null"], "enum": [null, "rebase_conflict", "review_failed", "ci_failed"]}
		}
	}`,
	KeyInterpretConfig: `{
		"type": "object",
		"required": ["summary"],
		"properties": {
			"summary": {"type": "string"}
		}
	}`,
	KeyProgress: `{
		"type": "object",
		"required": ["summary"],
		"properties": {
			"summary": {"type": "string"}
		}
	}`,
	KeyMonitor: `{
		"type": "object",
		"required": ["healthy", "notes"],
		"properties": {
			"healthy": {"type": "boolean"},
			"notes": {"type": ["string", "null"]}
		}
	}`,
	KeyCategoryReview: `{
		"type": "object",
		"required": ["severity", "findings"],
		"properties": {
			"severity": {"type": "string", "enum": ["none", "minor", "major", "critical"]},
			"findings": {"type": ["array", "null"], "items": {"type": "string"}}
		}
	}`,
	KeyIntegrationTest: `{
		"type": "object",
		"required": ["passed", "summary"],
		"properties": {
			"passed": {"type": "boolean"},
			"summary": {"type": "string"}
		}
	}`,
}
