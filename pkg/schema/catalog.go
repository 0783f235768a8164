// Package schema declares the structural schema catalog — a registry
// mapping schema keys to declarative JSON-schema documents — decoupled from
// the validator implementation, and the validator that checks untyped JSON
// payloads against them.
package schema

// Key identifies one relation in the output store and one entry in the
// schema catalog. Every Task in the component tree declares exactly one Key
// as its output schema.
type Key string

const (
	KeyDiscover          Key = "discover"
	KeyResearch          Key = "research"
	KeyPlan              Key = "plan"
	KeyImplement         Key = "implement"
	KeyTestResults       Key = "test_results"
	KeyBuildVerify       Key = "build_verify"
	KeySpecReview        Key = "spec_review"
	KeyCodeReview        Key = "code_review"
	KeyReviewFix         Key = "review_fix"
	KeyReport            Key = "report"
	KeyLand              Key = "land"
	KeyTicketSchedule    Key = "ticket_schedule"
	KeyMergeQueueResult  Key = "merge_queue_result"
	KeyInterpretConfig   Key = "interpret_config"
	KeyProgress          Key = "progress"
	KeyMonitor           Key = "monitor"
	KeyCategoryReview    Key = "category_review"
	KeyIntegrationTest   Key = "integration_test"
)

// AllKeys lists every schema key in the catalog, in the order new store
// tables are created in.
func AllKeys() []Key {
	return []Key{
		KeyDiscover, KeyResearch, KeyPlan, KeyImplement, KeyTestResults,
		KeyBuildVerify, KeySpecReview, KeyCodeReview, KeyReviewFix, KeyReport,
		KeyLand, KeyTicketSchedule, KeyMergeQueueResult, KeyInterpretConfig,
		KeyProgress, KeyMonitor, KeyCategoryReview, KeyIntegrationTest,
	}
}

// StageSchema maps a ticket pipeline stage name to the schema key its
// output row is validated against. Node ids follow "{ticketId}:{stage}".
var StageSchema = map[string]Key{
	"research":     KeyResearch,
	"plan":         KeyPlan,
	"implement":    KeyImplement,
	"test":         KeyTestResults,
	"build-verify": KeyBuildVerify,
	"spec-review":  KeySpecReview,
	"code-review":  KeyCodeReview,
	"review-fix":   KeyReviewFix,
	"report":       KeyReport,
	"land":         KeyLand,
}

// TableName returns the output-store table name for a schema key.
func (k Key) TableName() string {
	return "output_" + string(k)
}
