package queue

const (
	TypeEvaluationRun = "evaluation:run"
)

type EvaluationRunPayload struct {
	RunID string `json:"run_id"`
}
