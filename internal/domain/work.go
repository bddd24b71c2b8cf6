package domain

// Queue keys. Every key is an independent sequential lane.
const (
	UserAPIQueue = "user-api"
	tableQueue   = "db:"
)

// TableQueue is the lane that serializes writes to one table.
func TableQueue(table string) string { return tableQueue + table }

type WriteOp string

const (
	OpInsert WriteOp = "insert"
	OpUpdate WriteOp = "update"
	OpDelete WriteOp = "delete"
)

// TableWrite is the payload queued on a table lane.
type TableWrite struct {
	Op    WriteOp
	Table string
	Data  map[string]any
	Where map[string]any
}

// VisitUpdate is the payload queued on the user-api lane.
type VisitUpdate struct {
	RecordID string
	Token    string
	Body     map[string]any
}
